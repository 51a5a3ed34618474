package aws

import (
	"context"
	"fmt"

	"instance-orchestrator/core/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// defaultRootDevice is used when the image does not report one
const defaultRootDevice = "/dev/sda1"

// VerifyImage checks that an AMI exists and is available in the client's
// region and returns its root device name
func (c *Client) VerifyImage(ctx context.Context, amiID string) (string, error) {
	result, err := c.ec2Client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{amiID},
		Filters: []types.Filter{
			{
				Name:   aws.String("state"),
				Values: []string{"available"},
			},
		},
	})
	if err != nil {
		return "", apperrors.Provider("ec2.DescribeImages", err)
	}

	if len(result.Images) == 0 {
		return "", fmt.Errorf("AMI %s not available in %s", amiID, c.region)
	}

	if dev := aws.ToString(result.Images[0].RootDeviceName); dev != "" {
		return dev, nil
	}
	return defaultRootDevice, nil
}

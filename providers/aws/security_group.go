package aws

import (
	"context"

	"instance-orchestrator/core/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const errCodeDuplicatePermission = "InvalidPermission.Duplicate"

// EnsureSecurityGroup finds the security group by name or creates it, then
// opens any of the given TCP ports not yet allowed from anywhere. Egress is
// left at the provider default (all traffic). Returns the group id.
func (c *Client) EnsureSecurityGroup(ctx context.Context, name string, ports []int32, tags []types.Tag) (string, error) {
	out, err := c.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		return "", apperrors.Provider("ec2.DescribeSecurityGroups", err)
	}

	var groupID string
	open := make(map[int32]bool)
	if len(out.SecurityGroups) > 0 {
		group := out.SecurityGroups[0]
		groupID = aws.ToString(group.GroupId)
		for _, perm := range group.IpPermissions {
			if !allowsAnywhere(perm) || perm.FromPort == nil || perm.ToPort == nil {
				continue
			}
			for p := *perm.FromPort; p <= *perm.ToPort; p++ {
				open[p] = true
			}
		}
	} else {
		created, err := c.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:         aws.String(name),
			Description:       aws.String("Allow inbound traffic to orchestrated instances"),
			TagSpecifications: tagSpecs(types.ResourceTypeSecurityGroup, tags),
		})
		if err != nil {
			return "", apperrors.Provider("ec2.CreateSecurityGroup", err)
		}
		groupID = aws.ToString(created.GroupId)
	}

	var missing []types.IpPermission
	for _, port := range ports {
		if open[port] {
			continue
		}
		missing = append(missing, types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		})
	}
	if len(missing) == 0 {
		return groupID, nil
	}

	_, err = c.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: missing,
	})
	if err != nil && apiErrorCode(err) != errCodeDuplicatePermission {
		return "", apperrors.Provider("ec2.AuthorizeSecurityGroupIngress", err)
	}

	return groupID, nil
}

func allowsAnywhere(perm types.IpPermission) bool {
	proto := aws.ToString(perm.IpProtocol)
	if proto != "tcp" && proto != "-1" {
		return false
	}
	for _, r := range perm.IpRanges {
		if aws.ToString(r.CidrIp) == "0.0.0.0/0" {
			return true
		}
	}
	return false
}

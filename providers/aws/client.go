package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/smithy-go"
)

// pricingRegion is the only region serving the AWS Price List API for EC2
const pricingRegion = "us-east-1"

const (
	defaultWaitMinDelay = 5 * time.Second
	defaultWaitTimeout  = 10 * time.Minute
)

// EC2API is the subset of the EC2 client used by the orchestrator
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

// PricingAPI is the subset of the Price List client used for estimates
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Client is the AWS provider client, scoped to one region and credential pair
type Client struct {
	ec2Client     EC2API
	pricingClient PricingAPI
	region        string

	waitMinDelay time.Duration
	waitTimeout  time.Duration
}

// NewClientForJob creates a client from the static credentials carried by a job
func NewClientForJob(ctx context.Context, region, accessKey, secretKey string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		ec2Client: ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		region:       region,
		waitMinDelay: defaultWaitMinDelay,
		waitTimeout:  defaultWaitTimeout,
	}, nil
}

// NewClientFromAPI creates a client over already constructed service clients
func NewClientFromAPI(ec2Client EC2API, pricingClient PricingAPI, region string) *Client {
	return &Client{
		ec2Client:     ec2Client,
		pricingClient: pricingClient,
		region:        region,
		waitMinDelay:  defaultWaitMinDelay,
		waitTimeout:   defaultWaitTimeout,
	}
}

// WithWaitTiming overrides how often and how long Up waits for a new
// instance to reach running
func (c *Client) WithWaitTiming(minDelay, timeout time.Duration) *Client {
	c.waitMinDelay = minDelay
	c.waitTimeout = timeout
	return c
}

// Region returns the region the client is bound to
func (c *Client) Region() string {
	return c.region
}

// StartInstance asks the provider to start an instance. Starting a running
// instance is a no-op on the provider side.
func (c *Client) StartInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2Client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return apperrors.Provider("ec2.StartInstances", err)
	}
	return nil
}

// StopInstance asks the provider to stop an instance
func (c *Client) StopInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return apperrors.Provider("ec2.StopInstances", err)
	}
	return nil
}

// DescribeInstance returns the current status and public address of an instance
func (c *Client) DescribeInstance(ctx context.Context, instanceID string) (*models.InstanceState, error) {
	out, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, apperrors.Provider("ec2.DescribeInstances", err)
	}

	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, apperrors.Provider("ec2.DescribeInstances", fmt.Errorf("instance %s not found", instanceID))
	}

	return instanceState(out.Reservations[0].Instances[0]), nil
}

// apiErrorCode returns the provider error code carried by err, if any
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}


package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	tagStack     = "Stack"
	tagManagedBy = "ManagedBy"
	managedBy    = "instance-orchestrator"
)

// Up converges the stack described by spec and returns its outputs.
// Instances are found by their Stack tag, so repeated runs for the same
// stack reuse the instance created by the first run.
func (c *Client) Up(ctx context.Context, spec models.StackSpec) (*models.StackOutputs, error) {
	if _, err := c.EnsureKeyPair(ctx, spec.KeyPairName, spec.PublicKey, nil); err != nil {
		return nil, fmt.Errorf("failed to ensure key pair: %w", err)
	}

	groupID, err := c.EnsureSecurityGroup(ctx, spec.SecurityGroupName, spec.IngressPorts, nameTag(spec.SecurityGroupTagName))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure security group: %w", err)
	}

	instance, err := c.findStackInstance(ctx, spec)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		rootDevice, err := c.VerifyImage(ctx, spec.ImageID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify image: %w", err)
		}
		instance, err = c.runInstance(ctx, spec, groupID, rootDevice)
		if err != nil {
			return nil, err
		}
	}

	instanceID := aws.ToString(instance.InstanceId)
	if instance.State != nil && instance.State.Name == types.InstanceStateNameStopped {
		if err := c.StartInstance(ctx, instanceID); err != nil {
			return nil, err
		}
	}

	waiter := ec2.NewInstanceRunningWaiter(c.ec2Client, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = c.waitMinDelay
		if o.MaxDelay < o.MinDelay {
			o.MaxDelay = o.MinDelay
		}
	})
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, c.waitTimeout); err != nil {
		return nil, apperrors.Provider("ec2.InstanceRunningWaiter", err)
	}

	state, err := c.DescribeInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return &models.StackOutputs{
		InstanceID:     state.InstanceID,
		PublicIP:       state.PublicIP,
		PublicHostName: state.PublicHostName,
	}, nil
}

// findStackInstance returns the instance owned by the stack, adopting the
// spec's target when one is given. Returns nil when the stack has none.
func (c *Client) findStackInstance(ctx context.Context, spec models.StackSpec) (*types.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + tagStack), Values: []string{spec.Name}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	}
	adopt := spec.Target != nil && spec.Target.InstanceID != ""
	if adopt {
		input = &ec2.DescribeInstancesInput{InstanceIds: []string{spec.Target.InstanceID}}
	}

	out, err := c.ec2Client.DescribeInstances(ctx, input)
	if err != nil {
		return nil, apperrors.Provider("ec2.DescribeInstances", err)
	}

	var instance *types.Instance
	for _, reservation := range out.Reservations {
		if len(reservation.Instances) > 0 {
			instance = &reservation.Instances[0]
			break
		}
	}

	if !adopt {
		return instance, nil
	}
	if instance == nil {
		return nil, fmt.Errorf("target instance %s not found", spec.Target.InstanceID)
	}

	_, err = c.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{spec.Target.InstanceID},
		Tags:      stackTags(spec),
	})
	if err != nil {
		return nil, apperrors.Provider("ec2.CreateTags", err)
	}
	return instance, nil
}

func (c *Client) runInstance(ctx context.Context, spec models.StackSpec, groupID, rootDevice string) (*types.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(spec.KeyPairName),
		SecurityGroupIds: []string{groupID},
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{
				DeviceName: aws.String(rootDevice),
				Ebs: &types.EbsBlockDevice{
					VolumeSize:          aws.Int32(spec.RootVolumeGiB),
					VolumeType:          types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		TagSpecifications: tagSpecs(types.ResourceTypeInstance, stackTags(spec)),
	}

	result, err := c.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, apperrors.Provider("ec2.RunInstances", err)
	}
	if len(result.Instances) == 0 {
		return nil, fmt.Errorf("failed to provision instance: provider returned no instances")
	}

	return &result.Instances[0], nil
}

func stackTags(spec models.StackSpec) []types.Tag {
	tags := []types.Tag{
		{Key: aws.String(tagStack), Value: aws.String(spec.Name)},
		{Key: aws.String(tagManagedBy), Value: aws.String(managedBy)},
	}
	return append(tags, nameTag(spec.InstanceTagName)...)
}

func nameTag(name string) []types.Tag {
	if name == "" {
		return nil
	}
	return []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
}

func instanceState(instance types.Instance) *models.InstanceState {
	state := &models.InstanceState{
		InstanceID:     aws.ToString(instance.InstanceId),
		Status:         models.InstanceStatusError,
		PublicIP:       aws.ToString(instance.PublicIpAddress),
		PublicHostName: aws.ToString(instance.PublicDnsName),
	}
	if instance.State != nil {
		state.Status = models.ParseInstanceStatus(string(instance.State.Name))
	}
	return state
}

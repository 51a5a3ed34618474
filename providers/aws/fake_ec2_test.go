package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/smithy-go"
)

// fakeEC2 is an in-memory EC2 used by the provider tests
type fakeEC2 struct {
	mu sync.Mutex

	instances map[string]*types.Instance
	keyPairs  map[string]string
	groups    map[string]*types.SecurityGroup
	images    map[string]string

	runInputs     []*ec2.RunInstancesInput
	importedKeys  []*ec2.ImportKeyPairInput
	authorized    []*ec2.AuthorizeSecurityGroupIngressInput
	taggedTargets []string

	describeErr  error
	startErr     error
	authorizeErr error
	nextID       int
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		instances: make(map[string]*types.Instance),
		keyPairs:  make(map[string]string),
		groups:    make(map[string]*types.SecurityGroup),
		images:    map[string]string{"ami-test": "/dev/xvda"},
	}
}

func (f *fakeEC2) addInstance(id string, state types.InstanceStateName, ip string, tags ...types.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = &types.Instance{
		InstanceId:      aws.String(id),
		State:           &types.InstanceState{Name: state},
		PublicIpAddress: aws.String(ip),
		PublicDnsName:   aws.String("ec2-" + ip + ".compute.amazonaws.com"),
		Tags:            tags,
	}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErr != nil {
		return nil, f.describeErr
	}

	var matched []types.Instance
	if len(in.InstanceIds) > 0 {
		for _, id := range in.InstanceIds {
			inst, ok := f.instances[id]
			if !ok {
				return nil, apiError("InvalidInstanceID.NotFound")
			}
			matched = append(matched, *inst)
		}
	} else {
		for _, inst := range f.instances {
			if matchesFilters(inst, in.Filters) {
				matched = append(matched, *inst)
			}
		}
	}

	out := &ec2.DescribeInstancesOutput{}
	if len(matched) > 0 {
		out.Reservations = []types.Reservation{{Instances: matched}}
	}
	return out, nil
}

func matchesFilters(inst *types.Instance, filters []types.Filter) bool {
	for _, f := range filters {
		name := aws.ToString(f.Name)
		var actual string
		switch {
		case name == "instance-state-name":
			actual = string(inst.State.Name)
		case len(name) > 4 && name[:4] == "tag:":
			for _, t := range inst.Tags {
				if aws.ToString(t.Key) == name[4:] {
					actual = aws.ToString(t.Value)
				}
			}
		}
		found := false
		for _, v := range f.Values {
			if v == actual {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeEC2) StartInstances(_ context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	for _, id := range in.InstanceIds {
		if inst, ok := f.instances[id]; ok {
			inst.State = &types.InstanceState{Name: types.InstanceStateNameRunning}
		}
	}
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.InstanceIds {
		if inst, ok := f.instances[id]; ok {
			inst.State = &types.InstanceState{Name: types.InstanceStateNameStopped}
		}
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runInputs = append(f.runInputs, in)
	f.nextID++
	id := fmt.Sprintf("i-new%d", f.nextID)
	inst := &types.Instance{
		InstanceId:      aws.String(id),
		State:           &types.InstanceState{Name: types.InstanceStateNameRunning},
		PublicIpAddress: aws.String("203.0.113.10"),
		PublicDnsName:   aws.String("ec2-203-0-113-10.compute.amazonaws.com"),
	}
	for _, spec := range in.TagSpecifications {
		inst.Tags = append(inst.Tags, spec.Tags...)
	}
	f.instances[id] = inst
	return &ec2.RunInstancesOutput{Instances: []types.Instance{*inst}}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Resources {
		f.taggedTargets = append(f.taggedTargets, id)
		if inst, ok := f.instances[id]; ok {
			inst.Tags = append(inst.Tags, in.Tags...)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DescribeImages(_ context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ec2.DescribeImagesOutput{}
	for _, id := range in.ImageIds {
		if dev, ok := f.images[id]; ok {
			out.Images = append(out.Images, types.Image{ImageId: aws.String(id), RootDeviceName: aws.String(dev)})
		}
	}
	return out, nil
}

func (f *fakeEC2) DescribeKeyPairs(_ context.Context, in *ec2.DescribeKeyPairsInput, _ ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ec2.DescribeKeyPairsOutput{}
	for _, name := range in.KeyNames {
		id, ok := f.keyPairs[name]
		if !ok {
			return nil, apiError(errCodeKeyPairNotFound)
		}
		out.KeyPairs = append(out.KeyPairs, types.KeyPairInfo{KeyName: aws.String(name), KeyPairId: aws.String(id)})
	}
	return out, nil
}

func (f *fakeEC2) ImportKeyPair(_ context.Context, in *ec2.ImportKeyPairInput, _ ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importedKeys = append(f.importedKeys, in)
	id := "key-" + aws.ToString(in.KeyName)
	f.keyPairs[aws.ToString(in.KeyName)] = id
	return &ec2.ImportKeyPairOutput{KeyName: in.KeyName, KeyPairId: aws.String(id)}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ec2.DescribeSecurityGroupsOutput{}
	for _, filter := range in.Filters {
		for _, name := range filter.Values {
			if g, ok := f.groups[name]; ok {
				out.SecurityGroups = append(out.SecurityGroups, *g)
			}
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "sg-" + aws.ToString(in.GroupName)
	g := &types.SecurityGroup{GroupId: aws.String(id), GroupName: in.GroupName}
	for _, spec := range in.TagSpecifications {
		g.Tags = append(g.Tags, spec.Tags...)
	}
	f.groups[aws.ToString(in.GroupName)] = g
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = append(f.authorized, in)
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	for _, g := range f.groups {
		if aws.ToString(g.GroupId) == aws.ToString(in.GroupId) {
			g.IpPermissions = append(g.IpPermissions, in.IpPermissions...)
		}
	}
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

// fakePricing returns a fixed price list
type fakePricing struct {
	priceList []string
	input     *pricing.GetProductsInput
	err       error
}

func (f *fakePricing) GetProducts(_ context.Context, in *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &pricing.GetProductsOutput{PriceList: f.priceList}, nil
}

package models

// StackSpec is the desired state of one provisioning stack: a key pair, a
// security group and a single instance
type StackSpec struct {
	Name         string
	InstanceType string
	ImageID      string
	// RootVolumeGiB is the size of the root block device
	RootVolumeGiB int32

	KeyPairName string
	// PublicKey is imported when the key pair does not exist yet
	PublicKey []byte

	SecurityGroupName    string
	SecurityGroupTagName string
	IngressPorts         []int32

	InstanceTagName string
	UserData        string

	// Target, when set, is adopted into the stack instead of launching a
	// new instance
	Target *Target
}

// StackOutputs are the provider-side outputs of a stack update
type StackOutputs struct {
	InstanceID     string
	PublicIP       string
	PublicHostName string
}

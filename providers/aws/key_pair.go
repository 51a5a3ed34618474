package aws

import (
	"context"
	"fmt"

	"instance-orchestrator/core/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const errCodeKeyPairNotFound = "InvalidKeyPair.NotFound"

// KeyPairLookup is the result of looking up a key pair by name.
// Absence is a normal outcome, not an error.
type KeyPairLookup struct {
	found     bool
	Name      string
	KeyPairID string
}

// Found reports whether the key pair exists in the region
func (l KeyPairLookup) Found() bool {
	return l.found
}

// LookupKeyPair looks up a key pair by name. A missing key pair yields a
// NotFound lookup; any other provider failure is returned as an error.
func (c *Client) LookupKeyPair(ctx context.Context, name string) (KeyPairLookup, error) {
	out, err := c.ec2Client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{name},
	})
	if err != nil {
		if apiErrorCode(err) == errCodeKeyPairNotFound {
			return KeyPairLookup{Name: name}, nil
		}
		return KeyPairLookup{}, apperrors.Provider("ec2.DescribeKeyPairs", err)
	}
	if len(out.KeyPairs) == 0 {
		return KeyPairLookup{Name: name}, nil
	}

	return KeyPairLookup{
		found:     true,
		Name:      name,
		KeyPairID: aws.ToString(out.KeyPairs[0].KeyPairId),
	}, nil
}

// EnsureKeyPair imports publicKey under name unless a key pair with that
// name already exists
func (c *Client) EnsureKeyPair(ctx context.Context, name string, publicKey []byte, tags []types.Tag) (KeyPairLookup, error) {
	lookup, err := c.LookupKeyPair(ctx, name)
	if err != nil {
		return KeyPairLookup{}, err
	}
	if lookup.Found() {
		return lookup, nil
	}
	if len(publicKey) == 0 {
		return KeyPairLookup{}, fmt.Errorf("key pair %s does not exist and no public key was provided", name)
	}

	out, err := c.ec2Client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: publicKey,
		TagSpecifications: tagSpecs(types.ResourceTypeKeyPair, tags),
	})
	if err != nil {
		return KeyPairLookup{}, apperrors.Provider("ec2.ImportKeyPair", err)
	}

	return KeyPairLookup{
		found:     true,
		Name:      name,
		KeyPairID: aws.ToString(out.KeyPairId),
	}, nil
}

func tagSpecs(resource types.ResourceType, tags []types.Tag) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []types.TagSpecification{{ResourceType: resource, Tags: tags}}
}

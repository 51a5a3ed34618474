// Package keygen generates and loads the SSH key pair used to reach
// provisioned instances.
//
// Private keys are PEM encoded (PKCS#1), public keys use the OpenSSH
// authorized_keys format expected by the provider's key pair import.
package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DefaultBits is the RSA key size used by the keygen command
const DefaultBits = 4096

// KeyPair holds an RSA key pair in ready-to-use formats
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateRSAKeyPair generates a new RSA key pair with the given bit size
func GenerateRSAKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}
	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKeyPEM,
		PublicKey:  ssh.MarshalAuthorizedKey(publicKey),
	}, nil
}

// PublicKeyFromPrivate derives the authorized_keys line for a PEM private key
func PublicKeyFromPrivate(privateKey []byte) ([]byte, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
}

// Load reads the private key at privatePath and the public key at
// publicPath. When publicPath is empty the public key is derived.
func Load(privatePath, publicPath string) (*KeyPair, error) {
	private, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var public []byte
	if publicPath != "" {
		public, err = os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
	} else {
		public, err = PublicKeyFromPrivate(private)
		if err != nil {
			return nil, err
		}
	}

	return &KeyPair{PrivateKey: private, PublicKey: public}, nil
}

// Write stores the pair as <base>.pem (0600) and <base>.pub (0644)
func (kp *KeyPair) Write(base string) (privatePath, publicPath string, err error) {
	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", "", fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	privatePath = base + ".pem"
	publicPath = base + ".pub"
	if err := os.WriteFile(privatePath, kp.PrivateKey, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, kp.PublicKey, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privatePath, publicPath, nil
}

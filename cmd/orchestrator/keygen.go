package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"instance-orchestrator/core/keygen"
)

// Keygen returns the command that writes a fresh administrative key pair
func Keygen() *cobra.Command {
	var out string
	var bits int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA key pair used to reach instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, err := keygen.GenerateRSAKeyPair(bits)
			if err != nil {
				return err
			}
			privatePath, publicPath, err := kp.Write(out)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s\n", privatePath, publicPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "orchestrator-kp", "Output path without extension")
	cmd.Flags().IntVar(&bits, "bits", keygen.DefaultBits, "RSA key size")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/credential"
)

// NewKeysCommand builds `keys generate --out dir`.
func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Token signing keys"}

	var out string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a fresh Ed25519 key pair as PEM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := credential.GenerateKeyPair()
			if err != nil {
				return err
			}
			privPath, pubPath, err := credential.WriteKeyPair(out, priv, pub)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JWT_PRIVATE_KEY_PATH=%s\nJWT_PUBLIC_KEY_PATH=%s\n", privPath, pubPath)
			return nil
		},
	}
	generate.Flags().StringVar(&out, "out", "keys", "output directory")

	cmd.AddCommand(generate)
	return cmd
}

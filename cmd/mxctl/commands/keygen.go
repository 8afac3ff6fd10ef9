package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fastprodman/moneyexchange/internal/keystore"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the server's sealed keystore",
	Long: `Generate a fresh RSA identity for the server and write it to a
password-sealed keystore file. The server loads this file at startup to
terminate TLS and to sign ledger blocks.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringP("output", "o", "server.keystore", "output path for the keystore")
	keygenCmd.Flags().StringP("name", "n", "MoneyExchangeServer", "certificate common name")
	keygenCmd.Flags().BoolP("force", "f", false, "overwrite an existing keystore")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	name, _ := cmd.Flags().GetString("name")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("keystore %q already exists, use --force to overwrite", output)
	}

	password := os.Getenv("MX_KEYSTORE_PASSWORD")
	if password == "" {
		return fmt.Errorf("MX_KEYSTORE_PASSWORD must be set")
	}

	id, err := keystore.Generate(name)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	if err := id.Save(output, password); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}

	fmt.Printf("Keystore written to %s (CN=%s)\n", output, name)

	return nil
}

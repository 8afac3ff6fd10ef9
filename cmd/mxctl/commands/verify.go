package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fastprodman/moneyexchange/internal/auth"
	"github.com/fastprodman/moneyexchange/internal/keystore"
	"github.com/fastprodman/moneyexchange/internal/ledger"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit the transaction ledger offline",
	Long: `Replay every block file in the ledger directory and check the hash
chain, the server's block signatures and each client's record signature
against the stored certificates. Exits non-zero on the first defect.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringP("data-dir", "d", ".", "server data directory")
	verifyCmd.Flags().StringP("keystore", "k", "server.keystore", "path to the server keystore")
	verifyCmd.Flags().StringP("password", "p", "", "keystore password (or MX_KEYSTORE_PASSWORD)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	keystorePath, _ := cmd.Flags().GetString("keystore")
	password, _ := cmd.Flags().GetString("password")

	if password == "" {
		password = os.Getenv("MX_KEYSTORE_PASSWORD")
	}

	id, err := keystore.Load(keystorePath, password)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}

	certs := auth.NewCertStore(
		filepath.Join(dataDir, "resources", "users.txt"),
		filepath.Join(dataDir, "certificates"),
	)

	blocks, err := ledger.Verify(filepath.Join(dataDir, "logs"), id.Public(), certs.PublicKey)
	if err != nil {
		return fmt.Errorf("ledger verification failed: %w", err)
	}

	var records uint64
	for _, b := range blocks {
		records += b.Count
	}

	fmt.Printf("Ledger OK: %d block(s), %d transaction(s)\n", len(blocks), records)

	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/spf13/cobra"
)

// validateCmd checks the configured API options without touching the network.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configured API URL and security token",
	Long: `Validate the lookup options (url, security token) and print every
violation as JSON. Exits non-zero when any rule is violated.

Examples:
  assetintel validate --url https://inventory.example.com --security-token s3cr3t
  ASSETINTEL_LOOKUP_URL=https://inventory.example.com assetintel validate`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	errs := lookup.ValidateOptions(cfg.Lookup.Options())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(errs); err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d option error(s)", len(errs))
	}
	return nil
}

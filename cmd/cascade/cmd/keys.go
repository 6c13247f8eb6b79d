package cmd

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Issue and revoke collector API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key for a collector",
	Long: `Issues a key signed with one of the configured HMAC secrets. The key is
printed once; only its HMAC is stored.`,
	RunE: runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, queries, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := queries.RevokeAPIKey(args[0]); err != nil {
			return fmt.Errorf("failed to revoke key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

func init() {
	keysCreateCmd.Flags().String("collector", "", "collector name the key is issued to (required)")
	keysCreateCmd.Flags().String("secret-id", "", "HMAC secret to sign with (required when several are configured)")
	_ = keysCreateCmd.MarkFlagRequired("collector")
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	collector, _ := cmd.Flags().GetString("collector")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	secretID, err = pickSecret(secrets, secretID)
	if err != nil {
		return err
	}

	database, queries, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	key, hash, err := auth.GenerateAPIKey(secretID, secrets[secretID])
	if err != nil {
		return err
	}
	keyID := uuid.Must(uuid.NewV7()).String()
	if err := queries.InsertAPIKey(keyID, collector, hash); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "api_key_id: %s\n", keyID)
	fmt.Fprintf(out, "collector:  %s\n", collector)
	fmt.Fprintf(out, "api_key:    %s\n", key)
	return nil
}

func pickSecret(secrets map[string][]byte, requested string) (string, error) {
	if len(secrets) == 0 {
		return "", fmt.Errorf("no HMAC secrets configured (set CASCADE_HMAC_SECRET environment variable)")
	}
	if requested != "" {
		if _, ok := secrets[requested]; !ok {
			return "", fmt.Errorf("secret_id %q not configured", requested)
		}
		return requested, nil
	}
	if len(secrets) > 1 {
		ids := make([]string, 0, len(secrets))
		for id := range secrets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return "", fmt.Errorf("several HMAC secrets configured, choose one with --secret-id: %v", ids)
	}
	for id := range secrets {
		return id, nil
	}
	return "", nil
}

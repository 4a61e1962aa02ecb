package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/oauth"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored calendar credentials",
	}
	cmd.AddCommand(newCredentialsImportCmd())
	cmd.AddCommand(newCredentialsRevokeCmd())
	cmd.AddCommand(newGenerateKeyCmd())
	return cmd
}

// openManager opens the configured store behind a token manager. Import and
// revoke need no OAuth client registration.
func openManager(ctx context.Context, cmd *cobra.Command, storage *storageFlags) (*oauth.Manager, func(), error) {
	storage.loadEnv(cmd)
	store, err := credentials.Open(ctx, storage.config())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	cipher, err := storage.cipher()
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("credential encryption key: %w", err)
	}
	manager, err := oauth.NewManager(oauth.Config{}, store, cipher)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return manager, func() { _ = store.Close() }, nil
}

func newCredentialsImportCmd() *cobra.Command {
	var (
		storage      storageFlags
		userID       string
		provider     string
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a token pair for a user without the browser consent flow",
		Long: `Store an access/refresh token pair for a user and provider. The tokens are
encrypted with the configured key before they are written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := credentials.ParseProvider(provider)
			if err != nil {
				return err
			}
			if userID == "" || refreshToken == "" {
				return fmt.Errorf("--user and --refresh-token are required")
			}

			manager, closeStore, err := openManager(cmd.Context(), cmd, &storage)
			if err != nil {
				return err
			}
			defer closeStore()

			// Without an access token the credential is already expired and
			// the first calendar call refreshes it.
			expiresAt := time.Now().Add(expiresIn)
			if accessToken == "" {
				expiresAt = time.Now()
			}
			if err := manager.Import(cmd.Context(), userID, p, accessToken, refreshToken, expiresAt); err != nil {
				return fmt.Errorf("failed to import credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s credential for %s\n", p, userID)
			return nil
		},
	}

	storage.register(cmd)
	cmd.Flags().StringVar(&userID, "user", "", "User id the credential belongs to")
	cmd.Flags().StringVar(&provider, "provider", string(credentials.ProviderGoogle), "Calendar provider: google or microsoft")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Current access token (optional)")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "Remaining validity of the access token")
	return cmd
}

func newCredentialsRevokeCmd() *cobra.Command {
	var (
		storage  storageFlags
		userID   string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete the stored credential of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := credentials.ParseProvider(provider)
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			manager, closeStore, err := openManager(cmd.Context(), cmd, &storage)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := manager.Revoke(cmd.Context(), userID, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s credential for %s\n", p, userID)
			return nil
		},
	}

	storage.register(cmd)
	cmd.Flags().StringVar(&userID, "user", "", "User id the credential belongs to")
	cmd.Flags().StringVar(&provider, "provider", string(credentials.ProviderGoogle), "Calendar provider: google or microsoft")
	return cmd
}

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a new base64 encoded encryption key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := credentials.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), credentials.KeyToBase64(key))
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-melcloud/internal/agenix"
	"github.com/joshp123/gohome-melcloud/internal/config"
	"github.com/joshp123/gohome-melcloud/internal/logging"
	"github.com/joshp123/gohome-melcloud/internal/oauth"
	"github.com/joshp123/gohome-melcloud/plugins/melcloud"
)

const providerID = "melcloud"

var (
	tokenJSON       bool
	tokenPrintToken bool
	tokenTimeout    time.Duration
	persistFile     string
	agenixRepo      string
	agenixSecret    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and manage the persisted MELCloud refresh token",
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the refresh token comes from and when it last rotated",
	RunE:  runTokenStatus,
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token now and persist the rotated token",
	RunE:  runTokenRefresh,
}

var tokenPersistCmd = &cobra.Command{
	Use:   "persist",
	Short: "Store a refresh token obtained out of band",
	Long: `Store a refresh token obtained out of band (for example captured from the
mobile app login) as the persisted state, mirroring it to blob storage when
configured. The token is read from --file, or stdin when --file is "-".`,
	RunE: runTokenPersist,
}

type tokenOutput struct {
	Provider     string    `json:"provider"`
	Source       string    `json:"source"`
	StatePath    string    `json:"state_path"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Status       string    `json:"status,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
}

func init() {
	tokenCmd.PersistentFlags().BoolVar(&tokenJSON, "json", false, "Output JSON to stdout")
	tokenCmd.PersistentFlags().BoolVar(&tokenPrintToken, "print-token", false, "Include refresh token in output")
	tokenRefreshCmd.Flags().DurationVar(&tokenTimeout, "timeout", 30*time.Second, "Timeout for the token exchange")
	tokenPersistCmd.Flags().StringVar(&persistFile, "file", "-", "File holding the refresh token")
	tokenPersistCmd.Flags().StringVar(&agenixRepo, "agenix-repo", "", "Also encrypt the token into this nix-secrets repo")
	tokenPersistCmd.Flags().StringVar(&agenixSecret, "agenix-secret", agenix.DefaultSecret, "Secret name inside the agenix repo")

	tokenCmd.AddCommand(tokenStatusCmd, tokenRefreshCmd, tokenPersistCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := tokenOutput{Provider: providerID, StatePath: cfg.OAuth.StatePath(providerID)}

	state, err := oauth.LoadState(out.StatePath)
	switch {
	case err == nil:
		out.Source = "state"
		out.UpdatedAt = state.UpdatedAt
		out.RefreshToken = state.RefreshToken
	case errors.Is(err, oauth.ErrStateNotFound):
		out.Source = "none"
		if cfg.MELCloud != nil {
			if token, err := cfg.MELCloud.ResolveRefreshToken(); err == nil && token != "" {
				out.Source = "config"
				out.RefreshToken = token
			}
		}
	default:
		return err
	}
	emitToken(out)
	return nil
}

func runTokenRefresh(cmd *cobra.Command, _ []string) error {
	cfg, persister, err := loadTokenConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), tokenTimeout)
	defer cancel()

	pluginCfg, err := melcloud.ConfigFromFile(cfg.MELCloud)
	if err != nil {
		return err
	}
	current, err := persister.Load(ctx, pluginCfg.RefreshToken)
	if err != nil {
		return err
	}

	var rotated string
	manager, err := oauth.NewManager(pluginCfg.OAuthDeclaration(), current,
		oauth.WithLogger(logging.New(debug, nil)),
		oauth.WithRotationHandler(func(ctx context.Context, token string) {
			rotated = token
			persister.Rotate(ctx, token)
		}),
	)
	if err != nil {
		return err
	}
	if _, err := manager.Refresh(ctx); err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	out := tokenOutput{
		Provider:  providerID,
		Source:    "exchange",
		StatePath: cfg.OAuth.StatePath(providerID),
		ExpiresAt: manager.ExpiresAt(),
		Status:    manager.Status().String(),
	}
	if rotated != "" {
		out.RefreshToken = rotated
		out.UpdatedAt = time.Now().UTC()
	}
	emitToken(out)
	return nil
}

func runTokenPersist(cmd *cobra.Command, _ []string) error {
	cfg, persister, err := loadTokenConfig()
	if err != nil {
		return err
	}
	var data []byte
	if persistFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(persistFile)
	}
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return oauth.ErrNoRefreshToken
	}

	persister.Rotate(cmd.Context(), token)

	if agenixRepo != "" {
		path, err := agenix.Writer{RepoPath: agenixRepo, Secret: agenixSecret}.Write(cmd.Context(), []byte(token))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "agenix secret written to %s\n", path)
	}

	state, err := oauth.LoadState(cfg.OAuth.StatePath(providerID))
	if err != nil {
		return fmt.Errorf("verify persisted state: %w", err)
	}
	emitToken(tokenOutput{
		Provider:     providerID,
		Source:       "state",
		StatePath:    cfg.OAuth.StatePath(providerID),
		UpdatedAt:    state.UpdatedAt,
		RefreshToken: state.RefreshToken,
	})
	return nil
}

func loadTokenConfig() (*config.Config, *oauth.Persister, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MELCloud == nil {
		return nil, nil, fmt.Errorf("melcloud is not configured in %s", configPath)
	}
	blobStore, err := openBlobStore(cfg)
	if err != nil && !errors.Is(err, errBlobUnavailable) {
		return nil, nil, err
	}
	log := logging.Component(logging.New(debug, nil), "oauth")
	return cfg, oauth.NewPersister(providerID, cfg.OAuth.StatePath(providerID), blobStore, log), nil
}

func emitToken(out tokenOutput) {
	if !tokenPrintToken {
		out.RefreshToken = ""
	}
	if tokenJSON {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("provider: %s\n", out.Provider)
	fmt.Printf("source: %s\n", out.Source)
	fmt.Printf("state: %s\n", out.StatePath)
	if !out.UpdatedAt.IsZero() {
		fmt.Printf("updated_at: %s\n", out.UpdatedAt.Format(time.RFC3339))
	}
	if out.Status != "" {
		fmt.Printf("status: %s\n", out.Status)
	}
	if !out.ExpiresAt.IsZero() {
		fmt.Printf("expires_at: %s\n", out.ExpiresAt.Format(time.RFC3339))
	}
	if out.RefreshToken != "" {
		fmt.Printf("refresh_token: %s\n", out.RefreshToken)
	}
}

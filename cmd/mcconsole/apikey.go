package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/mcconsole/internal/auth"
	"github.com/loykin/mcconsole/internal/config"
	"github.com/loykin/mcconsole/internal/store"
	sfactory "github.com/loykin/mcconsole/internal/store/factory"
)

// withAuthService opens the configured store and runs fn with an auth
// service bound to it.
func withAuthService(configPath string, fn func(ctx context.Context, svc *auth.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := sfactory.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return fn(ctx, auth.NewService(st))
}

func createAPIKeyCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(
		createAPIKeyGenerateCommand(flags),
		createAPIKeyListCommand(flags),
		createAPIKeyRevokeCommand(flags),
	)
	return cmd
}

func createAPIKeyGenerateCommand(flags *GlobalFlags) *cobra.Command {
	var name string
	var admin bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(flags.ConfigPath, func(ctx context.Context, svc *auth.Service) error {
				key, err := svc.Generate(ctx, name, admin)
				if err != nil {
					return err
				}
				cmd.Printf("name: %s\nkey: %s\nadmin: %v\n", name, key, admin)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name for the new key (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights (key management)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func createAPIKeyListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API key names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(flags.ConfigPath, func(ctx context.Context, svc *auth.Service) error {
				keys, err := svc.List(ctx)
				if err != nil {
					return err
				}
				if len(keys) == 0 {
					cmd.Println("no api keys")
					return nil
				}
				for _, k := range keys {
					role := "user"
					if k.Admin {
						role = "admin"
					}
					cmd.Printf("%s\t%s\t%s\n", k.Name, role, k.CreatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func createAPIKeyRevokeCommand(flags *GlobalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(flags.ConfigPath, func(ctx context.Context, svc *auth.Service) error {
				if err := svc.Revoke(ctx, name); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no api key named %q", name)
					}
					return err
				}
				cmd.Printf("revoked %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the key to revoke (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

package main

import (
	"crypto/rand"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/auth"
)

func apiKeyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage admin API keys",
	}
	cmd.AddCommand(apiKeySeedCmd(g))
	return cmd
}

func apiKeySeedCmd(g *globals) *cobra.Command {
	var (
		id     string
		name   string
		key    string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or replace an API key; a random key is generated and printed when --key is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if cfg.Auth.APIKeyPepper == "" {
				return errors.New("API key pepper is required: set SHOP_AUTH_API_KEY_PEPPER")
			}
			generated := key == ""
			if generated {
				key = "sk_" + rand.Text()
			}

			if err := b.APIKeys().Upsert(ctx, auth.APIKeyInfo{
				ID:      id,
				KeyHash: auth.HashKey([]byte(cfg.Auth.APIKeyPepper), key),
				Name:    name,
				Scopes:  scopes,
			}); err != nil {
				return errors.Wrapf(err, "upsert api key %s", id)
			}

			zctx.From(ctx).Info("API key stored",
				zap.String("id", id),
				zap.Strings("scopes", scopes),
			)
			if generated {
				// The key is not recoverable from the store.
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&id, "id", "default", "Key id")
	f.StringVar(&name, "name", "Default admin key", "Human readable key name")
	f.StringVar(&key, "key", "", "Raw key to store (generated when empty)")
	f.StringSliceVar(&scopes, "scope", []string{auth.ScopeOrdersAdmin}, "Granted scopes")
	return cmd
}

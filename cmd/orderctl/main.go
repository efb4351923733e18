// Command orderctl administers the order store: schema migration, admin API
// keys, order listing and export, and one-off payment reconciliation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront-orders/internal/app"
)

// globals holds the flags shared by every command.
type globals struct {
	driver      string
	databaseURL string
	mongoURI    string
	verbose     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "orderctl",
		Short:         "Administer the storefront order store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := newLogger(g.verbose)
			if err != nil {
				return err
			}
			cmd.SetContext(zctx.Base(cmd.Context(), lg))
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&g.driver, "driver", "", "Store driver: postgres, mongo or memory (default from SHOP_STORE_DRIVER)")
	f.StringVar(&g.databaseURL, "database-url", "", "PostgreSQL connection URL (default from SHOP_STORE_DATABASE_URL or DATABASE_URL)")
	f.StringVar(&g.mongoURI, "mongo-uri", "", "MongoDB connection URI (default from SHOP_STORE_MONGO_URI)")
	f.BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		migrateCmd(g),
		apiKeyCmd(g),
		ordersCmd(g),
		reconcileCmd(g),
	)
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return lg, nil
}

// config reads the shared configuration and applies the global overrides.
func (g *globals) config() (*appkg.Config, error) {
	cfg, err := appkg.ReadConfig()
	if err != nil {
		return nil, err
	}
	if g.driver != "" {
		cfg.Store.Driver = g.driver
	}
	if g.databaseURL != "" {
		cfg.Store.DatabaseURL = g.databaseURL
	}
	if g.mongoURI != "" {
		cfg.Store.MongoURI = g.mongoURI
	}
	return cfg, nil
}

// open reads the configuration and connects to the store.
func (g *globals) open(ctx context.Context) (*appkg.Config, *appkg.Backend, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == appkg.DriverMemory {
		return nil, nil, errors.New("the memory store is process local; choose postgres or mongo")
	}
	b, err := appkg.OpenBackend(ctx, cfg.Store)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open store")
	}
	zctx.From(ctx).Debug("Store opened", zap.String("driver", b.Driver()))
	return cfg, b, nil
}

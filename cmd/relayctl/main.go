// Command relayctl inspects and migrates the relay's registry store.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/magefree/anonrelay-server-go/internal/config"
	"github.com/magefree/anonrelay-server-go/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds state shared by the subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "relayctl",
		Short:        "Inspect and migrate the relay registry store",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "server config file to read store settings from")
	flags.String("driver", "", "store driver (file, sqlite, postgres)")
	flags.String("path", "", "store path for file and sqlite drivers")
	flags.String("dsn", "", "connection string for the postgres driver")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log store activity to stderr")

	_ = c.v.BindPFlag("store.driver", flags.Lookup("driver"))
	_ = c.v.BindPFlag("store.path", flags.Lookup("path"))
	_ = c.v.BindPFlag("store.dsn", flags.Lookup("dsn"))

	root.AddCommand(newGamesCmd(c), newDumpCmd(c), newMigrateCmd(c))
	return root
}

func (c *cli) init() error {
	defaults := config.Defaults()
	c.v.SetDefault("store.driver", defaults.Store.Driver)
	c.v.SetDefault("store.path", defaults.Store.Path)
	c.v.SetDefault("store.dsn", defaults.Store.DSN)

	for _, key := range []string{"store.driver", "store.path", "store.dsn"} {
		env := config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := c.v.BindEnv(key, env); err != nil {
			return err
		}
	}

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if c.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		c.logger = logger
	}
	return nil
}

func (c *cli) storeOptions() store.Options {
	return store.Options{
		Driver: c.v.GetString("store.driver"),
		Path:   c.v.GetString("store.path"),
		DSN:    c.v.GetString("store.dsn"),
	}
}

// load reads the snapshot from the configured store.
func (c *cli) load(ctx context.Context) (store.Snapshot, error) {
	st, err := store.Open(ctx, c.storeOptions(), c.logger)
	if err != nil {
		return store.Snapshot{}, err
	}
	defer st.Close()

	snap, err := st.Load(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("loading snapshot: %w", err)
	}
	return snap, nil
}

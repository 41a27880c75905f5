package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/magefree/anonrelay-server-go/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newGamesCmd(c *cli) *cobra.Command {
	var identities bool

	cmd := &cobra.Command{
		Use:   "games",
		Short: "List games and their aliases",
		Long: `List every game in the store with its aliases in registration order.

Examples:
  relayctl games --path data.json
  relayctl games --driver sqlite --path relay.db --identities`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, g := range snap.Games {
				names := make([]string, 0, len(g.Members))
				for _, m := range g.Members {
					if identities {
						names = append(names, m.Alias+"="+m.Identity)
					} else {
						names = append(names, m.Alias)
					}
				}
				fmt.Fprintf(out, "%s: %s\n", g.Name, strings.Join(names, " "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&identities, "identities", false, "show the identity bound to each alias")
	return cmd
}

func newDumpCmd(c *cli) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the full snapshot as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			if snap.Games == nil {
				snap.Games = []store.GameRecord{}
			}

			var body []byte
			switch strings.ToLower(format) {
			case "json":
				body, err = json.MarshalIndent(snap, "", "  ")
				if err == nil {
					body = append(body, '\n')
				}
			case "yaml", "yml":
				body, err = yaml.Marshal(snap)
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				return fmt.Errorf("encoding snapshot: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	var (
		target store.Options
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the snapshot into another store backend",
		Long: `Copy the snapshot from the configured store into another backend.

The target must be empty unless --force is given.

Examples:
  relayctl migrate --path data.json --to-driver sqlite --to-path relay.db
  relayctl migrate --driver sqlite --path relay.db --to-driver postgres --to-dsn postgres://relay@db/relay`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target.Driver == "" {
				return errors.New("--to-driver is required")
			}
			ctx := cmd.Context()

			snap, err := c.load(ctx)
			if err != nil {
				return err
			}
			if err := snap.Validate(); err != nil {
				return fmt.Errorf("source snapshot is invalid: %w", err)
			}

			dst, err := store.Open(ctx, target, c.logger)
			if err != nil {
				return err
			}
			defer dst.Close()

			existing, err := dst.Load(ctx)
			if err != nil {
				return fmt.Errorf("loading target snapshot: %w", err)
			}
			if len(existing.Games) > 0 && !force {
				return fmt.Errorf("target already holds %d games; use --force to overwrite", len(existing.Games))
			}

			if err := dst.Save(ctx, snap); err != nil {
				return fmt.Errorf("saving target snapshot: %w", err)
			}

			members := 0
			for _, g := range snap.Games {
				members += len(g.Members)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d games (%d members) to %s\n", len(snap.Games), members, target.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&target.Driver, "to-driver", "", "target store driver")
	cmd.Flags().StringVar(&target.Path, "to-path", "", "target path for file and sqlite drivers")
	cmd.Flags().StringVar(&target.DSN, "to-dsn", "", "target connection string for postgres")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a non-empty target")
	return cmd
}

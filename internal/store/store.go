// Package store persists the registry snapshot: every game with its alias to
// identity bindings in registration order. The snapshot is always written in
// full; there are no partial updates.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Member is one alias binding inside a game.
type Member struct {
	Alias    string `json:"alias" yaml:"alias"`
	Identity string `json:"identity" yaml:"identity"`
}

// GameRecord is a game and its members in registration order.
type GameRecord struct {
	Name    string   `json:"name" yaml:"name"`
	Members []Member `json:"members" yaml:"members"`
}

// Snapshot is the complete durable registry state. Games are kept in creation order.
type Snapshot struct {
	Games []GameRecord `json:"games" yaml:"games"`
}

// Game returns the record for name, if present.
func (s Snapshot) Game(name string) (GameRecord, bool) {
	for _, g := range s.Games {
		if g.Name == name {
			return g, true
		}
	}
	return GameRecord{}, false
}

// Validate checks that every game name is unique and that aliases and
// identities are each bound at most once per game.
func (s Snapshot) Validate() error {
	games := make(map[string]bool, len(s.Games))
	for _, g := range s.Games {
		if games[g.Name] {
			return fmt.Errorf("duplicate game %q", g.Name)
		}
		games[g.Name] = true

		aliases := make(map[string]bool, len(g.Members))
		identities := make(map[string]bool, len(g.Members))
		for _, m := range g.Members {
			if aliases[m.Alias] {
				return fmt.Errorf("game %q: alias %q bound twice", g.Name, m.Alias)
			}
			if identities[m.Identity] {
				return fmt.Errorf("game %q: identity %q bound twice", g.Name, m.Identity)
			}
			aliases[m.Alias] = true
			identities[m.Identity] = true
		}
	}
	return nil
}

// Store loads and saves registry snapshots.
type Store interface {
	// Load returns the last saved snapshot, or an empty one if nothing was saved yet.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the durable snapshot.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open creates the store selected by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case DriverFile, "":
		st, err = NewFileStore(opts.Path)
	case DriverSQLite:
		st, err = OpenSQLite(ctx, opts.Path)
	case DriverPostgres:
		st, err = OpenPostgres(ctx, opts.DSN)
	case DriverMemory:
		st = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	logger.Info("registry store opened",
		zap.String("driver", driver),
		zap.String("path", opts.Path),
	)
	return st, nil
}

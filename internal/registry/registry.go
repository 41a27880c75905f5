// Package registry maintains games, their alias to identity bindings and the
// ban list. All state lives behind one lock; every mutation of the bindings is
// written through to the snapshot store before it becomes visible.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magefree/anonrelay-server-go/internal/store"
	"go.uber.org/zap"
)

// Identity is the transport-supplied handle of a participant.
type Identity string

// GameListing is a game and its aliases in registration order.
type GameListing struct {
	Name    string
	Aliases []string
}

// BanEntry records a banned alias and the identity holding it when banned.
type BanEntry struct {
	Game     string
	Alias    string
	Identity Identity
	BannedAt time.Time
}

// Registry is the in-memory index over the snapshot store.
type Registry struct {
	mu     sync.RWMutex
	store  store.Store
	logger *zap.Logger

	games map[string]*bimap
	order []string // game names in creation order
	bans  []BanEntry
}

// New loads the snapshot from st and rebuilds both lookup directions.
func New(ctx context.Context, st store.Store, logger *zap.Logger) (*Registry, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	r := &Registry{
		store:  st,
		logger: logger,
		games:  make(map[string]*bimap, len(snap.Games)),
		order:  make([]string, 0, len(snap.Games)),
		bans:   make([]BanEntry, 0),
	}
	members := 0
	for _, g := range snap.Games {
		bm := newBimap()
		for _, m := range g.Members {
			bm.bind(m.Alias, Identity(m.Identity))
		}
		r.games[g.Name] = bm
		r.order = append(r.order, g.Name)
		members += len(g.Members)
	}

	logger.Info("registry loaded",
		zap.Int("games", len(r.order)),
		zap.Int("registrations", members),
	)
	return r, nil
}

// CreateGame adds an empty game.
func (r *Registry) CreateGame(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty game name", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.games[name]; exists {
		return fmt.Errorf("game %s: %w", name, ErrAlreadyExists)
	}

	snap := r.snapshotLocked()
	snap.Games = append(snap.Games, store.GameRecord{Name: name, Members: []store.Member{}})
	if err := r.saveLocked(ctx, "create game", snap); err != nil {
		return err
	}

	r.games[name] = newBimap()
	r.order = append(r.order, name)

	r.logger.Info("game created", zap.String("game", name))
	return nil
}

// DeleteGame removes a game with all its bindings and bans.
func (r *Registry) DeleteGame(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, exists := r.games[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}

	snap := r.snapshotLocked()
	games := snap.Games[:0]
	for _, g := range snap.Games {
		if g.Name != name {
			games = append(games, g)
		}
	}
	snap.Games = games
	if err := r.saveLocked(ctx, "delete game", snap); err != nil {
		return err
	}

	delete(r.games, name)
	for i, g := range r.order {
		if g == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	bans := r.bans[:0]
	for _, b := range r.bans {
		if b.Game != name {
			bans = append(bans, b)
		}
	}
	r.bans = bans

	r.logger.Info("game deleted",
		zap.String("game", name),
		zap.Int("discarded_registrations", bm.len()),
	)
	return nil
}

// Register binds alias to id in the named game.
func (r *Registry) Register(ctx context.Context, name string, id Identity, alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: empty alias", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bm, exists := r.games[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}
	if r.identityBannedLocked(name, id) {
		return fmt.Errorf("game %s: %w", name, ErrBanned)
	}
	if _, taken := bm.identity(alias); taken {
		return fmt.Errorf("alias %s in game %s: %w", alias, name, ErrAliasTaken)
	}
	if _, registered := bm.alias(id); registered {
		return fmt.Errorf("game %s: %w", name, ErrAlreadyRegistered)
	}

	snap := r.snapshotLocked()
	for i := range snap.Games {
		if snap.Games[i].Name == name {
			snap.Games[i].Members = append(snap.Games[i].Members, store.Member{Alias: alias, Identity: string(id)})
		}
	}
	if err := r.saveLocked(ctx, "register", snap); err != nil {
		return err
	}

	bm.bind(alias, id)

	r.logger.Info("alias registered",
		zap.String("game", name),
		zap.String("alias", alias),
	)
	return nil
}

// Unregister removes the binding held by id in the named game and returns the freed alias.
func (r *Registry) Unregister(ctx context.Context, name string, id Identity) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, exists := r.games[name]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}
	alias, registered := bm.alias(id)
	if !registered {
		return "", fmt.Errorf("game %s: %w", name, ErrNotRegistered)
	}
	if r.identityBannedLocked(name, id) {
		return "", fmt.Errorf("game %s: %w", name, ErrBanned)
	}

	snap := r.snapshotLocked()
	for i := range snap.Games {
		if snap.Games[i].Name != name {
			continue
		}
		members := snap.Games[i].Members[:0]
		for _, m := range snap.Games[i].Members {
			if m.Alias != alias {
				members = append(members, m)
			}
		}
		snap.Games[i].Members = members
	}
	if err := r.saveLocked(ctx, "unregister", snap); err != nil {
		return "", err
	}

	bm.unbind(id)

	r.logger.Info("alias unregistered",
		zap.String("game", name),
		zap.String("alias", alias),
	)
	return alias, nil
}

// HasGame reports whether the named game exists.
func (r *Registry) HasGame(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.games[name]
	return ok
}

// ResolveAlias returns the identity bound to alias in the named game.
func (r *Registry) ResolveAlias(name, alias string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, exists := r.games[name]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}
	id, ok := bm.identity(alias)
	if !ok {
		return "", fmt.Errorf("%w: %s in game %s", ErrAliasNotFound, alias, name)
	}
	return id, nil
}

// ResolveIdentity returns the alias held by id in the named game.
func (r *Registry) ResolveIdentity(name string, id Identity) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, exists := r.games[name]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}
	alias, ok := bm.alias(id)
	if !ok {
		return "", fmt.Errorf("game %s: %w", name, ErrNotRegistered)
	}
	return alias, nil
}

// ListGames returns every game in creation order with its aliases in registration order.
func (r *Registry) ListGames() []GameListing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listings := make([]GameListing, 0, len(r.order))
	for _, name := range r.order {
		listings = append(listings, GameListing{
			Name:    name,
			Aliases: r.games[name].aliases(),
		})
	}
	return listings
}

// Snapshot returns a copy of the state that is persisted.
func (r *Registry) Snapshot() store.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() store.Snapshot {
	games := make([]store.GameRecord, 0, len(r.order))
	for _, name := range r.order {
		bm := r.games[name]
		members := make([]store.Member, 0, bm.len())
		for _, alias := range bm.order {
			members = append(members, store.Member{Alias: alias, Identity: string(bm.byAlias[alias])})
		}
		games = append(games, store.GameRecord{Name: name, Members: members})
	}
	return store.Snapshot{Games: games}
}

func (r *Registry) saveLocked(ctx context.Context, op string, snap store.Snapshot) error {
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Error("failed to persist registry",
			zap.String("op", op),
			zap.Error(err),
		)
		return &PersistError{Op: op, Err: err}
	}
	return nil
}

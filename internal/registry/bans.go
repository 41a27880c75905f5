package registry

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Ban marks alias as banned in the named game. The binding itself stays in
// place. Banning an already banned alias refreshes the entry.
func (r *Registry) Ban(name, alias string) (BanEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, exists := r.games[name]
	if !exists {
		return BanEntry{}, fmt.Errorf("%w: %s", ErrGameNotFound, name)
	}
	id, ok := bm.identity(alias)
	if !ok {
		return BanEntry{}, fmt.Errorf("%w: %s in game %s", ErrAliasNotFound, alias, name)
	}

	entry := BanEntry{Game: name, Alias: alias, Identity: id, BannedAt: time.Now()}
	replaced := false
	for i, b := range r.bans {
		if b.Game == name && b.Alias == alias {
			r.bans[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		r.bans = append(r.bans, entry)
	}

	r.logger.Info("alias banned",
		zap.String("game", name),
		zap.String("alias", alias),
	)
	return entry, nil
}

// Unban lifts every ban on alias, whichever game it was issued in, and
// returns the number of entries removed.
func (r *Registry) Unban(alias string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.bans[:0]
	removed := 0
	for _, b := range r.bans {
		if b.Alias == alias {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	r.bans = kept

	if removed == 0 {
		return 0, fmt.Errorf("%w: %s is not banned", ErrAliasNotFound, alias)
	}

	r.logger.Info("alias unbanned",
		zap.String("alias", alias),
		zap.Int("entries", removed),
	)
	return removed, nil
}

// IsBanned reports whether alias is banned in any game.
func (r *Registry) IsBanned(alias string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bans {
		if b.Alias == alias {
			return true
		}
	}
	return false
}

// IsIdentityBanned reports whether id was banned in the named game.
func (r *Registry) IsIdentityBanned(name string, id Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identityBannedLocked(name, id)
}

func (r *Registry) identityBannedLocked(name string, id Identity) bool {
	for _, b := range r.bans {
		if b.Game == name && b.Identity == id {
			return true
		}
	}
	return false
}

// BannedAliases returns banned aliases in ban order, each listed once.
func (r *Registry) BannedAliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.bans))
	out := make([]string, 0, len(r.bans))
	for _, b := range r.bans {
		if seen[b.Alias] {
			continue
		}
		seen[b.Alias] = true
		out = append(out, b.Alias)
	}
	return out
}

// Bans returns a copy of every ban entry.
func (r *Registry) Bans() []BanEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BanEntry, len(r.bans))
	copy(out, r.bans)
	return out
}

package registry

// bimap binds aliases to identities one-to-one. Both directions and the
// registration order change together in bind and unbind only.
type bimap struct {
	byAlias    map[string]Identity
	byIdentity map[Identity]string
	order      []string
}

func newBimap() *bimap {
	return &bimap{
		byAlias:    make(map[string]Identity),
		byIdentity: make(map[Identity]string),
		order:      make([]string, 0),
	}
}

func (b *bimap) identity(alias string) (Identity, bool) {
	id, ok := b.byAlias[alias]
	return id, ok
}

func (b *bimap) alias(id Identity) (string, bool) {
	alias, ok := b.byIdentity[id]
	return alias, ok
}

// bind assumes neither alias nor id is bound; callers check first.
func (b *bimap) bind(alias string, id Identity) {
	b.byAlias[alias] = id
	b.byIdentity[id] = alias
	b.order = append(b.order, alias)
}

func (b *bimap) unbind(id Identity) (string, bool) {
	alias, ok := b.byIdentity[id]
	if !ok {
		return "", false
	}
	delete(b.byIdentity, id)
	delete(b.byAlias, alias)
	for i, a := range b.order {
		if a == alias {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return alias, true
}

func (b *bimap) aliases() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *bimap) len() int {
	return len(b.order)
}

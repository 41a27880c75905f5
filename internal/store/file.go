package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore keeps the snapshot in a JSON file shaped as
// {"game": {"alias": identity, ...}, ...}. Object key order carries the
// creation and registration order.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty snapshot path")
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the snapshot file. A missing file is an empty snapshot.
func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}

	snap, err := decodeOrdered(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", f.path, err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot %s: %w", f.path, err)
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it over the target.
func (f *FileStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeOrdered(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the file is only open during Load and Save.
func (f *FileStore) Close() error {
	return nil
}

func encodeOrdered(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range snap.Games {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, g.Name); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, m := range g.Members {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, m.Alias); err != nil {
				return nil, err
			}
			if err := writeIdentity(&buf, m.Identity); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	b, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

// writeIdentity writes numeric identities as JSON numbers so files stay
// readable by the chat-id based layout; everything else is a string.
func writeIdentity(buf *bytes.Buffer, identity string) error {
	if n, err := strconv.ParseInt(identity, 10, 64); err == nil && strconv.FormatInt(n, 10) == identity {
		buf.WriteString(identity)
		return nil
	}
	b, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func decodeOrdered(r io.Reader) (Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return Snapshot{}, err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return Snapshot{}, fmt.Errorf("game %q: %w", name, err)
		}

		game := GameRecord{Name: name, Members: []Member{}}
		for dec.More() {
			alias, err := readKey(dec)
			if err != nil {
				return Snapshot{}, fmt.Errorf("game %q: %w", name, err)
			}
			tok, err := dec.Token()
			if err != nil {
				return Snapshot{}, fmt.Errorf("game %q alias %q: %w", name, alias, err)
			}
			var identity string
			switch v := tok.(type) {
			case json.Number:
				identity = v.String()
			case string:
				identity = v
			default:
				return Snapshot{}, fmt.Errorf("game %q alias %q: unexpected identity %v", name, alias, tok)
			}
			game.Members = append(game.Members, Member{Alias: alias, Identity: identity})
		}
		if err := expectDelim(dec, '}'); err != nil {
			return Snapshot{}, fmt.Errorf("game %q: %w", name, err)
		}
		snap.Games = append(snap.Games, game)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

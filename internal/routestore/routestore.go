// Package routestore is the single durable document holding the route
// table, the node's RSA key pair, and per-topic consumer cursors. All
// mutators go through Store's exported methods, which serialise writes
// with one mutex and persist via atomic rename — the only shared
// mutable state in the system.
package routestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethdenver2026/relay/internal/models"
)

const sequencePrefix = "lastSequence_"

// document is the on-disk shape, preserved exactly for upgrade
// compatibility.
type document struct {
	Routes   map[string]string `json:"routes"`
	Metadata metadata          `json:"metadata"`
}

type metadata struct {
	RSAKeys   *models.RSAKeyPair `json:"rsaKeys"`
	Sequences map[string]int64  `json:"sequences"`
}

// legacyDocument is the old flat layout: keys alongside routes at the
// root, with rsaKeys and lastSequence_* mixed in.
type legacyDocument map[string]json.RawMessage

// Store is the durable RouteStore.
type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open loads path, migrating a legacy flat layout in place if found. If
// path does not exist, an empty document is created (not yet persisted
// until the first mutation).
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: emptyDocument()}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routestore: read %s: %w", path, err)
	}

	doc, err := parseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("routestore: parse %s: %w", path, err)
	}
	s.doc = doc

	// If the on-disk shape was legacy, rewrite it immediately in the
	// nested layout so future loads skip the migration.
	if isLegacyLayout(raw) {
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("routestore: migrate legacy layout: %w", err)
		}
	}

	return s, nil
}

func emptyDocument() document {
	return document{
		Routes: make(map[string]string),
		Metadata: metadata{
			Sequences: make(map[string]int64),
		},
	}
}

// isLegacyLayout reports whether raw is the old flat shape: it has no
// top-level "metadata" key but does have rsaKeys or lastSequence_* keys
// at the root.
func isLegacyLayout(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if _, hasMetadata := probe["metadata"]; hasMetadata {
		return false
	}
	if _, hasRSA := probe["rsaKeys"]; hasRSA {
		return true
	}
	for key := range probe {
		if strings.HasPrefix(key, sequencePrefix) {
			return true
		}
	}
	return false
}

func parseDocument(raw []byte) (document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return document{}, err
	}

	if _, hasMetadata := probe["metadata"]; hasMetadata {
		var d document
		if err := json.Unmarshal(raw, &d); err != nil {
			return document{}, err
		}
		if d.Routes == nil {
			d.Routes = make(map[string]string)
		}
		if d.Metadata.Sequences == nil {
			d.Metadata.Sequences = make(map[string]int64)
		}
		return d, nil
	}

	// Legacy flat layout.
	d := emptyDocument()
	if routesRaw, ok := probe["routes"]; ok {
		if err := json.Unmarshal(routesRaw, &d.Routes); err != nil {
			return document{}, err
		}
	}
	if rsaRaw, ok := probe["rsaKeys"]; ok {
		var keys models.RSAKeyPair
		if err := json.Unmarshal(rsaRaw, &keys); err != nil {
			return document{}, err
		}
		d.Metadata.RSAKeys = &keys
	}
	for key, value := range probe {
		if !strings.HasPrefix(key, sequencePrefix) {
			continue
		}
		var n int64
		if err := json.Unmarshal(value, &n); err != nil {
			continue
		}
		d.Metadata.Sequences[key] = n
	}
	return d, nil
}

// UpdateRoutes merges routes (lowercasing keys) into the store and
// atomically rewrites the document.
func (s *Store) UpdateRoutes(routes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, url := range routes {
		s.doc.Routes[strings.ToLower(addr)] = url
	}
	return s.persistLocked()
}

// GetTarget returns the stored URL for addr, or defaultURL if absent.
func (s *Store) GetTarget(addr string, defaultURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url, ok := s.doc.Routes[strings.ToLower(addr)]; ok {
		return url
	}
	return defaultURL
}

// Routes returns a copy of the full route table (address -> URL).
func (s *Store) Routes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.doc.Routes))
	for k, v := range s.doc.Routes {
		out[k] = v
	}
	return out
}

// RSAKeys returns the stored RSA key pair, or nil if none has been
// generated yet.
func (s *Store) RSAKeys() *models.RSAKeyPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Metadata.RSAKeys == nil {
		return nil
	}
	cp := *s.doc.Metadata.RSAKeys
	return &cp
}

// SetRSAKeys stores keys, once, and persists. Callers must not call
// this more than once per store lifetime (the pair is immutable after
// creation).
func (s *Store) SetRSAKeys(keys models.RSAKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Metadata.RSAKeys = &keys
	return s.persistLocked()
}

// Cursor returns the persisted cursor for topicID, defaulting to 1 if
// the topic has never been seen.
func (s *Store) Cursor(topicID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.doc.Metadata.Sequences[sequencePrefix+topicID]; ok {
		return uint64(v)
	}
	return 1
}

// SetCursor persists the cursor for topicID. StoreError on failure is
// fatal to the caller — the caller decides what to do.
func (s *Store) SetCursor(topicID string, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Metadata.Sequences[sequencePrefix+topicID] = int64(cursor)
	return s.persistLocked()
}

// persistLocked serialises s.doc and atomically replaces the file at
// s.path. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("routestore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("routestore: mkdir %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".routestore-*.tmp")
	if err != nil {
		return fmt.Errorf("routestore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("routestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("routestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("routestore: rename temp file: %w", err)
	}
	return nil
}

// SequenceKeyFor renders the metadata key for a topic's cursor, exposed
// for tests that assert against the on-disk document shape.
func SequenceKeyFor(topicID string) string {
	return sequencePrefix + topicID
}

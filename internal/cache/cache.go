// Package cache stores HTTP responses in named, independently versioned
// cache generations on disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/logging"
)

// Entry is one cached response.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// Store is a collection of cache generations. Each generation is a directory
// under the root; an entry is a body file plus a JSON sidecar, keyed by the
// hash of its URL. Bumping one generation name never touches the others.
type Store struct {
	root string
	log  *logging.Logger
}

// Open opens or creates a cache store rooted at dir.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Store{
		root: root,
		log:  logging.WithField("component", "cache"),
	}, nil
}

// Put stores a response copy keyed by URL in a generation, creating the
// generation on first use.
func (s *Store) Put(generation, url string, e *Entry) error {
	dir := filepath.Join(s.root, generation)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create generation %s: %w", generation, err)
	}

	e.URL = url
	e.StoredAt = time.Now().UTC()

	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	key := entryKey(url)
	if err := os.WriteFile(filepath.Join(dir, key+".body"), e.Body, 0600); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+".json"), meta, 0600); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// Match returns the stored copy for a URL, or ErrCacheMiss.
func (s *Store) Match(generation, url string) (*Entry, error) {
	key := entryKey(url)
	dir := filepath.Join(s.root, generation)

	meta, err := os.ReadFile(filepath.Join(dir, key+".json"))
	if os.IsNotExist(err) {
		return nil, core.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	e := &Entry{}
	if err := json.Unmarshal(meta, e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}

	e.Body, err = os.ReadFile(filepath.Join(dir, key+".body"))
	if os.IsNotExist(err) {
		return nil, core.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes one entry. Missing entries are not an error.
func (s *Store) Delete(generation, url string) error {
	key := entryKey(url)
	dir := filepath.Join(s.root, generation)
	os.Remove(filepath.Join(dir, key+".body"))
	os.Remove(filepath.Join(dir, key+".json"))
	return nil
}

// Precache loads the fixed shell asset list from assetsDir into a
// generation, keyed by request path. Missing assets fail the install.
func (s *Store) Precache(generation, assetsDir string, assets []string) error {
	for _, asset := range assets {
		rel := asset
		if rel == "/" {
			rel = "/index.html"
		}

		body, err := os.ReadFile(filepath.Join(assetsDir, filepath.FromSlash(rel)))
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrPrecacheAssetMissing, asset)
		}
		if err != nil {
			return fmt.Errorf("read asset %s: %w", asset, err)
		}

		header := http.Header{}
		if ct := mime.TypeByExtension(filepath.Ext(rel)); ct != "" {
			header.Set("Content-Type", ct)
		}

		if err := s.Put(generation, asset, &Entry{Status: http.StatusOK, Header: header, Body: body}); err != nil {
			return err
		}
	}

	s.log.Info("precached %d assets into %s", len(assets), generation)
	return nil
}

// Generations lists every existing generation.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// EvictExcept removes every generation whose name is not in keep, and
// returns the removed names. Current generations always survive.
func (s *Store) EvictExcept(keep ...string) ([]string, error) {
	current := make(map[string]bool, len(keep))
	for _, name := range keep {
		current[name] = true
	}

	generations, err := s.Generations()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range generations {
		if current[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return removed, fmt.Errorf("evict generation %s: %w", name, err)
		}
		s.log.Info("evicted stale cache generation %s", name)
		removed = append(removed, name)
	}
	return removed, nil
}

func entryKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

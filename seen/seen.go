package seen

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/types"
	"github.com/aquasecurity/vuln-notify/utils"
)

const DefaultFile = "seen_cves.json"

// Set holds the CVE IDs that were already handled.
// The sync loop is the only writer; the health endpoint reads it concurrently.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add marks id as seen and reports whether it was new.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns a sorted copy of the set.
func (s *Set) IDs() []string {
	s.mu.RLock()
	ids := lo.Keys(s.ids)
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// FilterNew returns the records whose ID is not in set, keeping their order.
func FilterNew(vulns []types.Vulnerability, set *Set) []types.Vulnerability {
	return lo.Filter(vulns, func(v types.Vulnerability, _ int) bool {
		return !set.Has(v.ID)
	})
}

type option func(*Store)

func WithAppFs(v afero.Fs) option {
	return func(s *Store) { s.fs = utils.NewFs(v) }
}

// Store persists a Set as a JSON array of IDs.
type Store struct {
	path string
	fs   utils.Fs
}

func NewStore(path string, opts ...option) *Store {
	if path == "" {
		path = DefaultFile
	}
	s := &Store{
		path: path,
		fs:   utils.NewFs(afero.NewOsFs()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted IDs. A missing, unreadable or corrupt file yields an empty set.
func (s *Store) Load() *Set {
	b, err := afero.ReadFile(s.fs.AppFs, s.path)
	if err != nil {
		if ok, _ := s.fs.Exists(s.path); ok {
			slog.Warn("Unable to read seen CVEs, starting empty", "path", s.path, "error", err)
		}
		return NewSet()
	}

	var ids []string
	if err = json.Unmarshal(b, &ids); err != nil {
		slog.Warn("Corrupt seen CVEs file, starting empty", "path", s.path, "error", err)
		return NewSet()
	}
	slog.Debug("Loaded seen CVEs", "path", s.path, "count", len(ids))
	return NewSet(ids...)
}

// Persist overwrites the file with the full set.
func (s *Store) Persist(set *Set) error {
	if err := s.fs.ReplaceJSON(s.path, set.IDs()); err != nil {
		return xerrors.Errorf("unable to persist seen CVEs: %w", err)
	}
	return nil
}

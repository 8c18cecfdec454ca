// Package queries implements the named-query store: parameterised SQL kept
// in external YAML records, composed at run time from a base template,
// optional dynamic-where fragments, and an optional suffix.
//
// Substitution forms inside a template:
//
//	:name    scalar bind parameter
//	@:name   IN-list expansion (scalar, slice, or nil -> (NULL))
//	#:name   raw integer interpolation
//	:name%   LIKE bind with a trailing % appended to the value
//	%:name%  LIKE bind with the value wrapped in %
package queries

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plastr/extrasolar/internal/shared"
)

// Definition is one named query as stored on disk.
type Definition struct {
	Base         string            `yaml:"base"`
	DynamicWhere map[string]string `yaml:"dynamic_where"`
	QuerySuffix  string            `yaml:"query_suffix"`
}

type queryFile struct {
	path    string
	modTime time.Time
	defs    map[string]Definition
}

// Store loads query definitions from a directory of YAML files. Files are
// stat-checked at most once per checkInterval, so editing a query on disk
// re-reads it without a restart.
type Store struct {
	mu            sync.Mutex
	dir           string
	checkInterval time.Duration
	lastCheck     time.Time
	files         []*queryFile
	defs          map[string]Definition
}

// NewStore reads every *.yaml file under dir. checkInterval of zero means
// stat on every lookup.
func NewStore(dir string, checkInterval time.Duration) (*Store, error) {
	s := &Store{dir: dir, checkInterval: checkInterval}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStoreFromFS reads query files from an embedded filesystem. Embedded
// stores never reload.
func NewStoreFromFS(fsys fs.FS) (*Store, error) {
	s := &Store{defs: make(map[string]Definition)}
	entries, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read query file %s: %w", name, err)
		}
		if err := s.mergeFile(name, raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) mergeFile(name string, raw []byte) error {
	defs := map[string]Definition{}
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("parse query file %s: %w", name, err)
	}
	for qname, def := range defs {
		if _, dup := s.defs[qname]; dup {
			return fmt.Errorf("duplicate query name %q in %s", qname, name)
		}
		s.defs[qname] = def
	}
	return nil
}

func (s *Store) loadAll() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.yaml"))
	if err != nil {
		return err
	}
	s.defs = make(map[string]Definition)
	s.files = nil
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := s.mergeFile(path, raw); err != nil {
			return err
		}
		s.files = append(s.files, &queryFile{path: path, modTime: info.ModTime()})
	}
	s.lastCheck = time.Now()
	return nil
}

// maybeReload re-reads the directory if any file's mtime changed since the
// last stat check.
func (s *Store) maybeReload() {
	if s.dir == "" {
		return
	}
	if time.Since(s.lastCheck) < s.checkInterval {
		return
	}
	s.lastCheck = time.Now()
	for _, f := range s.files {
		info, err := os.Stat(f.path)
		if err != nil || !info.ModTime().Equal(f.modTime) {
			_ = s.loadAll()
			return
		}
	}
}

// Lookup returns the named definition.
func (s *Store) Lookup(name string) (Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeReload()
	def, ok := s.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: unknown query %q", shared.ErrorImproperInvocation, name)
	}
	return def, nil
}

// Build composes the named query with params and returns positional SQL plus
// its bind arguments. Dynamic-where fragments are appended when their key is
// present in params with a truthy value; the fragment key itself is consumed
// and not bound.
func (s *Store) Build(name string, params map[string]any) (string, []any, error) {
	def, err := s.Lookup(name)
	if err != nil {
		return "", nil, err
	}

	text := def.Base
	for _, kv := range sortedWhere(def.DynamicWhere) {
		if truthy(params[kv.key]) {
			text += " " + kv.fragment
		}
	}
	if def.QuerySuffix != "" {
		text += " " + def.QuerySuffix
	}
	return bind(name, text, params)
}

type whereKV struct{ key, fragment string }

func sortedWhere(m map[string]string) []whereKV {
	kvs := make([]whereKV, 0, len(m))
	for k, v := range m {
		kvs = append(kvs, whereKV{k, v})
	}
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && kvs[j].key < kvs[j-1].key; j-- {
			kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
		}
	}
	return kvs
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

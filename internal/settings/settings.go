// Package settings is the persisted user settings store: the hint alphabet, the URL
// blacklist and per-URL additional clickable selectors.
//
// Settings live in one YAML file on an afero filesystem. URL patterns are globs where
// '*' also crosses '/'.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"hintnav-mcp-server/internal/messaging"
)

// DefaultAlphabet is the hint alphabet of a fresh store.
const DefaultAlphabet = "ASDFGHJKL"

// SelectorRule adds clickable selectors on pages matching URL.
type SelectorRule struct {
	URL       string   `yaml:"url" json:"url"`
	Selectors []string `yaml:"selectors" json:"selectors"`
}

// Settings is the persisted document.
type Settings struct {
	Alphabet string `yaml:"alphabet" json:"alphabet"`
	// Blacklist holds one URL glob per line. Blank lines and lines starting with '#'
	// are ignored.
	Blacklist           string         `yaml:"blacklist" json:"blacklist"`
	AdditionalSelectors []SelectorRule `yaml:"additional_selectors" json:"additional_selectors"`
}

// Default returns the settings of a fresh store.
func Default() Settings {
	return Settings{Alphabet: DefaultAlphabet}
}

type pattern struct {
	source string
	glob   glob.Glob
}

type selectorRule struct {
	pattern
	selectors []string
}

// Store is a Settings document backed by a file.
type Store struct {
	fs   afero.Fs
	path string

	mu        sync.RWMutex
	cur       Settings
	blacklist []pattern
	selectors []selectorRule
}

// Open loads the store at path. A missing file yields defaults.
func Open(fs afero.Fs, path string) (*Store, error) {
	return OpenWith(fs, path, Default())
}

// OpenWith is Open with the settings used when the file is missing. Fields the file
// leaves out keep their defaults too.
func OpenWith(fs afero.Fs, path string, defaults Settings) (*Store, error) {
	s := &Store{fs: fs, path: path}
	cur := defaults
	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cur); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}
	if err := s.apply(cur); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	out.AdditionalSelectors = append([]SelectorRule(nil), s.cur.AdditionalSelectors...)
	return out
}

// Update edits the settings and persists them. Invalid patterns reject the update.
func (s *Store) Update(edit func(*Settings)) error {
	next := s.Get()
	edit(&next)
	if err := s.apply(next); err != nil {
		return err
	}
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) apply(next Settings) error {
	var blacklist []pattern
	for _, src := range ParseBlacklist(next.Blacklist) {
		g, err := glob.Compile(src)
		if err != nil {
			return fmt.Errorf("blacklist pattern %q: %w", src, err)
		}
		blacklist = append(blacklist, pattern{source: src, glob: g})
	}
	var selectors []selectorRule
	for _, r := range next.AdditionalSelectors {
		g, err := glob.Compile(strings.TrimSpace(r.URL))
		if err != nil {
			return fmt.Errorf("selector url pattern %q: %w", r.URL, err)
		}
		selectors = append(selectors, selectorRule{pattern: pattern{source: r.URL, glob: g}, selectors: r.Selectors})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = next
	s.blacklist = blacklist
	s.selectors = selectors
	return nil
}

// ParseBlacklist splits blacklist text into patterns.
func ParseBlacklist(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// MatchBlacklist returns the blacklist patterns matching url.
func (s *Store) MatchBlacklist(url string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.blacklist {
		if p.glob.Match(url) {
			out = append(out, p.source)
		}
	}
	return out
}

// MatchAdditionalSelectors returns the selectors of every rule matching url, in rule
// order.
func (s *Store) MatchAdditionalSelectors(url string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, r := range s.selectors {
		if r.glob.Match(url) {
			out = append(out, r.selectors...)
		}
	}
	return out
}

// Router serves MatchBlacklist and MatchAdditionalSelectors on the broker.
func (s *Store) Router() (*messaging.Router, error) {
	r := messaging.NewRouter()
	handle := func(match func(string) []string) messaging.Handler {
		return func(_ context.Context, msg messaging.Message) (any, error) {
			req, ok := msg.Payload.(messaging.URLRequest)
			if !ok {
				return nil, fmt.Errorf("%s: unexpected payload %T", msg.Kind, msg.Payload)
			}
			return match(req.URL), nil
		}
	}
	if err := r.Handle(messaging.MatchBlacklist, handle(s.MatchBlacklist)); err != nil {
		return nil, err
	}
	if err := r.Handle(messaging.MatchAdditionalSelectors, handle(s.MatchAdditionalSelectors)); err != nil {
		return nil, err
	}
	return r, nil
}

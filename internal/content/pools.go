// Package content serves the static text pools the chat UI sprinkles around
// the transcript (greetings, cooldown notices). Pools are JSON arrays of
// strings, one file per pool, read from an afero filesystem.
package content

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Well-known pools.
const (
	PoolGreetings = "greetings"
	PoolCooldown  = "cooldown"
	PoolReconnect = "reconnect"
)

// DefaultFallback is returned for unknown or empty pools.
const DefaultFallback = "..."

var builtin = map[string][]string{
	PoolGreetings: {"Welcome to the chat.", "Say hi to the table."},
	PoolCooldown:  {"Easy there, the chat needs a breather.", "Too fast. Try again in a moment."},
	PoolReconnect: {"Connection lost, reconnecting."},
}

// Pools is safe for concurrent use.
type Pools struct {
	fs       afero.Fs
	dir      string
	fallback string
	logger   *slog.Logger

	mu    sync.RWMutex
	pools map[string][]string
}

// Option configures Pools.
type Option func(*Pools)

// WithFallback sets the string returned when a pool has no lines.
func WithFallback(s string) Option {
	return func(p *Pools) {
		p.fallback = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pools) {
		p.logger = l
	}
}

// New creates pools backed by dir on fs. An empty dir serves the built-in pools only.
func New(fs afero.Fs, dir string, opts ...Option) *Pools {
	p := &Pools{
		fs:       fs,
		dir:      dir,
		fallback: DefaultFallback,
		logger:   slog.Default().With("component", "content"),
		pools:    clonePools(builtin),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads every *.json file in the directory. Files override built-in pools
// of the same name. A file that fails to parse is skipped and logged.
func (p *Pools) Load() error {
	loaded := clonePools(builtin)
	if p.dir == "" {
		p.swap(loaded)
		return nil
	}

	entries, err := afero.ReadDir(p.fs, p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Warn("Content directory missing, using built-in pools", "dir", p.dir)
			p.swap(loaded)
			return nil
		}
		return fmt.Errorf("read content dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		lines, err := p.readPool(filepath.Join(p.dir, name))
		if err != nil {
			p.logger.Warn("Skipping content file", "file", name, "error", err)
			continue
		}
		loaded[strings.TrimSuffix(name, ".json")] = lines
	}

	p.swap(loaded)
	p.logger.Debug("Content pools loaded", "dir", p.dir, "pools", len(loaded))
	return nil
}

func (p *Pools) readPool(path string) ([]string, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	return kept, nil
}

func (p *Pools) swap(next map[string][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools = next
}

// Pick returns a random line from pool, or the fallback.
func (p *Pools) Pick(pool string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lines := p.pools[pool]
	if len(lines) == 0 {
		return p.fallback
	}
	return lines[rand.IntN(len(lines))]
}

// Lines returns a copy of the lines in pool.
func (p *Pools) Lines(pool string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.pools[pool]...)
}

// Names returns the names of all loaded pools.
func (p *Pools) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.pools))
	for name := range p.pools {
		names = append(names, name)
	}
	return names
}

func clonePools(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	return out
}

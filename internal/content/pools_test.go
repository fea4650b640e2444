package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPools_BuiltinWithoutDir(t *testing.T) {
	p := New(afero.NewMemMapFs(), "")
	require.NoError(t, p.Load())
	assert.Contains(t, builtin[PoolGreetings], p.Pick(PoolGreetings))
	assert.Equal(t, DefaultFallback, p.Pick("nothing-here"))
}

func TestPools_LoadOverridesAndSkipsBadFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/content/greetings.json", []byte(`["hello there", "  "]`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/content/taunts.json", []byte(`["nice roll"]`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/content/broken.json", []byte(`{`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/content/readme.txt", []byte(`ignored`), 0o644))

	p := New(fs, "/content", WithFallback("(silence)"))
	require.NoError(t, p.Load())

	assert.Equal(t, []string{"hello there"}, p.Lines(PoolGreetings))
	assert.Equal(t, "nice roll", p.Pick("taunts"))
	assert.Equal(t, "(silence)", p.Pick("broken"))
	assert.NotContains(t, p.Names(), "readme")
}

func TestPools_MissingDirFallsBackToBuiltin(t *testing.T) {
	p := New(afero.NewMemMapFs(), "/nope")
	require.NoError(t, p.Load())
	assert.NotEmpty(t, p.Lines(PoolCooldown))
}

func TestPools_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greetings.json")
	require.NoError(t, os.WriteFile(path, []byte(`["first"]`), 0o644))

	p := New(afero.NewOsFs(), dir)
	require.NoError(t, p.Load())
	require.Equal(t, []string{"first"}, p.Lines(PoolGreetings))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`["second"]`), 0o644)
		lines := p.Lines(PoolGreetings)
		return len(lines) == 1 && lines[0] == "second"
	}, 3*time.Second, 50*time.Millisecond)
}

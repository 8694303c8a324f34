package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlRoster = `
[[producers]]
name = "riemann_night_shift"
work_type = "riemann_zero"
min_difficulty = 10
max_difficulty = 20
min_rest = "1s"
max_rest = "2s"

[[producers]]
name = "generalist"
`

const yamlRoster = `
producers:
  - name: lattice
    work_type: lattice_crypto
    backoff_base: 5s
    backoff_max: 40s
  - name: generalist
    max_consecutive_errors: 3
`

const jsonRoster = `{"producers": [{"name": "bsd", "work_type": "birch_swinnerton_dyer", "reset_pause": "10s"}]}`

func writeRoster(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultRoster(t *testing.T) {
	r := DefaultRoster()
	require.NoError(t, r.Validate())
	require.Len(t, r.Producers, 8)

	specialized := 0
	for _, p := range r.Producers {
		if p.Specialized() {
			specialized++
			assert.Equal(t, 45*time.Second, p.BackoffBase.Duration)
			assert.Equal(t, 400*time.Second, p.BackoffMax.Duration)
			assert.Equal(t, 90*time.Second, p.ResetPause.Duration)
		} else {
			assert.Equal(t, 30*time.Second, p.BackoffBase.Duration)
			assert.Equal(t, 300*time.Second, p.BackoffMax.Duration)
			assert.Equal(t, 60*time.Second, p.ResetPause.Duration)
		}
		assert.Equal(t, 5, p.MaxConsecutiveErrors)
	}
	assert.Equal(t, 5, specialized)
}

func TestLoadRoster_Formats(t *testing.T) {
	t.Run("toml", func(t *testing.T) {
		r, err := LoadRoster(writeRoster(t, "roster.toml", tomlRoster))
		require.NoError(t, err)
		require.Len(t, r.Producers, 2)

		p := r.Producers[0]
		assert.Equal(t, "riemann_zero", p.WorkType)
		assert.Equal(t, 10, p.MinDifficulty)
		assert.Equal(t, 20, p.MaxDifficulty)
		assert.Equal(t, time.Second, p.MinRest.Duration)
		// unspecified fields inherit the specialized defaults
		assert.Equal(t, 30, p.DegradedMinDifficulty)
		assert.Equal(t, 45*time.Second, p.BackoffBase.Duration)

		g := r.Producers[1]
		assert.False(t, g.Specialized())
		assert.Equal(t, 40, g.MinDifficulty)
		assert.Equal(t, 15*time.Second, g.MinRest.Duration)
	})

	t.Run("yaml", func(t *testing.T) {
		r, err := LoadRoster(writeRoster(t, "roster.yaml", yamlRoster))
		require.NoError(t, err)
		require.Len(t, r.Producers, 2)
		assert.Equal(t, 5*time.Second, r.Producers[0].BackoffBase.Duration)
		assert.Equal(t, 40*time.Second, r.Producers[0].BackoffMax.Duration)
		assert.Equal(t, 3, r.Producers[1].MaxConsecutiveErrors)
	})

	t.Run("json", func(t *testing.T) {
		r, err := LoadRoster(writeRoster(t, "roster.json", jsonRoster))
		require.NoError(t, err)
		require.Len(t, r.Producers, 1)
		assert.Equal(t, 10*time.Second, r.Producers[0].ResetPause.Duration)
	})

	t.Run("empty path", func(t *testing.T) {
		r, err := LoadRoster("")
		require.NoError(t, err)
		assert.Len(t, r.Producers, 8)
	})
}

func TestLoadRoster_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown work type", "r.toml", "[[producers]]\nname = \"x\"\nwork_type = \"alchemy\"\n"},
		{"real-only work type", "r.toml", "[[producers]]\nname = \"x\"\nwork_type = \"collatz_verification\"\n"},
		{"inverted range", "r.toml", "[[producers]]\nname = \"x\"\nmin_difficulty = 90\nmax_difficulty = 10\n"},
		{"range above max", "r.toml", "[[producers]]\nname = \"x\"\nmin_difficulty = 10\nmax_difficulty = 5000\n"},
		{"duplicate name", "r.json", `{"producers": [{"name": "a"}, {"name": "a"}]}`},
		{"missing name", "r.json", `{"producers": [{"work_type": "yang_mills"}]}`},
		{"bad duration", "r.yaml", "producers:\n  - name: a\n    min_rest: soon\n"},
		{"unsupported format", "r.ini", "name=a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRoster(writeRoster(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadRoster(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRosterLoader_Watch(t *testing.T) {
	path := writeRoster(t, "roster.toml", tomlRoster)

	loader := NewRosterLoader(path)
	defer func() { _ = loader.Close() }()

	_, err := loader.Load()
	require.NoError(t, err)

	changes := make(chan *Roster, 4)
	loader.OnChange(func(r *Roster) { changes <- r })
	require.NoError(t, loader.Watch())

	updated := "[[producers]]\nname = \"solo\"\nwork_type = \"yang_mills\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case r := <-changes:
		require.Len(t, r.Producers, 1)
		assert.Equal(t, "solo", r.Producers[0].Name)
		assert.Equal(t, "solo", loader.Roster().Producers[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("roster change was not observed")
	}
}

func TestRosterLoader_ReloadErrorKeepsPrevious(t *testing.T) {
	path := writeRoster(t, "roster.toml", tomlRoster)
	loader := NewRosterLoader(path)
	defer func() { _ = loader.Close() }()

	_, err := loader.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[[producers]]\nname = \"\"\n"), 0o644))
	loader.reload()

	select {
	case err := <-loader.Errors():
		assert.Error(t, err)
	default:
		t.Fatal("expected a reload error")
	}
	assert.Len(t, loader.Roster().Producers, 2)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"Arthur", "Laura", "Sergio", "Larissa"}, cfg.Players)
	assert.Equal(t, 10, cfg.Rounds)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
players: [Ana, Bruno]
rounds: 3
store:
  driver: sqlite
  path: /tmp/league.db
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Bruno"}, cfg.Players)
	assert.Equal(t, 3, cfg.Rounds)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/league.db", cfg.Store.Path)
}

func TestParse_PartialDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`rounds: 5`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Rounds)
	assert.Equal(t, Default().Players, cfg.Players)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "store:\n  driver: redis"},
		{"zero rounds", "rounds: 0"},
		{"negative rounds", "rounds: -1"},
		{"single player", "players: [Arthur]"},
		{"empty player name", "players: [Arthur, '']"},
		{"duplicate player", "players: [Arthur, Arthur]"},
		{"separator in name", "players: [Arthur, Mary-Jane]"},
		{"sqlite without path", "store:\n  driver: sqlite"},
		{"nats without url", "store:\n  driver: nats"},
		{"malformed yaml", "players: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "league.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rounds: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Rounds)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

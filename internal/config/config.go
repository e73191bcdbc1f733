// Package config loads and validates the tournament configuration: the
// player roster, the match length, and the backing store. Documents are
// YAML, validated against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/pdleague/pdleague/internal/action"
)

//go:embed schema.cue
var schemaSource string

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNATS   = "nats"
)

// StoreConfig selects and parameterizes the action log backend.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path" json:"path"`
	// URL is the server address for the nats driver.
	URL string `yaml:"url" json:"url"`
}

// Config is the full tournament configuration.
type Config struct {
	Players []string    `yaml:"players" json:"players"`
	Rounds  int         `yaml:"rounds" json:"rounds"`
	Store   StoreConfig `yaml:"store" json:"store"`
}

// Default returns the stock tournament: the four-player roster, ten rounds
// per match, in-memory store.
func Default() Config {
	return Config{
		Players: []string{"Arthur", "Laura", "Sergio", "Larissa"},
		Rounds:  10,
		Store:   StoreConfig{Driver: DriverMemory},
	}
}

// Load reads and validates a YAML config file. Fields absent from the file
// keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against the embedded CUE schema, then
// applies the constraints the schema cannot express: distinct player names
// that form legal match keys, and driver-specific parameters.
func (c Config) Validate() error {
	cuectx := cuecontext.New()
	schema := cuectx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	unified := def.Unify(cuectx.Encode(c))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Every pair of players must form a canonical match key. This rejects
	// duplicates, names containing the separator, and blank names after
	// normalization.
	for i := 0; i < len(c.Players); i++ {
		for j := i + 1; j < len(c.Players); j++ {
			if _, err := action.Key(c.Players[i], c.Players[j]); err != nil {
				return fmt.Errorf("invalid config: players %q and %q: %w",
					c.Players[i], c.Players[j], err)
			}
		}
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("invalid config: store.path is required for the sqlite driver")
		}
	case DriverNATS:
		if strings.TrimSpace(c.Store.URL) == "" {
			return fmt.Errorf("invalid config: store.url is required for the nats driver")
		}
	}
	return nil
}

// HasPlayer reports whether the name is on the roster.
func (c Config) HasPlayer(name string) bool {
	for _, p := range c.Players {
		if p == name {
			return true
		}
	}
	return false
}

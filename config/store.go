package config

import "fmt"

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Backend string `json:"backend"`
	// Path is the SQLite database file.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StoreSQLite
	}
	if c.Backend == StoreSQLite && c.Path == "" {
		c.Path = "tracet.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case StoreSQLite:
		if c.Path == "" {
			return fmt.Errorf("store: path is required for sqlite")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
	return nil
}

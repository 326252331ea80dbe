package config

import "fmt"

// StoreConfig selects the snapshot store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite" or "postgres".
	Backend string `json:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `json:"path"`
	// DSN is the connection string for the postgres backend.
	DSN string `json:"dsn"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "chargelink.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("store: path is required for the sqlite backend")
		}
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store: dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("store: unknown backend %s", c.Backend)
	}
}

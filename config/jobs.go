package config

import (
	"fmt"
	"time"
)

// JobsConfig sets the background job cadence.
type JobsConfig struct {
	// CatalogSyncMinutes is the interval of the station catalog mirror.
	CatalogSyncMinutes int `json:"catalog_sync_minutes"`
	// ReconcileMinutes is the interval of the CDR reconciliation sweep.
	ReconcileMinutes int `json:"reconcile_minutes"`
}

// SetDefaults applies the production cadence.
func (c *JobsConfig) SetDefaults() {
	if c.CatalogSyncMinutes <= 0 {
		c.CatalogSyncMinutes = 30
	}
	if c.ReconcileMinutes <= 0 {
		c.ReconcileMinutes = 60
	}
}

// Validate checks the intervals.
func (c JobsConfig) Validate() error {
	if c.CatalogSyncMinutes < 1 {
		return fmt.Errorf("jobs: catalog_sync_minutes must be positive")
	}
	if c.ReconcileMinutes < 1 {
		return fmt.Errorf("jobs: reconcile_minutes must be positive")
	}
	return nil
}

// CatalogSyncInterval returns the catalog mirror cadence as a duration.
func (c JobsConfig) CatalogSyncInterval() time.Duration {
	return time.Duration(c.CatalogSyncMinutes) * time.Minute
}

// ReconcileInterval returns the reconciliation cadence as a duration.
func (c JobsConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileMinutes) * time.Minute
}

package session

import (
	"fmt"
	"time"
)

// Config defines the lifecycle engine settings loaded from configuration.
type Config struct {
	// MonitoredVehicles is the allow-list of vehicle ids the engine reacts
	// to. Events for any other vehicle are ignored.
	MonitoredVehicles []string `json:"monitored_vehicles"`
	// RadiusMeters bounds the station search around a plug-in event.
	RadiusMeters float64 `json:"radius_meters"`
	// ResolverAttempts is the number of catalog queries before giving up.
	ResolverAttempts int `json:"resolver_attempts"`
	// ResolverInitialDelaySeconds is the propagation wait before the first
	// catalog query.
	ResolverInitialDelaySeconds int `json:"resolver_initial_delay_seconds"`
	// ResolverRetryDelaySeconds is the wait between catalog queries.
	ResolverRetryDelaySeconds int `json:"resolver_retry_delay_seconds"`
	// PollIntervalSeconds is the watchdog period for active sessions.
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	// StopGraceSeconds is the delay between the vendor reporting a session
	// terminal and the engine issuing its own stop.
	StopGraceSeconds int `json:"stop_grace_seconds"`
	// FinalizeDelaySeconds is the delay before the post-stop status fetch
	// that merges billing figures and the CDR.
	FinalizeDelaySeconds int `json:"finalize_delay_seconds"`
}

// SetDefaults applies the production timings.
func (c *Config) SetDefaults() {
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = 500
	}
	if c.ResolverAttempts <= 0 {
		c.ResolverAttempts = 3
	}
	if c.ResolverInitialDelaySeconds <= 0 {
		c.ResolverInitialDelaySeconds = 3
	}
	if c.ResolverRetryDelaySeconds <= 0 {
		c.ResolverRetryDelaySeconds = 10
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 30
	}
	if c.StopGraceSeconds <= 0 {
		c.StopGraceSeconds = 10
	}
	if c.FinalizeDelaySeconds <= 0 {
		c.FinalizeDelaySeconds = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if len(c.MonitoredVehicles) == 0 {
		return fmt.Errorf("monitored_vehicles is required")
	}
	for _, v := range c.MonitoredVehicles {
		if v == "" {
			return fmt.Errorf("monitored_vehicles contains an empty id")
		}
	}
	return nil
}

// ResolverConfig derives the resolver tuning from the engine config.
func (c Config) ResolverConfig() ResolverConfig {
	return ResolverConfig{
		RadiusMeters: c.RadiusMeters,
		Attempts:     c.ResolverAttempts,
		InitialDelay: time.Duration(c.ResolverInitialDelaySeconds) * time.Second,
		RetryDelay:   time.Duration(c.ResolverRetryDelaySeconds) * time.Second,
	}
}

// PollInterval returns the watchdog period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StopGrace returns the pre-stop grace delay.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// FinalizeDelay returns the post-stop finalize delay.
func (c Config) FinalizeDelay() time.Duration {
	return time.Duration(c.FinalizeDelaySeconds) * time.Second
}

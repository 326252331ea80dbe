package cloudwise

import (
	"fmt"
	"time"

	core "github.com/omerlv/chargelink/core/cloudwise"
)

// Config defines the vendor account and connection parameters.
type Config struct {
	BaseURL  string `json:"base_url"`
	Email    string `json:"email"`
	Password string `json:"password"`
	// LoginKey is the identity-toolkit API key used by the password login.
	LoginKey string `json:"login_key"`
	// LoginURL overrides the identity-toolkit endpoint.
	LoginURL string `json:"login_url,omitempty"`

	AssetID  string `json:"asset_id"`
	BleID    string `json:"ble_id"`
	DeviceID string `json:"device_id"`

	CountryCode     string `json:"country_code"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

func (c *Config) SetDefaults() {
	if c.CountryCode == "" {
		c.CountryCode = "IL"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.TokenTTLMinutes <= 0 {
		c.TokenTTLMinutes = 60
	}
}

func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("cloudwise: base_url is required")
	case c.Email == "" || c.Password == "":
		return fmt.Errorf("cloudwise: email and password are required")
	case c.LoginKey == "":
		return fmt.Errorf("cloudwise: login_key is required")
	case c.AssetID == "":
		return fmt.Errorf("cloudwise: asset_id is required")
	}
	return nil
}

// Identity returns the device identity stamped on every command.
func (c Config) Identity() core.DeviceIdentity {
	return core.DeviceIdentity{AssetID: c.AssetID, BleID: c.BleID, DeviceID: c.DeviceID}
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) tokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

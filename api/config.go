package api

import "fmt"

// Config defines the HTTP API settings.
type Config struct {
	Addr string `json:"addr"`
	// JWTSecret signs and verifies the bearer tokens guarding /api routes.
	JWTSecret string `json:"jwt_secret"`
	// AuthDisabled turns the bearer check off for local development.
	AuthDisabled bool `json:"auth_disabled"`
}

func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

func (c Config) Validate() error {
	if !c.AuthDisabled && c.JWTSecret == "" {
		return fmt.Errorf("api: jwt_secret is required unless auth_disabled is set")
	}
	return nil
}

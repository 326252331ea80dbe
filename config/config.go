package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/omerlv/chargelink/api"
	"github.com/omerlv/chargelink/core/metrics"
	"github.com/omerlv/chargelink/core/session"
	"github.com/omerlv/chargelink/infra/cloudwise"
	"github.com/omerlv/chargelink/infra/feed"
)

type Config struct {
	Cloudwise cloudwise.Config `json:"cloudwise"`
	Feed      feed.Config      `json:"feed"`
	Engine    session.Config   `json:"engine"`
	Store     StoreConfig      `json:"store"`
	Metrics   metrics.Config   `json:"metrics"`
	API       api.Config       `json:"api"`
	Jobs      JobsConfig       `json:"jobs"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("CHARGELINK_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "chargelink_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Cloudwise.SetDefaults()
	cfg.Feed.SetDefaults()
	cfg.Engine.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.API.SetDefaults()
	cfg.Jobs.SetDefaults()
	if err := cfg.Cloudwise.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Feed.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.API.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Jobs.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

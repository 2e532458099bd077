package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "LATTICE_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Load layers configuration sources, lowest priority first: defaults, a
// config file (the given path, or the first standard location found), and
// LATTICE_ environment variables (LATTICE_SERVER_PORT -> server.port).
func Load(configPath string) (Config, error) {
	k := koanf.New(Delimiter)

	if err := k.Load(confmap.Provider(defaultsMap(), Delimiter), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	} else {
		loadDefaultFiles(k)
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", Delimiter, 1)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func defaultsMap() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"server.bind":            d.Server.Bind,
		"server.port":            d.Server.Port,
		"database.path":          d.Database.Path,
		"engine.theme":           d.Engine.Theme,
		"engine.tier":            d.Engine.Tier,
		"engine.seed":            d.Engine.Seed,
		"engine.decayminutes":    d.Engine.DecayMinutes,
		"injection.minrelevance": d.Injection.MinRelevance,
		"injection.maxcontext":   d.Injection.MaxContext,
		"injection.force":        d.Injection.Force,
	}
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return k.Load(file.Provider(path), parser)
}

func loadDefaultFiles(k *koanf.Koanf) {
	home, err := os.UserHomeDir()
	candidates := []string{
		"lattice.yaml",
		"lattice.yml",
		"lattice.json",
	}
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".lattice", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = loadFile(k, path)
			return
		}
	}
}

// Package config holds lattice configuration: defaults, optional
// yaml/json file, and LATTICE_ environment overrides, in that order.
package config

import "fmt"

// Config holds all lattice configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Engine    EngineConfig    `koanf:"engine"`
	Injection InjectionConfig `koanf:"injection"`
}

type ServerConfig struct {
	Bind string `koanf:"bind"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type EngineConfig struct {
	Theme        string `koanf:"theme"`        // governance theme; "security" enables the full outcome table
	Tier         string `koanf:"tier"`         // "free" or "premium"
	Seed         int64  `koanf:"seed"`         // 0 seeds from the clock
	DecayMinutes int    `koanf:"decayminutes"` // background decay period
}

type InjectionConfig struct {
	MinRelevance float64 `koanf:"minrelevance"`
	MaxContext   int     `koanf:"maxcontext"` // context block character cap
	Force        bool    `koanf:"force"`      // inject even below threshold
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Engine: EngineConfig{
			Theme:        "security",
			Tier:         "free",
			DecayMinutes: 5,
		},
		Injection: InjectionConfig{
			MinRelevance: 0.05,
			MaxContext:   600,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

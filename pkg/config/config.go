// Package config loads raffle-ledger settings from an optional YAML file and
// RAFFLE_* environment variables, on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Reddit      RedditConfig      `mapstructure:"reddit"`
	Parser      ParserConfig      `mapstructure:"parser"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Corrections CorrectionsConfig `mapstructure:"corrections"`
	Neo4j       Neo4jConfig       `mapstructure:"neo4j"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	CORSOrigin  string `mapstructure:"cors_origin"`
}

// RedditConfig controls fetching. IdentitiesFile points at the YAML identity
// pool; an empty value fetches directly with the default user agent.
type RedditConfig struct {
	IdentitiesFile string        `mapstructure:"identities_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Pace           time.Duration `mapstructure:"pace"`
}

type ParserConfig struct {
	TabGrace  time.Duration `mapstructure:"tab_grace"`
	HighWater int           `mapstructure:"high_water"`
	Bots      []string      `mapstructure:"bots"`
}

// ClassifierConfig selects the claim classifier. Mode is "rules" or "model".
type ClassifierConfig struct {
	Mode      string        `mapstructure:"mode"`
	OllamaURL string        `mapstructure:"ollama_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
}

// CorrectionsConfig selects the corrections backend: "", "file" or "qdrant".
type CorrectionsConfig struct {
	Backend    string  `mapstructure:"backend"`
	File       string  `mapstructure:"file"`
	QdrantAddr string  `mapstructure:"qdrant_addr"`
	Collection string  `mapstructure:"collection"`
	EmbedModel string  `mapstructure:"embed_model"`
	Dims       int     `mapstructure:"dims"`
	MinScore   float32 `mapstructure:"min_score"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// PostgresConfig enables name mapping when URL is set.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Updates string `mapstructure:"updates_subject"`
}

type WorkerConfig struct {
	Schedule    string `mapstructure:"schedule"`
	Concurrency int    `mapstructure:"concurrency"`
}

var (
	classifierModes    = map[string]bool{"rules": true, "model": true}
	correctionBackends = map[string]bool{"": true, "file": true, "qdrant": true}
)

// Load reads path (if non-empty) or a config.yaml found in the working
// directory or ./config, then applies RAFFLE_* overrides: RAFFLE_NEO4J_URL
// sets neo4j.url. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.cors_origin", "*")

	v.SetDefault("reddit.identities_file", "")
	v.SetDefault("reddit.timeout", 10*time.Second)
	v.SetDefault("reddit.pace", 500*time.Millisecond)

	v.SetDefault("parser.tab_grace", 5*time.Minute)
	v.SetDefault("parser.high_water", 25)
	v.SetDefault("parser.bots", []string{"automoderator", "takobot", "rafflebot", "pokemonrafflebot"})

	v.SetDefault("classifier.mode", "rules")
	v.SetDefault("classifier.ollama_url", "http://localhost:11434")
	v.SetDefault("classifier.model", "llama3.1:8b")
	v.SetDefault("classifier.timeout", 20*time.Second)
	v.SetDefault("classifier.batch_size", 40)

	v.SetDefault("corrections.backend", "")
	v.SetDefault("corrections.file", "corrections.json")
	v.SetDefault("corrections.qdrant_addr", "localhost:6334")
	v.SetDefault("corrections.collection", "raffle_corrections")
	v.SetDefault("corrections.embed_model", "nomic-embed-text")
	v.SetDefault("corrections.dims", 768)
	v.SetDefault("corrections.min_score", 0.92)

	v.SetDefault("neo4j.url", "neo4j://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")

	v.SetDefault("postgres.url", "")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "raffle.scan")
	v.SetDefault("nats.updates_subject", "raffle.ledger.updated")

	v.SetDefault("worker.schedule", "@every 2m")
	v.SetDefault("worker.concurrency", 4)
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	if !classifierModes[c.Classifier.Mode] {
		return fmt.Errorf("config: classifier.mode %q: want rules or model", c.Classifier.Mode)
	}
	if !correctionBackends[c.Corrections.Backend] {
		return fmt.Errorf("config: corrections.backend %q: want file, qdrant or empty", c.Corrections.Backend)
	}
	if c.Parser.HighWater <= 0 {
		return fmt.Errorf("config: parser.high_water must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker.concurrency must be positive")
	}
	if c.Reddit.Timeout <= 0 {
		return fmt.Errorf("config: reddit.timeout must be positive")
	}
	return nil
}

// Package config loads client settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/sharelink"
)

// DefaultPath is read when JOYOPI_CONFIG is unset.
const DefaultPath = "joyopi.yaml"

type Config struct {
	// Origin is the page origin the sockets live under.
	Origin      string        `yaml:"origin"`
	OfflinePoll time.Duration `yaml:"offline_poll"`
	StatusAddr  string        `yaml:"status_addr"`
	LogLevel    string        `yaml:"log_level"`

	Parrot ParrotConfig `yaml:"parrot"`
	Vote   VoteConfig   `yaml:"vote"`
	NATS   NATSConfig   `yaml:"nats"`
}

type ParrotConfig struct {
	Path      string        `yaml:"path"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Role      string        `yaml:"role"`
	SoundFile string        `yaml:"sound_file"`
	Cycle     time.Duration `yaml:"cycle"`
}

type VoteConfig struct {
	Path      string        `yaml:"path"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	// Code auto-joins a room, like opening the page with ?code=.
	Code string `yaml:"code"`
}

// NATSConfig enables notice publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Origin:      "http://localhost:8080",
		OfflinePoll: 3 * time.Second,
		LogLevel:    "info",
		Parrot: ParrotConfig{
			Path:      "/parrot-socket",
			Heartbeat: 30 * time.Second,
			Role:      "GENERAL",
			SoundFile: "footsteps.mp3",
			Cycle:     2 * time.Second,
		},
		Vote: VoteConfig{
			Path:      "/vote-socket",
			Heartbeat: 20 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "joyopi.notices",
		},
	}
}

// Path returns the config file location.
func Path() string {
	return getEnv("JOYOPI_CONFIG", DefaultPath)
}

// Load reads path over the defaults, then applies the environment. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Origin = getEnv("JOYOPI_ORIGIN", c.Origin)
	c.OfflinePoll = getEnvAsDuration("OFFLINE_POLL", c.OfflinePoll)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Parrot.Path = getEnv("PARROT_PATH", c.Parrot.Path)
	c.Parrot.Heartbeat = getEnvAsDuration("PARROT_HEARTBEAT", c.Parrot.Heartbeat)
	c.Parrot.Role = strings.ToUpper(getEnv("PARROT_ROLE", c.Parrot.Role))
	c.Parrot.SoundFile = getEnv("PARROT_SOUND_FILE", c.Parrot.SoundFile)
	c.Parrot.Cycle = getEnvAsDuration("PARROT_CYCLE", c.Parrot.Cycle)

	c.Vote.Path = getEnv("VOTE_PATH", c.Vote.Path)
	c.Vote.Heartbeat = getEnvAsDuration("VOTE_HEARTBEAT", c.Vote.Heartbeat)
	c.Vote.Code = getEnv("VOTE_CODE", c.Vote.Code)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid origin %q", c.Origin)
	}
	if c.Parrot.Heartbeat <= 0 || c.Vote.Heartbeat <= 0 {
		return errors.New("heartbeat intervals must be positive")
	}
	if c.Parrot.Role != "GENERAL" && c.Parrot.Role != "PARROT" {
		return fmt.Errorf("invalid parrot role %q", c.Parrot.Role)
	}
	if c.Vote.Code != "" && !sharelink.ValidCode(c.Vote.Code) {
		return fmt.Errorf("invalid vote code %q", c.Vote.Code)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured log level, info when unparsable.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// ParrotURL is the parrot socket address.
func (c Config) ParrotURL() (string, error) {
	return conn.SocketURL(c.Origin, c.Parrot.Path)
}

// VoteURL is the vote socket address.
func (c Config) VoteURL() (string, error) {
	return conn.SocketURL(c.Origin, c.Vote.Path)
}

// VotePage is the page address the share link is built on, carrying the
// configured code if any.
func (c Config) VotePage() string {
	page := strings.TrimRight(c.Origin, "/") + "/vote"
	if c.Vote.Code != "" {
		page += "?code=" + c.Vote.Code
	}
	return page
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides YAML-based configuration loading for labchat.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDatabaseDriver = "LABCHAT_DATABASE_DRIVER"
	EnvDatabaseDSN    = "LABCHAT_DATABASE_DSN"
	EnvPort           = "LABCHAT_PORT"
)

// Config is the top-level labchat configuration, loaded from labchat.yaml.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Directory DirectoryConfig `yaml:"directory"`
	WorkItems []WorkItem      `yaml:"work_items"`
	Seed      SeedConfig      `yaml:"seed"`
}

// ListenConfig holds the HTTP/websocket listener address.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for net/http.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// DatabaseConfig selects the GORM driver and its connection settings.
// DSN wins over the discrete MySQL fields when both are set.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ChatConfig tunes the realtime gateway.
type ChatConfig struct {
	IdentityMatch string  `yaml:"identity_match"` // "fuzzy" (default) or "exact"
	TypingRate    float64 `yaml:"typing_rate"`    // typing events per second per session; negative disables the limit
	TypingBurst   int     `yaml:"typing_burst"`
	SendBuffer    int     `yaml:"send_buffer"` // outbound frames queued per websocket
}

// ArchiveConfig controls the idle-chat archiver.
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	IdleAfter time.Duration `yaml:"idle_after"`
}

// DirectoryConfig lists the identities known to the deployment.
type DirectoryConfig struct {
	Members []Member `yaml:"members"`
}

// Member is one directory identity. An empty Scopes list means the member
// is visible in every scope.
type Member struct {
	Identity string   `yaml:"identity"`
	Category string   `yaml:"category"`
	Scopes   []string `yaml:"scopes"`
}

// WorkItem links an external work item (lab order) to its owner scope.
type WorkItem struct {
	ID    string `yaml:"id"`
	Scope string `yaml:"scope"`
	Title string `yaml:"title"`
}

// SeedConfig holds demo chats created by `labchat db init --seed`.
type SeedConfig struct {
	Chats []SeedChat `yaml:"chats"`
}

// SeedChat is a chat to create at init time.
type SeedChat struct {
	Scope        string   `yaml:"scope"`
	Kind         string   `yaml:"kind"`
	Title        string   `yaml:"title"`
	WorkItem     string   `yaml:"work_item"`
	CreatedBy    string   `yaml:"created_by"`
	Participants []string `yaml:"participants"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the process
// environment first so LABCHAT_* overrides can live there.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying
// environment overrides.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.Getenv)
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays LABCHAT_* variables on top of file values.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvDatabaseDriver); v != "" {
		c.Database.Driver = v
	}
	if v := getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvPort, err)
		}
		c.Listen.Port = port
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "labchat.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "labchat"
		}
	}
	if c.Chat.IdentityMatch == "" {
		c.Chat.IdentityMatch = "fuzzy"
	}
	if c.Chat.TypingRate == 0 {
		c.Chat.TypingRate = 5
	}
	if c.Chat.TypingBurst == 0 {
		c.Chat.TypingBurst = 10
	}
	if c.Chat.SendBuffer == 0 {
		c.Chat.SendBuffer = 128
	}
	if c.Archive.Schedule == "" {
		c.Archive.Schedule = "0 3 * * *"
	}
	if c.Archive.IdleAfter == 0 {
		c.Archive.IdleAfter = 30 * 24 * time.Hour
	}
	for i := range c.Seed.Chats {
		if c.Seed.Chats[i].Kind == "" {
			c.Seed.Chats[i].Kind = "group"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port %d is out of range", c.Listen.Port))
	}
	switch c.Chat.IdentityMatch {
	case "fuzzy", "exact":
	default:
		errs = append(errs, fmt.Sprintf("chat.identity_match %q must be fuzzy or exact", c.Chat.IdentityMatch))
	}
	if c.Archive.IdleAfter < 0 {
		errs = append(errs, "archive.idle_after must not be negative")
	}
	for i, m := range c.Directory.Members {
		if m.Identity == "" {
			errs = append(errs, fmt.Sprintf("directory.members[%d].identity is required", i))
		}
	}
	for i, w := range c.WorkItems {
		if w.ID == "" {
			errs = append(errs, fmt.Sprintf("work_items[%d].id is required", i))
		}
		if w.Scope == "" {
			errs = append(errs, fmt.Sprintf("work_items[%d].scope is required", i))
		}
	}
	for i, s := range c.Seed.Chats {
		if s.Scope == "" {
			errs = append(errs, fmt.Sprintf("seed.chats[%d].scope is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

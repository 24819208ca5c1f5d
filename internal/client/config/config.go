// Package config holds the client configuration file handling.
package config

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sproutlog/sproutlog/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".sproutlog", "config.json")
	DefaultLogFile    = filepath.Join(home, ".sproutlog", "logs", "client.log")
	DefaultDataDir    = filepath.Join(home, "Sproutlog")
	DefaultServerURL  = "https://api.sproutlog.app"

	DefaultSyncInterval = 30 * time.Second
)

type Config struct {
	DataDir      string        `json:"data_dir"`
	Email        string        `json:"email"`
	ServerURL    string        `json:"server_url"`
	AutoSync     bool          `json:"auto_sync"`
	SyncInterval time.Duration `json:"sync_interval"`

	Path string `json:"-"`
}

// Validate normalizes the config in place and rejects anything the client
// cannot start with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir %q: %w", c.DataDir, err)
	}
	c.DataDir = dataDir

	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("email %q: %w", c.Email, err)
	}

	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("server url %q: must be a http(s) url", c.ServerURL)
	}

	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path %q: %w", c.Path, err)
		}
		c.Path = path
	}
	return nil
}

func (c *Config) Save() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o644)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse %q: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape of a server config file. Zero values leave
// the corresponding Config field untouched.
type FileConfig struct {
	Listen        string `yaml:"listen,omitempty"`
	WSListen      string `yaml:"ws_listen,omitempty"`
	MetricsListen string `yaml:"metrics_listen,omitempty"`
	DBPath        string `yaml:"db_path,omitempty"`
	InviteTimeout string `yaml:"invite_timeout,omitempty"` // Go duration string, e.g. "30s"
	LogLevel      string `yaml:"log_level,omitempty"`
	LogFormat     string `yaml:"log_format,omitempty"`
}

// LoadFile reads a YAML config file and merges it over cfg. Returns the
// file's logging options alongside, since logging is configured before
// the server starts.
func LoadFile(path string, cfg Config) (Config, FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, FileConfig{}, fmt.Errorf("server: read config: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, FileConfig{}, fmt.Errorf("server: parse config: %w", err)
	}

	if fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}
	if fc.WSListen != "" {
		cfg.WSAddr = fc.WSListen
	}
	if fc.MetricsListen != "" {
		cfg.MetricsAddr = fc.MetricsListen
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.InviteTimeout != "" {
		d, err := time.ParseDuration(fc.InviteTimeout)
		if err != nil || d <= 0 {
			return cfg, fc, fmt.Errorf("server: invalid invite_timeout %q", fc.InviteTimeout)
		}
		cfg.InviteTimeout = d
	}
	return cfg, fc, nil
}

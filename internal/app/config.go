package app

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig defines how the HTTP/WebSocket backend should run. Fields are
// populated from TUNELINK_* environment variables via envconfig; flags may
// override afterwards.
type ServerConfig struct {
	Addr   string `envconfig:"ADDR" default:":8080"`
	Path   string `envconfig:"PATH" default:"/socket"`
	DBPath string `envconfig:"DB_PATH"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string `envconfig:"SERVER" default:"ws://localhost:8080/socket"`
	Username  string `envconfig:"USER"`
}

// LoadServerConfig reads TUNELINK_* environment variables.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	err := envconfig.Process("tunelink", &cfg)
	return cfg, err
}

// LoadClientConfig reads TUNELINK_* environment variables.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	err := envconfig.Process("tunelink", &cfg)
	return cfg, err
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("TUNELINK_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("TUNELINK_DATA_DIR"); env != "" {
		return filepath.Join(env, "tunelink.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tunelink", "tunelink.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Tunelink", "tunelink.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Tunelink", "tunelink.db")
		}
		return filepath.Join(home, ".local", "share", "tunelink", "tunelink.db")
	}
	return filepath.Join(".", ".tunelink", "tunelink.db")
}

// NormalizeSocketPath guarantees the websocket path starts with '/' and
// falls back to /socket when empty.
func NormalizeSocketPath(path string) string {
	if path == "" {
		return "/socket"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

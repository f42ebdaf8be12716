package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/paveurpath/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	State         StateConfig   `mapstructure:"state" yaml:"state"`
	Backend       BackendConfig `mapstructure:"backend" yaml:"backend"`
	Chat          ChatConfig    `mapstructure:"chat" yaml:"chat"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Backend modes.
const (
	BackendModeHTTP = "http"
	BackendModeMock = "mock"
)

// StateConfig controls where the session record lives.
type StateConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	Namespace    string `mapstructure:"namespace" yaml:"namespace"`
	Encrypt      bool   `mapstructure:"encrypt" yaml:"encrypt"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// BackendConfig selects and tunes the backend transport.
type BackendConfig struct {
	Mode           string `mapstructure:"mode" yaml:"mode"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	MockDelayMS    int    `mapstructure:"mock_delay_ms" yaml:"mock_delay_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ChatConfig tunes the chat controller.
type ChatConfig struct {
	FreeMessages int    `mapstructure:"free_messages" yaml:"free_messages"`
	HistoryMode  string `mapstructure:"history_mode" yaml:"history_mode"`
}

// HTTPConfig configures the local front end.
type HTTPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	BasePath   string `mapstructure:"base_path" yaml:"base_path"`
	HubHistory int    `mapstructure:"hub_history" yaml:"hub_history"`
}

// ChatSettings converts the chat section to the controller config. The
// file default is already filled in by Load, so an explicit
// free_messages of 0 means no guest messages.
func (c ChatConfig) ChatSettings() schema.ChatConfig {
	free := c.FreeMessages
	if free == 0 {
		free = schema.NoFreeMessages
	}
	return schema.ChatConfig{FreeMessages: free, HistoryMode: schema.HistoryMode(c.HistoryMode)}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		State: StateConfig{
			Dir:          filepath.Join(home, ".paveurpath", "state"),
			Namespace:    "auth-storage",
			Encrypt:      false,
			KeyStorePath: filepath.Join(home, ".paveurpath", "state", "keys.bundle"),
		},
		Backend: BackendConfig{
			Mode:           BackendModeHTTP,
			BaseURL:        "http://localhost:8000",
			MockDelayMS:    500,
			TimeoutSeconds: 0,
		},
		Chat: ChatConfig{
			FreeMessages: schema.DefaultFreeMessages,
			HistoryMode:  string(schema.HistoryLatest),
		},
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1:3000",
			BasePath:   "",
			HubHistory: 500,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".paveurpath", "config.yaml"), nil
}

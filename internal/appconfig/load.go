package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/paveurpath/schema"
)

// EnvPrefix prefixes environment overrides, e.g. PAVEURPATH_BACKEND_MODE.
const EnvPrefix = "PAVEURPATH"

// Load reads configuration from path, falling back to DefaultConfigPath.
// A missing file yields the defaults; environment variables override both.
func Load(path string) (Config, error) {
	path, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaultValues(cfg) {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := checkVersion(v); err != nil {
		return Config{}, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.State.Dir = expandEnv(cfg.State.Dir)
	cfg.State.KeyStorePath = expandEnv(cfg.State.KeyStorePath)
	cfg.Backend.BaseURL = expandEnv(cfg.Backend.BaseURL)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultConfigPath()
}

// defaultValues lists every key viper should know about, so that env
// overrides work for keys absent from the file.
func defaultValues(cfg Config) map[string]any {
	return map[string]any{
		"config_version":          cfg.ConfigVersion,
		"state.dir":               cfg.State.Dir,
		"state.namespace":         cfg.State.Namespace,
		"state.encrypt":           cfg.State.Encrypt,
		"state.key_store_path":    cfg.State.KeyStorePath,
		"backend.mode":            cfg.Backend.Mode,
		"backend.base_url":        cfg.Backend.BaseURL,
		"backend.mock_delay_ms":   cfg.Backend.MockDelayMS,
		"backend.timeout_seconds": cfg.Backend.TimeoutSeconds,
		"chat.free_messages":      cfg.Chat.FreeMessages,
		"chat.history_mode":       cfg.Chat.HistoryMode,
		"http.addr":               cfg.HTTP.Addr,
		"http.base_path":          cfg.HTTP.BasePath,
		"http.hub_history":        cfg.HTTP.HubHistory,
	}
}

func checkVersion(v *viper.Viper) error {
	if !v.InConfig("config_version") {
		return fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
	}
	if got := v.GetInt("config_version"); got != CurrentConfigVersion {
		return fmt.Errorf("unsupported config_version %d; expected %d", got, CurrentConfigVersion)
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.Backend.Mode {
	case BackendModeHTTP:
		parsed, err := url.Parse(strings.TrimSpace(cfg.Backend.BaseURL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.New("backend.base_url must include scheme and host (e.g. http://localhost:8000)")
		}
	case BackendModeMock:
	default:
		return fmt.Errorf("unsupported backend.mode %q", cfg.Backend.Mode)
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		return errors.New("backend.timeout_seconds must not be negative")
	}
	if cfg.Chat.FreeMessages < 0 {
		return errors.New("chat.free_messages must not be negative")
	}
	if _, err := schema.NormalizeChatConfig(cfg.Chat.ChatSettings()); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if strings.TrimSpace(cfg.State.Dir) == "" {
		return errors.New("state.dir is required")
	}
	if cfg.State.Encrypt && strings.TrimSpace(cfg.State.KeyStorePath) == "" {
		return errors.New("state.key_store_path is required when state.encrypt is set")
	}
	if base := strings.TrimSpace(cfg.HTTP.BasePath); strings.Contains(base, "://") || strings.ContainsAny(base, "?#") {
		return fmt.Errorf("http.base_path %q must be a plain path prefix", base)
	}
	return nil
}

// expandEnv replaces $VAR and ${VAR} from the environment. $UID and $GID
// fall back to the process ids; unknown variables are left as written.
func expandEnv(value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		switch key {
		case "":
			return ""
		case "UID":
			return strconv.Itoa(os.Getuid())
		case "GID":
			return strconv.Itoa(os.Getgid())
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to path (DefaultConfigPath when
// empty) and returns the path written.
func WriteDefault(path string, overwrite bool) (string, error) {
	path, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("# paveurpath client configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

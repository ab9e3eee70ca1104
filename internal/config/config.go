package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for VaultBot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Cache     CacheConfig     `json:"cache"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Commands  CommandsConfig  `json:"commands"`
	Transport TransportConfig `json:"transport"`
	Mirror    MirrorConfig    `json:"mirror"`
	Store     StoreConfig     `json:"store"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"` // optional log file path
	OwnerID     string `json:"ownerId"`           // the account whose deletions we watch
	Concurrency int    `json:"concurrency"`       // worker pool size for blocking handlers
}

type CacheConfig struct {
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
	RetentionMinutes     int `json:"retentionMinutes"`
}

type RecoveryConfig struct {
	SendTimeoutSeconds int `json:"sendTimeoutSeconds"`
	// MarkerTTLMinutes bounds the dedup marker set; should exceed cache
	// retention so a late duplicate signal still dedups.
	MarkerTTLMinutes int `json:"markerTtlMinutes"`
}

type CommandsConfig struct {
	Prefix        string `json:"prefix"`
	ReplySeconds  int    `json:"replySeconds"`
	AutoReply     bool   `json:"autoReply"`
	AutoReplyText string `json:"autoReplyText,omitempty"`
}

// TransportConfig configures the WhatsApp Cloud webhook transport.
type TransportConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	AppSecret        string `json:"appSecret,omitempty"`
	AccessToken      string `json:"accessToken,omitempty"`
	VerifyToken      string `json:"verifyToken,omitempty"`
	PhoneNumberID    string `json:"phoneNumberId,omitempty"`
	WebhookPath      string `json:"webhookPath"`
	SendsPerMinute   int    `json:"sendsPerMinute"` // outbound throttle; 0 disables
	APIBase          string `json:"apiBase,omitempty"`
	HistoryOnConnect bool   `json:"historyOnConnect"`
}

// MirrorConfig configures the optional Telegram copy of every recovery
// notification.
type MirrorConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.vaultbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vaultbot"
	}
	return filepath.Join(home, ".vaultbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, and validates a config file. JSON is the
// primary format; .yaml/.yml files are accepted and converted.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// decode path and one set of struct tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys (legacy YAML decode shape) into
// string keys so the value is JSON-encodable.
func normalizeYAML(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range vv {
			vv[i] = normalizeYAML(vv[i])
		}
		return vv
	default:
		return v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.Concurrency < 1 || cfg.General.Concurrency > 64 {
		errs = append(errs, "general.concurrency must be between 1 and 64")
	}

	if cfg.Cache.SweepIntervalSeconds < 1 {
		errs = append(errs, "cache.sweepIntervalSeconds must be >= 1")
	}
	if cfg.Cache.RetentionMinutes < 1 {
		errs = append(errs, "cache.retentionMinutes must be >= 1")
	}
	if cfg.Recovery.SendTimeoutSeconds < 1 {
		errs = append(errs, "recovery.sendTimeoutSeconds must be >= 1")
	}
	if cfg.Recovery.MarkerTTLMinutes < cfg.Cache.RetentionMinutes {
		errs = append(errs, "recovery.markerTtlMinutes must be >= cache.retentionMinutes")
	}

	if cfg.Commands.Prefix == "" {
		errs = append(errs, "commands.prefix must not be empty")
	}
	if strings.ContainsAny(cfg.Commands.Prefix, " \t\n") {
		errs = append(errs, "commands.prefix must not contain whitespace")
	}

	if cfg.Transport.Port < 0 || cfg.Transport.Port > 65535 {
		errs = append(errs, "transport.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Transport.WebhookPath, "/") {
		errs = append(errs, "transport.webhookPath must start with /")
	}
	if cfg.Transport.SendsPerMinute < 0 {
		errs = append(errs, "transport.sendsPerMinute must be >= 0")
	}

	if cfg.Mirror.Enabled && cfg.Mirror.Token == "" {
		errs = append(errs, "mirror.token is required when mirror.enabled is true")
	}
	if cfg.Mirror.Enabled && cfg.Mirror.ChatID == 0 {
		errs = append(errs, "mirror.chatId is required when mirror.enabled is true")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

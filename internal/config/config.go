package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/gohome/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDataDir      = "/var/lib/gohome"
	DefaultOAuthPrefix  = "gohome-melcloud/oauth"
	DefaultTokenURL     = "https://auth.melcloudhome.com/connect/token"
	DefaultBaseURL      = "https://mobile.bff.melcloudhome.com"
	DefaultUserAgent    = "MonitorAndControl.App.Mobile/35 CFNetwork/3860.100.1 Darwin/25.0.0"
	DefaultPollInterval = 60
	MinPollInterval     = 10
	MaxPollInterval     = 3600
	DefaultTopicPrefix  = "gohome"
	DefaultRateMinute   = 30
	DefaultRateDay      = 5000
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	Core          CoreConfig      `yaml:"core"`
	OAuth         OAuthConfig     `yaml:"oauth"`
	MELCloud      *MELCloudConfig `yaml:"melcloud"`
	MQTT          *MQTTConfig     `yaml:"mqtt"`
	Cache         CacheConfig     `yaml:"cache"`
}

type CoreConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	DataDir  string `yaml:"data_dir"`

	// DashboardsDir receives the embedded dashboards for Grafana
	// provisioning. Empty disables the export.
	DashboardsDir string `yaml:"dashboards_dir"`
}

type OAuthConfig struct {
	StateDir          string `yaml:"state_dir"`
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobRegion        string `yaml:"blob_region"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
	// RefreshIntervalSeconds drives the proactive refresh loop. Zero disables it.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

type MELCloudConfig struct {
	RefreshToken        string `yaml:"refresh_token"`
	RefreshTokenFile    string `yaml:"refresh_token_file"`
	TokenURL            string `yaml:"token_url"`
	BaseURL             string `yaml:"base_url"`
	UserAgent           string `yaml:"user_agent"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	Debug               bool   `yaml:"debug"`
	FanSpeedButtons     bool   `yaml:"fan_speed_buttons"`
	VaneButtons         bool   `yaml:"vane_buttons"`

	// Zero picks a default sized for the poll interval, a negative value
	// removes the cap.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitPerDay    int `yaml:"rate_limit_per_day"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

type CacheConfig struct {
	// Path of the sqlite accessory cache. Empty disables the cache.
	Path string `yaml:"path"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DataDir == "" {
		cfg.Core.DataDir = DefaultDataDir
	}
	if cfg.OAuth.StateDir == "" {
		cfg.OAuth.StateDir = filepath.Join(cfg.Core.DataDir, "oauth")
	}
	if cfg.OAuth.BlobPrefix == "" {
		cfg.OAuth.BlobPrefix = DefaultOAuthPrefix
	}

	if m := cfg.MELCloud; m != nil {
		if m.TokenURL == "" {
			m.TokenURL = DefaultTokenURL
		}
		if m.BaseURL == "" {
			m.BaseURL = DefaultBaseURL
		}
		if m.UserAgent == "" {
			m.UserAgent = DefaultUserAgent
		}
		if m.PollIntervalSeconds == 0 {
			m.PollIntervalSeconds = DefaultPollInterval
		}
		if m.RateLimitPerMinute == 0 {
			m.RateLimitPerMinute = DefaultRateMinute
		}
		if m.RateLimitPerDay == 0 {
			m.RateLimitPerDay = DailyBudget(m.PollInterval())
		}
	}

	if q := cfg.MQTT; q != nil {
		if q.TopicPrefix == "" {
			q.TopicPrefix = DefaultTopicPrefix
		}
		if q.ClientID == "" {
			q.ClientID = "gohome-melcloud"
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	if !filepath.IsAbs(cfg.OAuth.StateDir) {
		return fmt.Errorf("oauth.state_dir must be absolute")
	}
	if cfg.OAuth.BlobEndpoint != "" || cfg.OAuth.BlobBucket != "" {
		if cfg.OAuth.BlobEndpoint == "" {
			return fmt.Errorf("oauth.blob_endpoint is required when blob_bucket is set")
		}
		if cfg.OAuth.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required when blob_endpoint is set")
		}
		if cfg.OAuth.BlobAccessKeyFile == "" || cfg.OAuth.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth blob key files are required")
		}
	}

	if m := cfg.MELCloud; m != nil {
		if m.RefreshToken != "" && m.RefreshTokenFile != "" {
			return fmt.Errorf("melcloud: set refresh_token or refresh_token_file, not both")
		}
		if m.PollIntervalSeconds < 0 {
			return fmt.Errorf("melcloud.poll_interval_seconds must be positive")
		}
	}

	if q := cfg.MQTT; q != nil && q.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.MELCloud != nil {
		enabled["melcloud"] = true
	}
	return enabled
}

// PollInterval returns the configured interval clamped to 10s..1h.
func (m MELCloudConfig) PollInterval() time.Duration {
	return ClampPollInterval(m.PollIntervalSeconds)
}

// ClampPollInterval bounds a poll interval in seconds.
func ClampPollInterval(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = DefaultPollInterval
	}
	if seconds < MinPollInterval {
		seconds = MinPollInterval
	}
	if seconds > MaxPollInterval {
		seconds = MaxPollInterval
	}
	return time.Duration(seconds) * time.Second
}

// DailyBudget is the default daily request cap for a poll interval: twice
// the polls of a day, leaving room for verification refreshes and
// commands, and never below DefaultRateDay.
func DailyBudget(interval time.Duration) int {
	if interval <= 0 {
		return DefaultRateDay
	}
	return max(DefaultRateDay, int(2*24*time.Hour/interval))
}

// ResolveRefreshToken returns the inline token or the contents of the
// token file.
func (m MELCloudConfig) ResolveRefreshToken() (string, error) {
	if m.RefreshTokenFile == "" {
		return strings.TrimSpace(m.RefreshToken), nil
	}
	data, err := os.ReadFile(m.RefreshTokenFile)
	if err != nil {
		return "", fmt.Errorf("read refresh_token_file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StatePath is where rotated refresh tokens for provider are kept.
func (o OAuthConfig) StatePath(provider string) string {
	return filepath.Join(o.StateDir, provider+".json")
}

// BlobEnabled reports whether the S3 mirror is configured.
func (o OAuthConfig) BlobEnabled() bool {
	return o.BlobEndpoint != "" && o.BlobBucket != ""
}

// RefreshInterval returns the proactive refresh cadence.
func (o OAuthConfig) RefreshInterval() time.Duration {
	if o.RefreshIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(o.RefreshIntervalSeconds) * time.Second
}

// ReadPassword loads the broker password, if any.
func (q MQTTConfig) ReadPassword() (string, error) {
	if q.PasswordFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(q.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("read mqtt password_file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; KINOBOT_CONFIG overrides it.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("KINOBOT_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string  `yaml:"port"`
	LogLevel      string  `yaml:"logLevel"`
	BotToken      string  `yaml:"botToken"`
	AdminIDs      []int64 `yaml:"adminIDs"`
	ContactURL    string  `yaml:"contactURL"`
	WebhookHost   string  `yaml:"webhookHost"`
	WebhookPath   string  `yaml:"webhookPath"`
	WebhookSecret string  `yaml:"webhookSecret"`
	// WebhookSources limits webhook callers; "telegram" expands to the
	// published Bot API ranges.
	WebhookSources []string `yaml:"webhookSources"`
	TrustedProxies []string `yaml:"trustedProxies"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	SessionTTL    string `yaml:"sessionTTL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	BackupExpiry   string `yaml:"backupExpiry"`

	LegacyJSONPath  string `yaml:"legacyJSONPath"`
	LegacyObjectKey string `yaml:"legacyObjectKey"`

	MembershipTimeoutMs    int    `yaml:"membershipTimeoutMs"`
	MembershipConcurrency  int    `yaml:"membershipConcurrency"`
	MembershipCacheTTL     string `yaml:"membershipCacheTTL"`
	UserRateLimitPerMinute int    `yaml:"userRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, and validates the result. A missing file is allowed
// so the bot can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	strs := map[string]*string{
		"PORT":                 &cfg.Port,
		"LOG_LEVEL":            &cfg.LogLevel,
		"BOT_TOKEN":            &cfg.BotToken,
		"CONTACT_URL":          &cfg.ContactURL,
		"WEBHOOK_HOST":         &cfg.WebhookHost,
		"WEBHOOK_PATH":         &cfg.WebhookPath,
		"WEBHOOK_SECRET":       &cfg.WebhookSecret,
		"DATABASE_URL":         &cfg.DatabaseURL,
		"REDIS_ADDR":           &cfg.RedisAddr,
		"REDIS_PASSWORD":       &cfg.RedisPassword,
		"SESSION_TTL":          &cfg.SessionTTL,
		"MINIO_ENDPOINT":       &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":     &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":     &cfg.MinioSecretKey,
		"MINIO_BUCKET":         &cfg.MinioBucket,
		"BACKUP_EXPIRY":        &cfg.BackupExpiry,
		"LEGACY_JSON_PATH":     &cfg.LegacyJSONPath,
		"LEGACY_OBJECT_KEY":    &cfg.LegacyObjectKey,
		"MEMBERSHIP_CACHE_TTL": &cfg.MembershipCacheTTL,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"MEMBERSHIP_TIMEOUT_MS":      &cfg.MembershipTimeoutMs,
		"MEMBERSHIP_CONCURRENCY":     &cfg.MembershipConcurrency,
		"USER_RATE_LIMIT_PER_MINUTE": &cfg.UserRateLimitPerMinute,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		ids, err := ParseAdminIDs(v)
		if err != nil {
			return err
		}
		cfg.AdminIDs = ids
	}
	if v := os.Getenv("WEBHOOK_SOURCES"); v != "" {
		cfg.WebhookSources = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
	}
	if cfg.MembershipTimeoutMs == 0 {
		cfg.MembershipTimeoutMs = 3000
	}
	if cfg.MembershipConcurrency == 0 {
		cfg.MembershipConcurrency = 4
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "kinobot"
	}
	if cfg.ContactURL == "" {
		cfg.ContactURL = "https://t.me/"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return errors.New("config: botToken is required (set BOT_TOKEN)")
	}
	if len(cfg.AdminIDs) == 0 {
		return errors.New("config: adminIDs is required (set ADMIN_IDS)")
	}
	if cfg.MembershipTimeoutMs < 0 || cfg.MembershipConcurrency < 0 {
		return errors.New("config: membership timeout and concurrency must be >= 0")
	}
	if cfg.UserRateLimitPerMinute < 0 {
		return errors.New("config: userRateLimitPerMinute must be >= 0")
	}
	if cfg.UserRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: userRateLimitPerMinute requires redisAddr")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	if cfg.LegacyObjectKey != "" && cfg.MinioEndpoint == "" {
		return errors.New("config: legacyObjectKey requires minioEndpoint")
	}
	for _, raw := range []string{cfg.SessionTTL, cfg.BackupExpiry, cfg.MembershipCacheTTL} {
		if _, err := ParseDuration(raw); err != nil {
			return err
		}
	}
	return nil
}

// WebhookURL is the public URL Telegram should call, or empty when no host
// is configured.
func (c FileConfig) WebhookURL() string {
	host := strings.TrimRight(strings.TrimSpace(c.WebhookHost), "/")
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + c.WebhookPath
}

func (c FileConfig) MembershipTimeout() time.Duration {
	return time.Duration(c.MembershipTimeoutMs) * time.Millisecond
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return dur, nil
}

// ParseAdminIDs parses a comma separated list of numeric user ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, item := range splitList(raw) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	LogFormat   string
	PublicURL   string

	GitHubAppID             int64
	GitHubPrivateKey        string
	GitHubPrivateKeyPath    string
	GitHubWebhookSecret     string
	GitHubAPIURL            string
	GitHubToken             string
	GitHubRequestsPerSecond float64

	CheckName            string
	PolicyPath           string
	KnownBots            []string
	WebflowKeyIDs        []string
	StrictExplicitPolicy bool
	RegoPolicyPath       string

	VerifyConcurrency int
	LookupTimeout     time.Duration
	PipelineTimeout   time.Duration
	KeyCacheTTL       time.Duration

	WebhookAsync       bool
	WebhookMaxInflight int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		LogFormat:               envDefault("LOG_FORMAT", "json"),
		PublicURL:               os.Getenv("PUBLIC_URL"),
		GitHubAppID:             int64(envIntDefault("GITHUB_APP_ID", 0)),
		GitHubPrivateKey:        os.Getenv("GITHUB_PRIVATE_KEY"),
		GitHubPrivateKeyPath:    os.Getenv("GITHUB_PRIVATE_KEY_PATH"),
		GitHubWebhookSecret:     os.Getenv("GITHUB_WEBHOOK_SECRET"),
		GitHubAPIURL:            envDefault("GITHUB_API_URL", "https://api.github.com/"),
		GitHubToken:             os.Getenv("GITHUB_TOKEN"),
		GitHubRequestsPerSecond: envFloatDefault("GITHUB_REQUESTS_PER_SECOND", 10),
		CheckName:               envDefault("CHECK_NAME", "Vouch Gatekeeper"),
		PolicyPath:              envDefault("POLICY_PATH", ".github/vouch-policy.yml"),
		KnownBots:               envListDefault("KNOWN_BOTS", nil),
		WebflowKeyIDs:           envListDefault("WEBFLOW_KEY_IDS", nil),
		StrictExplicitPolicy:    envBoolDefault("STRICT_EXPLICIT_POLICY", false),
		RegoPolicyPath:          os.Getenv("REGO_POLICY_PATH"),
		VerifyConcurrency:       envIntDefault("VERIFY_CONCURRENCY", 8),
		LookupTimeout:           envDurationDefault("LOOKUP_TIMEOUT", 10*time.Second),
		PipelineTimeout:         envDurationDefault("PIPELINE_TIMEOUT", 5*time.Minute),
		KeyCacheTTL:             envDurationDefault("KEY_CACHE_TTL", 10*time.Minute),
		WebhookAsync:            envBoolDefault("WEBHOOK_ASYNC", true),
		WebhookMaxInflight:      envIntDefault("WEBHOOK_MAX_INFLIGHT", 32),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
	}
}

// PrivateKeyPEM returns the app key, read from GitHubPrivateKeyPath when the
// inline value is empty. Escaped newlines in the inline value are expanded.
func (c Config) PrivateKeyPEM() ([]byte, error) {
	if c.GitHubPrivateKey != "" {
		return []byte(strings.ReplaceAll(c.GitHubPrivateKey, `\n`, "\n")), nil
	}
	if c.GitHubPrivateKeyPath == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.GitHubPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read GITHUB_PRIVATE_KEY_PATH: %w", err)
	}
	return b, nil
}

// Validate checks that the service can authenticate to GitHub.
func (c Config) Validate() error {
	if c.GitHubToken != "" {
		return nil
	}
	if c.GitHubAppID == 0 {
		return errors.New("GITHUB_APP_ID or GITHUB_TOKEN is required")
	}
	if c.GitHubPrivateKey == "" && c.GitHubPrivateKeyPath == "" {
		return errors.New("GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH is required")
	}
	return nil
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

// envDurationDefault accepts Go durations ("90s") or plain seconds ("90").
func envDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return def
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

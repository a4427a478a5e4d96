// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, the sync-engine timing knobs (poll interval,
// dissolve grace period, dedup window, look-back), and the external API
// endpoints for the ticketing and chat platforms.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-case-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Store
	DBPath string // SQLite path

	// Sync engine
	PollInterval       time.Duration // reconciliation cadence (default 10m)
	JanitorInterval    time.Duration // dissolve-scan cadence (default 1h)
	DissolveAfter      time.Duration // grace period after resolution (default 72h)
	Lookback           time.Duration // delta fallback window when no watermark (default 15m)
	DedupWindow        time.Duration // push-event dedup window (default 5m)
	MaxBodyRunes       int           // gateway notification body cap (default 8000)
	PollerMaxBodyRunes int           // poller notification body cap (default 1000)
	SecondaryTZOffset  time.Duration // second timezone shown in timestamps (default +8h)
	ConsoleURLBase     string        // deep-link base for case ids in notifications

	// Ticketing API
	TicketAPIBase string // REST root of the ticketing system
	TicketAuthURL string // credential-reference token exchange endpoint

	// Chat API
	ChatAPIBase   string        // REST root of the chat platform
	ChatAuthURL   string        // app token issuance endpoint
	ChatAppID     string        // app credential id
	ChatAppSecret string        // app credential secret
	TokenTTL      time.Duration // cached-token lifetime (default 90m)

	// Accounts maps an account alias to the credential reference used for
	// its cases. Owned by the setup tooling; consumed read-only here.
	Accounts map[string]string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// GraceHours returns the dissolve grace period in whole hours, as shown in
// resolution notices.
func (c Config) GraceHours() int {
	return int(c.DissolveAfter / time.Hour)
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Store
		DBPath: getenv("DB_PATH", "cases.db"),

		// Sync engine
		PollInterval:       getdur("POLL_INTERVAL", 10*time.Minute),
		JanitorInterval:    getdur("JANITOR_INTERVAL", time.Hour),
		DissolveAfter:      time.Duration(getint("AUTO_DISSOLVE_HOURS", 72)) * time.Hour,
		Lookback:           time.Duration(getint("LOOKBACK_MINUTES", 15)) * time.Minute,
		DedupWindow:        getdur("DEDUP_WINDOW", 5*time.Minute),
		MaxBodyRunes:       getint("MAX_BODY_RUNES", 8000),
		PollerMaxBodyRunes: getint("POLLER_MAX_BODY_RUNES", 1000),
		SecondaryTZOffset:  time.Duration(getint("SECONDARY_TZ_OFFSET_HOURS", 8)) * time.Hour,
		ConsoleURLBase:     getenv("CONSOLE_URL_BASE", "https://support.console.example.com/case/?displayId="),

		// Ticketing API
		TicketAPIBase: getenv("TICKET_API_BASE", ""),
		TicketAuthURL: getenv("TICKET_AUTH_URL", ""),

		// Chat API
		ChatAPIBase:   getenv("CHAT_API_BASE", ""),
		ChatAuthURL:   getenv("CHAT_AUTH_URL", ""),
		ChatAppID:     getenv("CHAT_APP_ID", ""),
		ChatAppSecret: getenv("CHAT_APP_SECRET", ""),
		TokenTTL:      getdur("TOKEN_TTL", 90*time.Minute),

		Accounts: parseAccounts(getenv("ACCOUNTS", "")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-case-sync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.PollInterval < time.Minute {
		return cfg, errors.New("POLL_INTERVAL must be at least 1m")
	}
	if cfg.JanitorInterval < time.Minute {
		return cfg, errors.New("JANITOR_INTERVAL must be at least 1m")
	}
	if cfg.DissolveAfter <= 0 {
		return cfg, errors.New("AUTO_DISSOLVE_HOURS must be > 0")
	}
	if cfg.Lookback <= 0 {
		return cfg, errors.New("LOOKBACK_MINUTES must be > 0")
	}
	if cfg.DedupWindow <= 0 {
		return cfg, errors.New("DEDUP_WINDOW must be > 0")
	}
	if cfg.MaxBodyRunes <= 0 || cfg.PollerMaxBodyRunes <= 0 {
		return cfg, errors.New("body rune caps must be > 0")
	}
	if cfg.TokenTTL <= 0 {
		return cfg, errors.New("TOKEN_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseAccounts parses "alias=credentialRef" pairs from a comma-separated
// list. Malformed pairs are skipped rather than failing startup; a case with
// a bad reference surfaces as a configuration error at dispatch time instead.
func parseAccounts(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitCSV(s) {
		alias, ref, ok := strings.Cut(pair, "=")
		alias, ref = strings.TrimSpace(alias), strings.TrimSpace(ref)
		if ok && alias != "" && ref != "" {
			out[alias] = ref
		}
	}
	return out
}

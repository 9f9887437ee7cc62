package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the gateway.
type Config struct {
	GatewayAddr    string
	VectorDBURL    string // relay target for /ws/v1/vectors (e.g. http://vectordb:8082)
	FileServiceURL string // relay target for /ws/v1/files (e.g. http://fileservice:8083)
	JWKSEndpoint   string
	LogLevel       string
	BackendTimeout time.Duration
	RateLimit      RateLimitConfig
	Session        SessionConfig
}

// RateLimitConfig holds token bucket parameters for per-IP rate limiting of
// upgrade requests.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// SessionConfig tunes WebSocket sessions.
type SessionConfig struct {
	MaxFrameBytes  int
	SendQueue      int
	WriteTimeout   time.Duration
	MessageRate    float64 // inbound frames per second per session
	MessageBurst   int
	AllowedOrigins []string // empty accepts any origin
}

// Keys understood in config files, with the environment variable bound to
// each. Flags bind to the same keys.
const (
	KeyAddr           = "addr"
	KeyVectorDBURL    = "backends.vectordb"
	KeyFileServiceURL = "backends.fileservice"
	KeyJWKSEndpoint   = "jwks.endpoint"
	KeyLogLevel       = "log.level"
	KeyBackendTimeout = "backends.timeout"
	KeyRateLimitRate  = "ratelimit.rate"
	KeyRateLimitBurst = "ratelimit.burst"
	KeyMaxFrameBytes  = "session.maxFrameBytes"
	KeySendQueue      = "session.sendQueue"
	KeyWriteTimeout   = "session.writeTimeout"
	KeyMessageRate    = "session.messageRate"
	KeyMessageBurst   = "session.messageBurst"
	KeyAllowedOrigins = "session.allowedOrigins"
)

var envNames = map[string]string{
	KeyAddr:           "GATEWAY_ADDR",
	KeyVectorDBURL:    "VECTORDB_URL",
	KeyFileServiceURL: "FILESERVICE_URL",
	KeyJWKSEndpoint:   "JWKS_ENDPOINT",
	KeyLogLevel:       "LOG_LEVEL",
	KeyBackendTimeout: "BACKEND_TIMEOUT",
	KeyRateLimitRate:  "RATE_LIMIT_RATE",
	KeyRateLimitBurst: "RATE_LIMIT_BURST",
	KeyMaxFrameBytes:  "WS_MAX_FRAME_BYTES",
	KeySendQueue:      "WS_SEND_QUEUE",
	KeyWriteTimeout:   "WS_WRITE_TIMEOUT",
	KeyMessageRate:    "WS_MESSAGE_RATE",
	KeyMessageBurst:   "WS_MESSAGE_BURST",
	KeyAllowedOrigins: "WS_ALLOWED_ORIGINS",
}

var defaults = map[string]any{
	KeyAddr:           ":8080",
	KeyVectorDBURL:    "http://localhost:8082",
	KeyFileServiceURL: "http://localhost:8083",
	KeyJWKSEndpoint:   "http://localhost:8081/.well-known/jwks.json",
	KeyLogLevel:       "info",
	KeyBackendTimeout: 15 * time.Second,
	KeyRateLimitRate:  100.0,
	KeyRateLimitBurst: 20,
	KeyMaxFrameBytes:  64 << 10,
	KeySendQueue:      64,
	KeyWriteTimeout:   10 * time.Second,
	KeyMessageRate:    20.0,
	KeyMessageBurst:   40,
	KeyAllowedOrigins: []string{},
}

// New returns a viper instance with defaults and environment bindings. Callers
// may bind flags to it before passing it to FromViper.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envNames {
		// BindEnv only fails without a key
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads defaults, the optional config file at path and the environment.
// The file format follows its extension (yaml, toml or json).
func Load(path string) (Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return FromViper(v), nil
}

// ReadFile merges the config file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var unsupported viper.UnsupportedConfigError
		if errors.As(err, &unsupported) {
			return fmt.Errorf("config file %s: unsupported format", path)
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

// FromViper resolves a Config from v. Values that fail to parse are logged
// and replaced by their defaults.
func FromViper(v *viper.Viper) Config {
	return Config{
		GatewayAddr:    v.GetString(KeyAddr),
		VectorDBURL:    v.GetString(KeyVectorDBURL),
		FileServiceURL: v.GetString(KeyFileServiceURL),
		JWKSEndpoint:   v.GetString(KeyJWKSEndpoint),
		LogLevel:       strings.ToLower(v.GetString(KeyLogLevel)),
		BackendTimeout: durationOr(v, KeyBackendTimeout),
		RateLimit: RateLimitConfig{
			Rate:  floatOr(v, KeyRateLimitRate),
			Burst: intOr(v, KeyRateLimitBurst),
		},
		Session: SessionConfig{
			MaxFrameBytes:  intOr(v, KeyMaxFrameBytes),
			SendQueue:      intOr(v, KeySendQueue),
			WriteTimeout:   durationOr(v, KeyWriteTimeout),
			MessageRate:    floatOr(v, KeyMessageRate),
			MessageBurst:   intOr(v, KeyMessageBurst),
			AllowedOrigins: origins(v.Get(KeyAllowedOrigins)),
		},
	}
}

func intOr(v *viper.Viper, key string) int {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil || n < 0 {
		return fallback(key, v.Get(key), defaults[key].(int))
	}
	return n
}

func floatOr(v *viper.Viper, key string) float64 {
	f, err := cast.ToFloat64E(v.Get(key))
	if err != nil || f <= 0 {
		return fallback(key, v.Get(key), defaults[key].(float64))
	}
	return f
}

// durationOr accepts Go duration strings ("750ms") and bare seconds ("5").
func durationOr(v *viper.Viper, key string) time.Duration {
	raw := v.Get(key)
	if s, ok := raw.(string); ok {
		if n, err := cast.ToIntE(s); err == nil {
			raw = time.Duration(n) * time.Second
		}
	}
	d, err := cast.ToDurationE(raw)
	if err != nil || d <= 0 {
		return fallback(key, raw, defaults[key].(time.Duration))
	}
	return d
}

func fallback[T any](key string, value any, def T) T {
	zap.L().Warn("invalid config value, using default",
		zap.String("key", key),
		zap.String("env", envNames[key]),
		zap.Any("value", value),
		zap.Any("default", def),
	)
	return def
}

// origins accepts a list from a config file or a comma separated string from
// the environment.
func origins(raw any) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Split(v, ",")
	default:
		items = cast.ToStringSlice(v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

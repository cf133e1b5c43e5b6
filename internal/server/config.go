package server

import (
	"log/slog"
	"time"

	"warden/internal/auth"
	"warden/internal/keystore"
)

type Config struct {
	DataDir string
	Realm   string

	HmacScheme    string
	Algorithm     auth.Algorithm
	DigestHeader  string
	SignedHeaders []string

	// MaxBodySize bounds how much of a request body is read to check its
	// digest.
	MaxBodySize int64

	RequireSecure       bool
	TrustForwardedProto bool

	KeyCacheSize int
	KeyCacheTTL  time.Duration

	// KeyMirror, when set, receives a copy of every issued key and is
	// consulted when a key is not found locally.
	KeyMirror keystore.KeyStore

	AdminUser     string
	AdminPassword string

	Logger *slog.Logger
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithRealm(realm string) ConfigOption {
	return func(cfg *Config) {
		cfg.Realm = realm
	}
}

func WithHmacScheme(token string, alg auth.Algorithm) ConfigOption {
	return func(cfg *Config) {
		cfg.HmacScheme = token
		cfg.Algorithm = alg
	}
}

func WithDigestHeader(name string) ConfigOption {
	return func(cfg *Config) {
		cfg.DigestHeader = name
	}
}

func WithSignedHeaders(headers ...string) ConfigOption {
	return func(cfg *Config) {
		cfg.SignedHeaders = headers
	}
}

func WithMaxBodySize(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxBodySize = n
	}
}

func WithRequireSecure(require bool, trustForwardedProto bool) ConfigOption {
	return func(cfg *Config) {
		cfg.RequireSecure = require
		cfg.TrustForwardedProto = trustForwardedProto
	}
}

func WithKeyCache(size int, ttl time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.KeyCacheSize = size
		cfg.KeyCacheTTL = ttl
	}
}

func WithKeyMirror(mirror keystore.KeyStore) ConfigOption {
	return func(cfg *Config) {
		cfg.KeyMirror = mirror
	}
}

func WithAdmin(user string, password string) ConfigOption {
	return func(cfg *Config) {
		cfg.AdminUser = user
		cfg.AdminPassword = password
	}
}

func WithLogger(logger *slog.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DefaultSignedHeaders are the headers covered by the canonical request when
// Config.SignedHeaders is empty.
func DefaultSignedHeaders(digestHeader string) []string {
	headers := []string{"host", "content-type"}
	if digestHeader != "" {
		headers = append(headers, digestHeader)
	}
	return headers
}

func (cfg *Config) applyDefaults() {
	if cfg.Realm == "" {
		cfg.Realm = "warden"
	}
	if cfg.HmacScheme == "" {
		cfg.HmacScheme = auth.DefaultHmacScheme
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = auth.HmacSHA256
	}
	if cfg.DigestHeader == "" {
		cfg.DigestHeader = auth.DefaultDigestHeader
	}
	if len(cfg.SignedHeaders) == 0 {
		cfg.SignedHeaders = DefaultSignedHeaders(cfg.DigestHeader)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = auth.DefaultMaxBodySize
	}
	if cfg.KeyCacheSize <= 0 {
		cfg.KeyCacheSize = 1024
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

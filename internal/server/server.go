package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"warden/internal/auth"
	"warden/internal/keystore"
	"warden/internal/ui"
)

const unauthorizedContentType = "text/html; charset=utf-8"

// Server issues HMAC keys to Basic-authenticated users and serves a few
// endpoints protected by either scheme.
type Server struct {
	Config Config
	Store  *keystore.SQLiteStore

	keys   *keystore.CachedResolver
	logger *slog.Logger

	basic    *auth.Authenticator
	hmac     *auth.Authenticator
	compound *auth.Authenticator
	signer   *auth.RequestSigner
}

// NewServer opens the key database under cfg.DataDir and builds the
// authenticators.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	cfg.applyDefaults()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := keystore.OpenSQLiteStore(ctx, filepath.Join(cfg.DataDir, "warden.sqlite"))
	if err != nil {
		return nil, err
	}

	s := &Server{Config: cfg, Store: store, logger: cfg.Logger}
	if err := s.init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg := s.Config

	if cfg.AdminUser != "" {
		err := s.Store.CreateUser(ctx, cfg.AdminUser, cfg.AdminPassword)
		switch {
		case errors.Is(err, keystore.ErrUserExists):
			s.logger.Debug("Admin user already exists", "user", cfg.AdminUser)
		case err != nil:
			return fmt.Errorf("create admin user: %w", err)
		default:
			s.logger.Info("Created admin user", "user", cfg.AdminUser)
		}
	}

	var resolver auth.KeyResolver = s.Store
	if cfg.KeyMirror != nil {
		resolver = keystore.ChainResolver{s.Store, cfg.KeyMirror}
	}
	s.keys = keystore.NewCachedResolver(resolver, cfg.KeyCacheSize, cfg.KeyCacheTTL)

	basicEngine, err := auth.NewBasicAuthEngine(cfg.Realm, s.Store)
	if err != nil {
		return err
	}

	hmacOpts := []auth.HmacOption{
		auth.WithSchemeToken(cfg.HmacScheme),
		auth.WithAlgorithm(cfg.Algorithm),
		auth.WithDigestHeader(cfg.DigestHeader),
	}

	stringToSign := auth.CanonicalRequest(cfg.SignedHeaders...)
	hmacEngine, err := auth.NewHmacAuthEngine(s.keys, stringToSign,
		append(hmacOpts, auth.WithMaxBodySize(cfg.MaxBodySize))...)
	if err != nil {
		return err
	}

	s.signer, err = auth.NewRequestSigner(stringToSign, hmacOpts...)
	if err != nil {
		return err
	}

	compoundEngine, err := auth.NewCompoundAuthEngine(hmacEngine, basicEngine)
	if err != nil {
		return err
	}

	opts := s.authOptions()
	if s.basic, err = auth.New(basicEngine, opts...); err != nil {
		return err
	}
	if s.hmac, err = auth.New(hmacEngine, opts...); err != nil {
		return err
	}
	if s.compound, err = auth.New(compoundEngine, opts...); err != nil {
		return err
	}

	return nil
}

func (s *Server) authOptions() []auth.Option {
	secure := auth.IsTLS
	if s.Config.TrustForwardedProto {
		secure = auth.TrustForwardedProto
	}

	return []auth.Option{
		auth.RequireSecureConnection(s.Config.RequireSecure),
		auth.WithSecureFunc(secure),
		auth.WithUnauthorizedBody(unauthorizedContentType, ui.UnauthorizedPage(s.Config.Realm)),
		auth.WithLogger(s.logger),
	}
}

// Signer returns a RequestSigner that produces signatures this server
// accepts.
func (s *Server) Signer() *auth.RequestSigner {
	return s.signer
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.Store.Close()
}

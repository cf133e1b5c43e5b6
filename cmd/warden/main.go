package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"warden/internal/auth"
	"warden/internal/keystore"
	"warden/internal/server"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// newKeyMirror connects to the S3 bucket named by WARDEN_MIRROR_* when an
// endpoint is configured. It returns nil otherwise.
func newKeyMirror(ctx context.Context) (keystore.KeyStore, error) {
	endpoint := getenv("WARDEN_MIRROR_ENDPOINT", "")
	if endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(getenv("WARDEN_MIRROR_ACCESS_KEY", ""), getenv("WARDEN_MIRROR_SECRET_KEY", ""), ""),
		Secure: getenv("WARDEN_MIRROR_SECURE", "true") == "true",
		Region: getenv("WARDEN_MIRROR_REGION", "us-east-1"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror client: %w", err)
	}

	store := keystore.NewObjectStore(client, getenv("WARDEN_MIRROR_BUCKET", "warden-keys"), getenv("WARDEN_MIRROR_PREFIX", "keys/"))
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	slog.Info("Mirroring keys to object storage", "endpoint", endpoint)
	return store, nil
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", ":9000", "HTTP listen address")
	tlsListen := flag.String("tls-listen", ":9443", "HTTPS listen address")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file; HTTPS is disabled without it")
	tlsKey := flag.String("tls-key", "", "TLS private key file")
	dataDir := flag.String("data-dir", "./data", "directory to store the key database")
	realm := flag.String("realm", "warden", "realm advertised in Basic challenges")
	requireTLS := flag.Bool("require-tls", false, "refuse credentials sent over plain HTTP")
	trustProxy := flag.Bool("trust-forwarded-proto", false, "treat X-Forwarded-Proto: https as a secure connection")
	hmacScheme := flag.String("hmac-scheme", auth.DefaultHmacScheme, "Authorization scheme token for signed requests")
	algorithm := flag.String("algorithm", string(auth.HmacSHA256), "HMAC algorithm for signed requests")
	digestHeader := flag.String("digest-header", auth.DefaultDigestHeader, "header carrying the body MD5 digest")
	signedHeaders := flag.String("signed-headers", "", "comma separated headers covered by signatures")
	maxBodySize := flag.Int64("max-body-size", auth.DefaultMaxBodySize, "largest request body read to verify its digest, in bytes")
	logLevel := flag.String("log-level", "debug", "log level")

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	alg, err := auth.ParseAlgorithm(*algorithm)
	if err != nil {
		return err
	}

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	mirror, err := newKeyMirror(ctx)
	if err != nil {
		return err
	}

	opts := []server.ConfigOption{
		server.WithDataDir(absDataDir),
		server.WithRealm(*realm),
		server.WithHmacScheme(*hmacScheme, alg),
		server.WithDigestHeader(*digestHeader),
		server.WithMaxBodySize(*maxBodySize),
		server.WithRequireSecure(*requireTLS, *trustProxy),
		server.WithAdmin(getenv("WARDEN_ADMIN_USER", ""), getenv("WARDEN_ADMIN_PASSWORD", "")),
		server.WithLogger(logger),
	}
	if *signedHeaders != "" {
		opts = append(opts, server.WithSignedHeaders(strings.Split(*signedHeaders, ",")...))
	}
	if mirror != nil {
		opts = append(opts, server.WithKeyMirror(mirror))
	}

	srv, err := server.NewServer(ctx, server.NewConfig(opts...))
	if err != nil {
		return fmt.Errorf("failed to create warden server: %w", err)
	}

	defer srv.Close()

	router := srv.Handler()

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              *tlsListen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		if *tlsCert == "" || *tlsKey == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Warden HTTPS server", "addr", *tlsListen)
		err := httpsServer.ListenAndServeTLS(*tlsCert, *tlsKey)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Warden HTTP server", "addr", *listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Warden Started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Warden exited with error", "error", err)
		os.Exit(1)
	}
}

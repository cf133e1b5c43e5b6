package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"warden/internal/auth"
	"warden/internal/server"

	"github.com/charmbracelet/log"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// IssueKey asks the server for a new HMAC key using Basic credentials.
func IssueKey(ctx context.Context, client *http.Client, endpoint string, user string, password string) (server.KeyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/keys", nil)
	if err != nil {
		return server.KeyResult{}, err
	}
	auth.SetBasicAuth(req, user, password)

	resp, err := client.Do(req)
	if err != nil {
		return server.KeyResult{}, fmt.Errorf("failed to issue key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return server.KeyResult{}, fmt.Errorf("failed to issue key: %s", resp.Status)
	}

	var key server.KeyResult
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return server.KeyResult{}, fmt.Errorf("failed to decode key: %w", err)
	}
	return key, nil
}

// SendSigned signs and sends one request, returning the response body.
func SendSigned(ctx context.Context, client *http.Client, signer *auth.RequestSigner, method string, url string, contentType string, body []byte, keyID string, secret []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" && len(body) > 0 {
		req.Header.Set("Content-Type", contentType)
	}

	if err := signer.Sign(req, keyID, secret); err != nil {
		return 0, nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func Run(ctx context.Context) error {

	method := flag.String("method", http.MethodGet, "HTTP method")
	path := flag.String("path", "/v1/whoami", "request path and query")
	data := flag.String("data", "", "request body")
	contentType := flag.String("content-type", "application/json", "Content-Type of the request body")
	issue := flag.Bool("issue", false, "issue a new key with WARDEN_USER and WARDEN_PASSWORD and print it")
	hmacScheme := flag.String("hmac-scheme", auth.DefaultHmacScheme, "Authorization scheme token")
	algorithm := flag.String("algorithm", string(auth.HmacSHA256), "HMAC algorithm")
	digestHeader := flag.String("digest-header", auth.DefaultDigestHeader, "header carrying the body MD5 digest")
	signedHeaders := flag.String("signed-headers", "", "comma separated headers covered by the signature")

	flag.Parse()

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})

	slog.SetDefault(slog.New(handler))

	endpoint := strings.TrimSuffix(getenv("WARDEN_ENDPOINT", "http://localhost:9000"), "/")
	client := &http.Client{Timeout: 30 * time.Second}

	if *issue {
		key, err := IssueKey(ctx, client, endpoint, getenv("WARDEN_USER", ""), getenv("WARDEN_PASSWORD", ""))
		if err != nil {
			return err
		}
		slog.Info("Issued key", "public_key_id", key.PublicKeyID, "algorithm", key.Algorithm)
		fmt.Printf("WARDEN_KEY_ID=%s\nWARDEN_SECRET=%s\n", key.PublicKeyID, base64.StdEncoding.EncodeToString(key.Secret))
		return nil
	}

	keyID := getenv("WARDEN_KEY_ID", "")
	if keyID == "" {
		return errors.New("WARDEN_KEY_ID must be set")
	}

	secret, err := base64.StdEncoding.DecodeString(getenv("WARDEN_SECRET", ""))
	if err != nil || len(secret) == 0 {
		return errors.New("WARDEN_SECRET must be a base64 encoded key")
	}

	alg, err := auth.ParseAlgorithm(*algorithm)
	if err != nil {
		return err
	}

	headers := server.DefaultSignedHeaders(*digestHeader)
	if *signedHeaders != "" {
		headers = strings.Split(*signedHeaders, ",")
	}

	signer, err := auth.NewRequestSigner(auth.CanonicalRequest(headers...),
		auth.WithSchemeToken(*hmacScheme),
		auth.WithAlgorithm(alg),
		auth.WithDigestHeader(*digestHeader),
	)
	if err != nil {
		return err
	}

	status, body, err := SendSigned(ctx, client, signer, *method, endpoint+*path, *contentType, []byte(*data), keyID, secret)
	if err != nil {
		return err
	}

	slog.Info("Response", "status", status)
	_, err = os.Stdout.Write(body)
	return err
}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}
}

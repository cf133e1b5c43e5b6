package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"warden/internal/auth"

	"github.com/minio/minio-go/v7"
)

// ObjectStore keeps HMAC keys as JSON objects in an S3-compatible bucket,
// one object per public key id under prefix. It lets several server
// instances share the keys one of them issued.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// storedKey is the object payload.
type storedKey struct {
	User   string `json:"user"`
	Secret []byte `json:"secret"`
}

// NewObjectStore creates an ObjectStore. The bucket must already exist.
func NewObjectStore(client *minio.Client, bucket string, prefix string) *ObjectStore {
	return &ObjectStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
	}
	return nil
}

// objectName maps a public key id to its object key. Ids that could escape
// the prefix are rejected.
func (s *ObjectStore) objectName(publicKeyID string) (string, bool) {
	if publicKeyID == "" || publicKeyID == "." || publicKeyID == ".." || strings.ContainsAny(publicKeyID, "/\\") {
		return "", false
	}
	return s.prefix + publicKeyID + ".json", true
}

// ResolveKey implements auth.KeyResolver.
func (s *ObjectStore) ResolveKey(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
	name, ok := s.objectName(publicKeyID)
	if !ok {
		return nil, nil, nil
	}

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get key object %q: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read key object %q: %w", name, err)
	}

	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil, fmt.Errorf("decode key object %q: %w", name, err)
	}
	if stored.User == "" || len(stored.Secret) == 0 {
		return nil, nil, nil
	}

	return hmacUser(stored.User, publicKeyID), stored.Secret, nil
}

// PutKey implements KeyStore.
func (s *ObjectStore) PutKey(ctx context.Context, publicKeyID string, user string, secret []byte) error {
	name, ok := s.objectName(publicKeyID)
	if !ok || len(secret) == 0 {
		return ErrInvalidKey
	}

	data, err := json.Marshal(storedKey{User: user, Secret: secret})
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		// Key objects are tiny; send them in one request instead of a
		// chunked streaming signature.
		DisableContentSha256: true,
	})
	if err != nil {
		return fmt.Errorf("failed to upload key object %q to bucket %q: %w", name, s.bucket, err)
	}
	return nil
}

// DeleteKey implements KeyStore.
func (s *ObjectStore) DeleteKey(ctx context.Context, publicKeyID string) error {
	name, ok := s.objectName(publicKeyID)
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to remove key object %q: %w", name, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

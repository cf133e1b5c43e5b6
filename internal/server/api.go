package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"warden/internal/auth"
)

// maxEchoBody bounds the body echoed back by /v1/echo.
const maxEchoBody = 1 << 20

type APIError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

type WhoAmIResult struct {
	Name       string            `json:"name"`
	Scheme     string            `json:"scheme"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type KeyResult struct {
	PublicKeyID string     `json:"public_key_id"`
	Secret      []byte     `json:"secret,omitempty"`
	Scheme      string     `json:"scheme,omitempty"`
	Algorithm   string     `json:"algorithm,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

type ListKeysResult struct {
	Keys []KeyResult `json:"keys"`
}

// writeJSONResponse writes v as the JSON response body with the given status.
func writeJSONResponse(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code string, message string, status int) {
	_ = writeJSONResponse(w, status, APIError{Code: code, Message: message})
}

// writeInternalError writes a generic InternalError response.
func writeInternalError(w http.ResponseWriter) {
	writeAPIError(w, "InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
}

func (s *Server) handleHealth(ctx context.Context, w http.ResponseWriter) {
	if err := s.Store.Db.PingContext(ctx); err != nil {
		s.logger.Error("Health check failed", "error", err)
		writeAPIError(w, "Unavailable", "The key database is unavailable.", http.StatusServiceUnavailable)
		return
	}

	_ = writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhoAmI(ctx context.Context, w http.ResponseWriter) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		writeInternalError(w)
		return
	}

	_ = writeJSONResponse(w, http.StatusOK, WhoAmIResult{
		Name:       user.Name,
		Scheme:     user.Scheme,
		Attributes: user.Attributes,
	})
}

func (s *Server) handleKeyCreate(ctx context.Context, w http.ResponseWriter) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		writeInternalError(w)
		return
	}

	key, err := s.Store.CreateKey(ctx, user.Name)
	if err != nil {
		s.logger.Error("Failed to create key", "user", user.Name, "error", err)
		writeInternalError(w)
		return
	}

	if s.Config.KeyMirror != nil {
		if err := s.Config.KeyMirror.PutKey(ctx, key.ID, key.User, key.Secret); err != nil {
			s.logger.Error("Failed to mirror key", "public_key_id", key.ID, "error", err)
			if err := s.Store.DeleteKey(context.WithoutCancel(ctx), key.ID); err != nil {
				s.logger.Error("Failed to roll back key", "public_key_id", key.ID, "error", err)
			}
			writeInternalError(w)
			return
		}
	}

	s.logger.Info("Issued key", "user", user.Name, "public_key_id", key.ID)

	_ = writeJSONResponse(w, http.StatusCreated, KeyResult{
		PublicKeyID: key.ID,
		Secret:      key.Secret,
		Scheme:      s.Config.HmacScheme,
		Algorithm:   string(s.Config.Algorithm),
		CreatedAt:   key.CreatedAt,
	})
}

func (s *Server) handleKeyList(ctx context.Context, w http.ResponseWriter) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		writeInternalError(w)
		return
	}

	keys, err := s.Store.ListKeys(ctx, user.Name)
	if err != nil {
		s.logger.Error("Failed to list keys", "user", user.Name, "error", err)
		writeInternalError(w)
		return
	}

	result := ListKeysResult{Keys: make([]KeyResult, 0, len(keys))}
	for _, key := range keys {
		result.Keys = append(result.Keys, KeyResult{
			PublicKeyID: key.ID,
			CreatedAt:   key.CreatedAt,
			RevokedAt:   key.RevokedAt,
		})
	}

	_ = writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleKeyDelete(ctx context.Context, w http.ResponseWriter, id string) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		writeInternalError(w)
		return
	}

	owned, err := s.ownsActiveKey(ctx, user.Name, id)
	if err != nil {
		s.logger.Error("Failed to look up key", "public_key_id", id, "error", err)
		writeInternalError(w)
		return
	}

	if !owned {
		writeAPIError(w, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
		return
	}

	// Remove the mirror copy first; the resolver chain falls through to it
	// once the local key is revoked.
	if s.Config.KeyMirror != nil {
		if err := s.Config.KeyMirror.DeleteKey(ctx, id); err != nil {
			s.logger.Error("Failed to delete mirrored key", "public_key_id", id, "error", err)
			writeInternalError(w)
			return
		}
	}

	if _, err := s.Store.RevokeKey(ctx, user.Name, id); err != nil {
		s.logger.Error("Failed to revoke key", "public_key_id", id, "error", err)
		writeInternalError(w)
		return
	}

	s.keys.Invalidate(id)

	s.logger.Info("Revoked key", "user", user.Name, "public_key_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEchoBody))
	if err != nil {
		writeAPIError(w, "IncompleteBody", "The request body could not be read.", http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set(auth.DefaultDigestHeader, auth.DigestBytes(body))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) ownsActiveKey(ctx context.Context, user string, id string) (bool, error) {
	keys, err := s.Store.ListKeys(ctx, user)
	if err != nil {
		return false, err
	}

	for _, key := range keys {
		if key.ID == id && key.RevokedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

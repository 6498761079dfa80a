package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sitecrew/construction-api/config"
	"go.uber.org/zap"
)

const maxErrorBody = 1024

// APIError is a non-2xx answer from the storage API
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Supabase talks to the Supabase Storage REST API with a service key
type Supabase struct {
	baseURL    string
	publicBase string
	serviceKey string
	client     *http.Client
	logger     *zap.Logger
}

// NewSupabase creates a Supabase Storage client
func NewSupabase(cfg config.StorageConfig, client *http.Client, logger *zap.Logger) *Supabase {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = cfg.SupabaseURL
	}
	return &Supabase{
		baseURL:    cfg.SupabaseURL,
		publicBase: publicBase,
		serviceKey: cfg.ServiceKey,
		client:     client,
		logger:     logger,
	}
}

// Store uploads content. Existing objects are never overwritten.
func (s *Supabase) Store(ctx context.Context, bucket, key string, content []byte, contentType string) error {
	endpoint := s.baseURL + "/storage/v1/object/" + objectPath(bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "false")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError("upload", resp)
	}

	s.logger.Debug("object stored",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("size", len(content)),
	)
	return nil
}

// PublicURL returns the public URL of a stored object after confirming it exists
func (s *Supabase) PublicURL(ctx context.Context, bucket, key string) (string, error) {
	publicURL := s.publicBase + "/storage/v1/object/public/" + objectPath(bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, publicURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build probe request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to probe %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", apiError("probe", resp)
	}
	return publicURL, nil
}

func (s *Supabase) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

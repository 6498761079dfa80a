// Package storage holds the object stores attachments are written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sitecrew/construction-api/config"
	"github.com/sitecrew/construction-api/telemetry"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when a public URL is requested for an object that was never stored
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore writes objects and resolves their public URLs
type ObjectStore interface {
	Store(ctx context.Context, bucket, key string, content []byte, contentType string) error
	PublicURL(ctx context.Context, bucket, key string) (string, error)
}

// New builds the store selected by cfg.Provider
func New(cfg config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Provider {
	case "supabase":
		client := telemetry.InstrumentClient(&http.Client{Timeout: cfg.Timeout})
		return NewSupabase(cfg, client, logger), nil
	case "memory", "":
		logger.Warn("using in-memory object storage; uploads are lost on restart")
		return NewMemory(cfg.PublicBaseURL), nil
	}
	return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
}

// objectPath escapes each key segment while keeping the separators
func objectPath(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

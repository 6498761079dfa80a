package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is a stored blob
type Object struct {
	Content     []byte
	ContentType string
}

// Memory keeps objects in process. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	objects    map[string]Object
	publicBase string
}

// NewMemory creates an empty store. URLs are rooted at publicBase, or memory:// when empty.
func NewMemory(publicBase string) *Memory {
	publicBase = strings.TrimRight(publicBase, "/")
	if publicBase == "" {
		publicBase = "memory:/"
	}
	return &Memory{objects: make(map[string]Object), publicBase: publicBase}
}

// Store saves a copy of content
func (m *Memory) Store(ctx context.Context, bucket, key string, content []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := bucket + "/" + key

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[id]; exists {
		return fmt.Errorf("object %s already exists", id)
	}
	m.objects[id] = Object{Content: append([]byte(nil), content...), ContentType: contentType}
	return nil
}

// PublicURL returns the URL for a stored object
func (m *Memory) PublicURL(ctx context.Context, bucket, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, ok := m.Get(bucket, key); !ok {
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return m.publicBase + "/" + objectPath(bucket, key), nil
}

// Get returns a stored object
func (m *Memory) Get(bucket, key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket+"/"+key]
	return obj, ok
}

// Len returns the number of stored objects
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

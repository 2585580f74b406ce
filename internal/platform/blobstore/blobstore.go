// Package blobstore archives generated report files. The memory store backs
// development and tests; the S3 store targets AWS S3 or any S3-compatible
// endpoint such as MinIO.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// MaxObjectSize caps a single archived export (64 MB).
const MaxObjectSize = 64 << 20

// Object describes a stored blob.
type Object struct {
	Key          string    `json:"key"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the archive backend. Keys are slash-separated paths; Put never
// overwrites an existing key.
type Store interface {
	Driver() string
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error)
	Get(ctx context.Context, key string) (Object, io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

type memoryObject struct {
	info Object
	data []byte
}

// MemoryStore is a thread-safe in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject), now: time.Now}
}

func (s *MemoryStore) Driver() string { return "memory" }

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, contentType string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return Object{}, fmt.Errorf("read content: %w", err)
	}
	if len(data) > MaxObjectSize {
		return Object{}, fmt.Errorf("blob %s exceeds %d bytes", key, MaxObjectSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return Object{}, fmt.Errorf("%w: %s", ErrBlobExists, key)
	}
	info := Object{Key: key, ContentType: contentType, Size: int64(len(data)), LastModified: s.now().UTC()}
	s.objects[key] = memoryObject{info: info, data: data}
	return info, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Object, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return Object{}, nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Object
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	delete(s.objects, key)
	return nil
}

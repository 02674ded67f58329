// Package storage provides blob storage operations: size-based single or
// multipart uploads with per-part retry and abort, signed read URLs, and
// best-effort deletes. The Azure Blob Storage backend is the default.
package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JaimeStill/arbor/pkg/lifecycle"
)

// System manages blob storage operations and lifecycle coordination.
type System interface {
	// Start registers a startup hook that initializes the storage container.
	Start(lc *lifecycle.Coordinator) error
	// Upload stores data at key and returns the key. Payloads of at least
	// the configured part size are sent as a multipart upload.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Download returns a stream for the blob at the given key. The caller must close the reader.
	// Returns ErrNotFound if the blob does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether a blob exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
	// SignedURL returns a time-limited read URL for the blob at key.
	SignedURL(ctx context.Context, key string) (string, error)
	// Delete removes the blob at key. Failures are logged and never returned.
	Delete(ctx context.Context, key string)
	// LockKeys holds keys until release is called. Callers that check for a
	// blob and then reference or delete it hold the key across both steps.
	LockKeys(keys ...string) (release func())
}

// MultipartSession identifies an open multipart upload.
type MultipartSession struct {
	Key         string
	ContentType string
	UploadID    string
}

// Part is a completed multipart part. ETag is the backend's reference
// to the stored part.
type Part struct {
	Number int
	ETag   string
}

// Backend is the object store primitive set the uploader is built on.
type Backend interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) error
	CreateMultipart(ctx context.Context, key, contentType string) (*MultipartSession, error)
	UploadPart(ctx context.Context, session *MultipartSession, number int, data []byte) (Part, error)
	// CompleteMultipart assembles parts, which are always given in ascending part number order.
	CompleteMultipart(ctx context.Context, session *MultipartSession, parts []Part) error
	AbortMultipart(ctx context.Context, session *MultipartSession) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	SignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type signedURL struct {
	url     string
	expires time.Time
}

type store struct {
	backend     Backend
	partSize    int64
	maxRetries  int
	partBackoff time.Duration
	concurrency int
	urlExpiry   time.Duration
	urls        *lru.Cache[string, signedURL]
	locks       KeyLocks
	logger      *slog.Logger
}

// New creates a storage system backed by Azure Blob Storage.
// It creates the Azure client but does not establish a connection
// until Start is called.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	backend, err := newAzure(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, cfg, logger)
}

// NewWithBackend creates a storage system over an arbitrary Backend.
// Zero-valued tuning fields in cfg take their defaults.
func NewWithBackend(backend Backend, cfg *Config, logger *slog.Logger) (System, error) {
	c := *cfg
	c.loadDefaults()

	urls, err := lru.New[string, signedURL](c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create signed url cache: %w", err)
	}

	return &store{
		backend:     backend,
		partSize:    c.PartSizeBytes(),
		maxRetries:  c.Retries(),
		partBackoff: c.PartBackoffDuration(),
		concurrency: max(c.Concurrency, 1),
		urlExpiry:   c.SignedURLExpiryDuration(),
		urls:        urls,
		logger:      logger.With("system", "storage"),
	}, nil
}

func (s *store) Start(lc *lifecycle.Coordinator) error {
	s.logger.Info("starting storage system")

	lc.OnStartup(func() {
		if err := s.backend.Init(lc.Context()); err != nil {
			s.logger.Error("storage initialization failed", "error", err)
			return
		}
		s.logger.Info("storage ready")
	})

	return nil
}

func (s *store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.backend.Download(ctx, key)
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, key)
}

// SignedURL reuses a cached URL while more than half of its validity remains.
func (s *store) SignedURL(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	if cached, ok := s.urls.Get(key); ok && time.Until(cached.expires) > s.urlExpiry/2 {
		return cached.url, nil
	}

	expires := time.Now().Add(s.urlExpiry)
	url, err := s.backend.SignURL(ctx, key, s.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("sign url %s: %w", key, err)
	}

	s.urls.Add(key, signedURL{url: url, expires: expires})
	return url, nil
}

func (s *store) Delete(ctx context.Context, key string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delete panicked", "key", key, "panic", r)
		}
	}()

	if err := validateKey(key); err != nil {
		s.logger.Warn("delete skipped", "key", key, "error", err)
		return
	}

	s.urls.Remove(key)

	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("delete failed", "key", key, "error", err)
		return
	}

	s.logger.Debug("blob deleted", "key", key)
}

func (s *store) LockKeys(keys ...string) func() {
	return s.locks.Lock(keys...)
}

// Key joins a {folder}/{ownerId}/{itemName} storage key. The owner is
// passed through OwnerSegment.
func Key(folder, owner, name string) string {
	return strings.Join([]string{folder, OwnerSegment(owner), name}, "/")
}

// OwnerSegment returns owner as exactly one key segment. Ids made of
// letters, digits, '-', '_' and '.' are kept as-is; anything else,
// including "." and "..", is base64url-encoded behind a '~' prefix.
func OwnerSegment(owner string) string {
	if owner != "" && owner != "." && owner != ".." && strings.IndexFunc(owner, unsafeRune) < 0 {
		return owner
	}
	return "~" + base64.RawURLEncoding.EncodeToString([]byte(owner))
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '-', r == '_', r == '.':
		return false
	}
	return true
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

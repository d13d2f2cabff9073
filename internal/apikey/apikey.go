// Package apikey implements the API-key service (C5): generation,
// hashing, lookup with caching, revocation, and atomic rotation.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
)

const (
	cacheTTL    = 30 * time.Second
	cacheMaxLen = 10_000
	prefixLen   = 12
)

// keyFormat matches exactly "dynamo-sk-" followed by 48 lowercase hex
// characters (24 random bytes).
var keyFormat = regexp.MustCompile(`^dynamo-sk-[0-9a-f]{48}$`)

// IsValidKeyFormat reports whether raw matches the required key shape.
func IsValidKeyFormat(raw string) bool {
	return keyFormat.MatchString(raw)
}

// GenerateRawKey returns a new raw key: "dynamo-sk-" + 48 lowercase hex
// chars derived from 24 cryptographically random bytes.
func GenerateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("apikey: generate: %w", err)
	}
	return gateway.APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashRawKey returns the hex-encoded SHA-256 hash of a raw key.
func HashRawKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Store is the persistence surface the service depends on. A nil Store
// value is never passed in; instead Service wraps a possibly-nil
// pointer and every method checks store.Configured() for graceful
// degradation, matching the teacher's nilable-dependency convention.
type Store interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, userID string, offset, limit int) ([]*gateway.APIKey, error)
	RevokeKey(ctx context.Context, id string, now time.Time) (bool, error)
	RotateKey(ctx context.Context, oldID string, newKey *gateway.APIKey, now time.Time) error
	TouchKeyUsed(ctx context.Context, id string, now time.Time) error
	Configured() bool
}

// Service is the API-key service. Lookups are cached in an otter
// W-TinyLFU cache keyed by hash, exactly as the teacher's auth.APIKeyAuth
// caches its own "gnd_"-prefixed keys.
type Service struct {
	store       Store
	cache       *otter.Cache[string, *gateway.APIKey]
	keyIDToHash sync.Map // keyID -> hash, for cache invalidation by id
	lookupGroup singleflight.Group
}

// New builds a Service backed by store.
func New(store Store) (*Service, error) {
	c, err := otter.New(&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("apikey: create cache: %w", err)
	}
	return &Service{store: store, cache: c}, nil
}

// Create issues a new active key for (email, role). userID is derived
// from the local part of the email. Returns the raw key exactly once;
// only its hash is ever persisted.
func (s *Service) Create(ctx context.Context, email, role string) (raw string, key *gateway.APIKey, err error) {
	if !s.store.Configured() {
		return "", nil, apperror.New(apperror.CodeInternalError, "persistence not configured", 500)
	}
	raw, err = GenerateRawKey()
	if err != nil {
		return "", nil, err
	}
	hash := HashRawKey(raw)
	key = &gateway.APIKey{
		ID:        uuid.NewString(),
		UserID:    localPart(email),
		UserEmail: email,
		KeyHash:   hash,
		KeyPrefix: raw[:prefixLen],
		Role:      role,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// Revoke marks a key inactive. Idempotent: a second call on an
// already-revoked key returns changed=false, not an error.
func (s *Service) Revoke(ctx context.Context, id string) (changed bool, err error) {
	if !s.store.Configured() {
		return false, apperror.New(apperror.CodeInternalError, "persistence not configured", 500)
	}
	changed, err = s.store.RevokeKey(ctx, id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	s.invalidateByKeyID(id)
	return changed, nil
}

// Rotate atomically replaces the active key for a logical identity,
// returning the new raw key. Old raw key fails authentication
// immediately after rotation commits.
func (s *Service) Rotate(ctx context.Context, oldID string) (raw string, newKey *gateway.APIKey, err error) {
	if !s.store.Configured() {
		return "", nil, apperror.New(apperror.CodeInternalError, "persistence not configured", 500)
	}
	old, err := s.store.GetKey(ctx, oldID)
	if err != nil {
		return "", nil, err
	}
	raw, err = GenerateRawKey()
	if err != nil {
		return "", nil, err
	}
	hash := HashRawKey(raw)
	newKey = &gateway.APIKey{
		ID:        uuid.NewString(),
		UserID:    old.UserID,
		UserEmail: old.UserEmail,
		KeyHash:   hash,
		KeyPrefix: raw[:prefixLen],
		Role:      old.Role,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.store.RotateKey(ctx, oldID, newKey, time.Now().UTC()); err != nil {
		return "", nil, err
	}
	s.invalidateByKeyID(oldID)
	return raw, newKey, nil
}

// Lookup resolves raw to an active key. On success it schedules a
// fire-and-forget lastUsedAt update; the caller must not await it.
func (s *Service) Lookup(ctx context.Context, raw string) (*gateway.APIKey, error) {
	if !IsValidKeyFormat(raw) {
		return nil, apperror.InvalidAPIKey("malformed api key")
	}
	hash := HashRawKey(raw)

	if key, ok := s.cache.GetIfPresent(hash); ok {
		if !key.IsActive {
			s.cache.Invalidate(hash)
			return nil, apperror.InvalidAPIKey("api key revoked")
		}
		return key, nil
	}

	if !s.store.Configured() {
		return nil, apperror.InvalidAPIKey("api key not found")
	}

	// singleflight collapses concurrent misses on the same hash (a burst
	// of requests on a key that just fell out of cache) into one store
	// round trip instead of one per request.
	v, err, _ := s.lookupGroup.Do(hash, func() (any, error) {
		return s.store.GetKeyByHash(ctx, hash)
	})
	if err != nil {
		var ae *apperror.AppError
		if errors.As(err, &ae) && ae.Code == apperror.CodeNotFound {
			return nil, apperror.InvalidAPIKey("api key not found")
		}
		return nil, err
	}
	key := v.(*gateway.APIKey)

	// Belt-and-suspenders constant-time comparison against the stored
	// hash, guarding against a hypothetical collation/encoding surprise
	// in the lookup query itself.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, apperror.InvalidAPIKey("api key not found")
	}

	s.cache.Set(hash, key)
	s.keyIDToHash.Store(key.ID, hash)

	go func(keyID string) {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.store.TouchKeyUsed(touchCtx, keyID, time.Now().UTC())
	}(key.ID)

	return key, nil
}

// List returns keys for a user (or all users, when userID is empty).
func (s *Service) List(ctx context.Context, userID string, offset, limit int) ([]*gateway.APIKey, error) {
	if !s.store.Configured() {
		return nil, nil
	}
	return s.store.ListKeys(ctx, userID, offset, limit)
}

func (s *Service) invalidateByKeyID(keyID string) {
	if hash, ok := s.keyIDToHash.LoadAndDelete(keyID); ok {
		s.cache.Invalidate(hash.(string))
	}
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

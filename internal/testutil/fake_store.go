// Package testutil provides configurable in-memory fakes for the
// gateway's store-backed interfaces, for use in package tests that
// would otherwise require a live Postgres instance.
package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/budget"
)

// FakeStore is an in-memory implementation of apikey.Store,
// budget.RecorderStore, and audit.Store for testing. Configured always
// reports true; tests that need to exercise the unconfigured-store
// degradation path should use a real *store.Store zero value instead.
type FakeStore struct {
	mu sync.RWMutex

	keysByID   map[string]*gateway.APIKey
	keysByHash map[string]*gateway.APIKey

	usage    map[string]int64 // "userID|periodStart" -> total tokens
	profiles map[string]*gateway.UserProfile

	AuditLog []gateway.AuditLogRecord
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keysByID:   make(map[string]*gateway.APIKey),
		keysByHash: make(map[string]*gateway.APIKey),
		usage:      make(map[string]int64),
		profiles:   make(map[string]*gateway.UserProfile),
	}
}

// Configured always reports true.
func (s *FakeStore) Configured() bool { return true }

// --- apikey.Store ---

// CreateKey inserts a key, indexed by both ID and hash.
func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysByID[key.ID] = key
	s.keysByHash[key.KeyHash] = key
	return nil
}

// GetKeyByHash looks up an active or revoked key by its hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.keysByHash[hash]; ok {
		return k, nil
	}
	return nil, apperror.NotFound("api key not found")
}

// GetKey looks up a key by ID.
func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.keysByID[id]; ok {
		return k, nil
	}
	return nil, apperror.NotFound("api key not found")
}

// ListKeys returns every key belonging to userID (or every key, when
// userID is empty), paginated by offset/limit over map iteration order,
// which is not stable from one call to the next.
func (s *FakeStore) ListKeys(_ context.Context, userID string, offset, limit int) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keysByID {
		if userID != "" && k.UserID != userID {
			continue
		}
		out = append(out, k)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

// RevokeKey marks a key revoked, reporting whether it changed state.
func (s *FakeStore) RevokeKey(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keysByID[id]
	if !ok {
		return false, apperror.NotFound("api key not found")
	}
	if !k.IsActive {
		return false, nil
	}
	k.IsActive = false
	k.RevokedAt = &now
	return true, nil
}

// RotateKey revokes oldID and inserts newKey in a single call.
func (s *FakeStore) RotateKey(_ context.Context, oldID string, newKey *gateway.APIKey, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keysByID[oldID]; ok {
		k.IsActive = false
		k.RevokedAt = &now
	}
	s.keysByID[newKey.ID] = newKey
	s.keysByHash[newKey.KeyHash] = newKey
	return nil
}

// TouchKeyUsed updates a key's last-used timestamp.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keysByID[id]; ok {
		k.LastUsedAt = &now
	}
	return nil
}

// --- budget.RecorderStore ---

func usageKey(userID, periodStart string) string { return userID + "|" + periodStart }

// GetCurrentUsage returns the accumulated token count for userID in
// periodStart.
func (s *FakeStore) GetCurrentUsage(_ context.Context, userID, periodStart string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[usageKey(userID, periodStart)], nil
}

// RecordUsage accumulates tokens into the running period total.
func (s *FakeStore) RecordUsage(_ context.Context, params budget.RecordUsageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey(params.UserID, params.PeriodStart)
	s.usage[k] += int64(params.InputTokens + params.OutputTokens)
	return nil
}

// --- audit.Store ---

// InsertAuditLog appends entry to AuditLog.
func (s *FakeStore) InsertAuditLog(_ context.Context, entry gateway.AuditLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuditLog = append(s.AuditLog, entry)
	return nil
}

// --- profile access (mirrors store.Store.GetProfile/UpsertProfile) ---

// UpsertProfile inserts or updates a profile, preserving FirstLogin
// across repeat calls for the same user.
func (s *FakeStore) UpsertProfile(_ context.Context, p gateway.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.UserID]; ok {
		p.FirstLogin = existing.FirstLogin
	}
	s.profiles[p.UserID] = &p
	return nil
}

// GetProfile returns the stored profile for userID, or nil.
func (s *FakeStore) GetProfile(_ context.Context, userID string) (*gateway.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID], nil
}

package data

import (
	"context"
	"time"

	"InsightLane/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryCapacity bounds a memory layer when no capacity is configured.
const DefaultMemoryCapacity = 10000

// MemoryLayer is an in-process layer backed by a bounded LRU. Each entry expires at
// its own ExpiresAt; the least recently used entry is evicted when full.
type MemoryLayer struct {
	lru *expirable.LRU[string, *model.StorageEntry]
	now func() time.Time
}

// NewMemoryLayer creates a MemoryLayer holding up to capacity entries.
func NewMemoryLayer(capacity int) *MemoryLayer {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLayer{
		lru: expirable.NewLRU[string, *model.StorageEntry](capacity, nil, 0),
		now: time.Now,
	}
}

func (l *MemoryLayer) Put(_ context.Context, entry *model.StorageEntry) error {
	stored := *entry
	stored.Data = append([]byte(nil), entry.Data...)
	l.lru.Add(entry.Key, &stored)
	return nil
}

func (l *MemoryLayer) Get(_ context.Context, key string) (*model.StorageEntry, error) {
	entry, ok := l.lru.Get(key)
	if !ok {
		return nil, model.ErrEntryNotFound
	}
	if entry.Expired(l.now()) {
		l.lru.Remove(key)
		return nil, model.ErrEntryNotFound
	}
	out := *entry
	return &out, nil
}

// Len returns the number of entries held, expired ones included until read.
func (l *MemoryLayer) Len() int {
	return l.lru.Len()
}

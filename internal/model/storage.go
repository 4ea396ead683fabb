package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Layer identifies one tier of the tiered store.
type Layer int

const (
	LayerCache    Layer = 1
	LayerPersonal Layer = 2
	LayerArchive  Layer = 3
)

func (l Layer) String() string {
	switch l {
	case LayerCache:
		return "cache"
	case LayerPersonal:
		return "personal"
	case LayerArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ErrEntryNotFound is returned by storage layers for missing or expired keys.
var ErrEntryNotFound = errors.New("storage: entry not found")

// StorageEntry is one payload held by one layer.
type StorageEntry struct {
	Key       string          `json:"key"`
	Layer     Layer           `json:"layer"`
	Data      json.RawMessage `json:"data"`
	TTL       time.Duration   `json:"ttl"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *StorageEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Package store defines the snapshot store the lifecycle engine persists
// into. Records are JSON documents keyed by collection and id. The engine
// awaits every write but writes are not transactional across collections.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the service.
const (
	ChargingStates = "charging-state"
	Sessions       = "sessions"
	Locations      = "locations"
	CDRs           = "cdrs"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is a mapping of collection/id to JSON documents.
type Store interface {
	// Get returns the raw document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	// Set marshals doc and replaces the record (upsert).
	Set(ctx context.Context, collection, id string, doc any) error
	// Patch shallow-merges fields into the existing document. A missing
	// record is created from the fields alone.
	Patch(ctx context.Context, collection, id string, fields map[string]any) error
	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	Close() error
}

// GetAs reads a record and unmarshals it into T.
func GetAs[T any](ctx context.Context, s Store, collection, id string) (T, error) {
	var v T
	raw, err := s.Get(ctx, collection, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
	}
	return v, nil
}

// ListAs reads a whole collection into typed records. Documents that fail
// to decode are skipped rather than aborting the listing.
func ListAs[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	raws, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// MergePatch applies a shallow merge of fields over the existing JSON
// object. Existing may be nil.
func MergePatch(existing json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("store: merge base: %w", err)
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// Package cache stores computed report views keyed by query shape.
//
// Every view carries the tags of the scopes it was computed from; the
// aggregation engine invalidates by tag after each write. Besides the fresh
// copy, each Set keeps a long-lived stale copy that the query service serves
// when it cannot recompute in time.
//
// Invalidate also bumps a version counter per tag. A writer that read the
// versions before computing a view passes them to Set with IfVersions; the
// view is dropped with ErrConflict if any tag was invalidated in between.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned by a conditional Set when one of the view's tags was
// invalidated after its version was read. Nothing is stored.
var ErrConflict = errors.New("view invalidated while computing")

// View is a cached, serialized report payload.
type View struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	ComputedAt time.Time       `json:"computedAt"`
	TTL        time.Duration   `json:"ttl"`
	Tags       []string        `json:"tags,omitempty"`
}

type PutOptions struct {
	TTL      time.Duration
	StaleTTL time.Duration

	// versions are the expected tag versions, aligned with View.Tags.
	versions []int64
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

func WithStaleTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.StaleTTL = ttl
	}
}

// IfVersions makes Set conditional on the tags of the view still being at
// versions, as returned by Versions for the same tags.
func IfVersions(versions []int64) PutOption {
	return func(o *PutOptions) {
		o.versions = versions
	}
}

// Cache is the view cache. Errors mean the backend is unavailable; callers
// treat them as a miss.
type Cache interface {
	// Get returns the fresh view for key.
	Get(ctx context.Context, key string) (*View, bool, error)

	// Set stores v as the fresh and the stale copy of v.Key.
	Set(ctx context.Context, v View, opts ...PutOption) error

	// Stale returns the last stored copy of key, even if invalidated or expired.
	Stale(ctx context.Context, key string) (*View, bool, error)

	// Invalidate drops the fresh copy of every view carrying any of tags and
	// bumps the version of each tag.
	Invalidate(ctx context.Context, tags ...string) error

	// Versions returns the current version of each tag, in order.
	Versions(ctx context.Context, tags ...string) ([]int64, error)

	Ping(ctx context.Context) error
}

// Tag helpers shared by writers and readers of views.

// DealerTag covers every view computed from one dealer's scopes.
func DealerTag(dealerID string) string { return "dealer:" + dealerID }

// AllDealersTag covers views aggregated across dealers.
const AllDealersTag = "dealer:*"

// ModelTag covers forecast views of one model.
func ModelTag(modelID string) string { return "model:" + modelID }

func resolve(defaults PutOptions, opts []PutOption) PutOptions {
	o := defaults
	for _, fn := range opts {
		fn(&o)
	}
	if o.StaleTTL < o.TTL {
		o.StaleTTL = o.TTL
	}
	return o
}

func checkVersions(v View, expected []int64, current func(tag string) int64) error {
	if expected == nil {
		return nil
	}
	if len(expected) != len(v.Tags) {
		return fmt.Errorf("view %s: %d versions for %d tags", v.Key, len(expected), len(v.Tags))
	}
	for i, tag := range v.Tags {
		if current(tag) != expected[i] {
			return ErrConflict
		}
	}
	return nil
}

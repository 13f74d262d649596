// Package query provides the read-only projections exposed to the
// front-end. All data access for list views goes through this package
// instead of reconstructing flow objects from raw chunks.
//
// Projections are recomputed from committed chunk state on every call:
// there is no cache and no incremental maintenance. Missing payload
// fields render as empty or null rather than failing the query, since
// capture data may be incomplete.
package query

import (
	"context"
	"time"
)

// Engine is the projection query surface.
type Engine interface {
	// FlowTable returns one summary row per captured flow, ordered by
	// insertion order.
	FlowTable(ctx context.Context, filter FlowFilter) ([]*FlowRow, error)

	// FlowCount returns the number of flow rows.
	FlowCount(ctx context.Context) (int, error)

	// Headers returns one row per header entry per flow chunk, for
	// substring search across headers.
	Headers(ctx context.Context, filter HeaderFilter) ([]*HeaderRow, error)

	// KindStats returns chunk count and payload bytes per kind.
	KindStats(ctx context.Context) ([]*KindStat, error)

	Close() error
}

// FlowRow is one row of the flow table projection, derived from an
// http_flow chunk plus the content chunks sharing its mid.
type FlowRow struct {
	MID       string
	CreatedAt time.Time
	Method    string
	Host      string
	Path      string

	// StatusCode is nil while no response has been captured.
	StatusCode *int

	// ContentType is the primary media type of the response, with any
	// parameters after ';' stripped. When a response carries several
	// Content-Type headers the first one in header list order wins.
	ContentType string

	// Duration is response end minus response start in seconds, nil
	// unless both timestamps are present.
	Duration *float64

	// Size is the summed payload byte length of the mid's
	// request_content and response_content chunks.
	Size int64
}

// FlowFilter defines filters for the flow table.
type FlowFilter struct {
	Offset int
	Limit  int

	// MID restricts to a single flow.
	MID string

	// Method matches case-insensitively via the method index.
	Method string

	// Host matches exactly.
	Host string

	// StatusCode matches exactly when > 0.
	StatusCode int
}

// HeaderRow is one row of the header projection.
type HeaderRow struct {
	MID   string
	Key   string
	Value string

	// KV is the "key=value" composite. Searching this one wide string
	// per header row is much faster than scanning the extracted
	// columns separately.
	KV string
}

// HeaderFilter defines filters for the header projection.
type HeaderFilter struct {
	Offset int
	Limit  int

	// MID restricts to a single flow.
	MID string

	// Substring is matched against the KV composite.
	Substring string
}

// KindStat holds per-kind storage statistics.
type KindStat struct {
	Kind   string
	Chunks int
	Bytes  int64
}

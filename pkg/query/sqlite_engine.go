package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/flowstash/flowstash/pkg/model"
	"github.com/flowstash/flowstash/pkg/store"
	"github.com/flowstash/flowstash/pkg/store/sqlite"
)

var _ Engine = (*SQLiteEngine)(nil)

// SQLiteEngine implements Engine over the SQLite chunk store. All
// derived fields are computed in SQL with the JSON functions; nothing
// is materialized between calls.
type SQLiteEngine struct {
	store *sqlite.SQLiteStore
}

// NewSQLiteEngine creates a query engine over an open store.
func NewSQLiteEngine(s *sqlite.SQLiteStore) *SQLiteEngine {
	return &SQLiteEngine{store: s}
}

// Open opens an existing capture database read-only and returns an
// engine over it.
func Open(dbPath string) (*SQLiteEngine, error) {
	s, err := sqlite.New(store.Config{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "open capture db")
	}
	s.SetLogger(log.Logger)
	return NewSQLiteEngine(s), nil
}

// Close closes the underlying store.
func (e *SQLiteEngine) Close() error {
	return e.store.Close()
}

// flowTableSelect derives every display field from current chunk
// state. Payloads are stored as blobs, so they are cast to text before
// the JSON functions see them. The content-type subquery orders the
// response header list by array index, so the first matching header
// wins deterministically. The size subquery sums the content chunks
// sharing the flow's mid.
const flowTableSelect = `
SELECT c.mid,
       c.created_ns,
       c.derived_method,
       COALESCE(json_extract(CAST(c.data AS TEXT), '$.request.host'), ''),
       COALESCE(json_extract(CAST(c.data AS TEXT), '$.request.path'), ''),
       json_extract(CAST(c.data AS TEXT), '$.response.status_code'),
       (SELECT json_extract(h.value, '$[1]')
          FROM json_each(CAST(c.data AS TEXT), '$.response.headers') h
         WHERE lower(json_extract(h.value, '$[0]')) = 'content-type'
         ORDER BY h.key
         LIMIT 1),
       json_extract(CAST(c.data AS TEXT), '$.response.timestamp_end') -
           json_extract(CAST(c.data AS TEXT), '$.response.timestamp_start'),
       (SELECT COALESCE(SUM(length(b.data)), 0)
          FROM chunk b
         WHERE b.mid = c.mid
           AND b.kind IN ('request_content', 'response_content'))
  FROM chunk c
 WHERE c.kind = 'http_flow' AND json_valid(CAST(c.data AS TEXT))`

// FlowTable returns flow summary rows in insertion order.
func (e *SQLiteEngine) FlowTable(ctx context.Context, filter FlowFilter) ([]*FlowRow, error) {
	query := flowTableSelect
	args := []interface{}{}

	if filter.MID != "" {
		query += " AND c.mid = ?"
		args = append(args, filter.MID)
	}
	if filter.Method != "" {
		query += " AND upper(c.derived_method) = upper(?)"
		args = append(args, filter.Method)
	}
	if filter.Host != "" {
		query += " AND json_extract(CAST(c.data AS TEXT), '$.request.host') = ?"
		args = append(args, filter.Host)
	}
	if filter.StatusCode > 0 {
		query += " AND json_extract(CAST(c.data AS TEXT), '$.response.status_code') = ?"
		args = append(args, filter.StatusCode)
	}

	query += " ORDER BY c.id"
	query += paginate(filter.Limit, filter.Offset)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query flow table")
	}
	defer rows.Close()

	var flows []*FlowRow
	for rows.Next() {
		f, err := scanFlowRow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// FlowCount returns the number of flow chunks.
func (e *SQLiteEngine) FlowCount(ctx context.Context) (int, error) {
	var n int
	err := e.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk WHERE kind = 'http_flow'`).Scan(&n)
	return n, err
}

// headerSelect expands each flow chunk's request and response header
// lists into one row per header, with the precomputed "key=value"
// composite used for substring search.
const headerSelect = `
SELECT mid, hkey, hvalue, kvstr FROM (
	SELECT c.mid AS mid,
	       json_extract(h.value, '$[0]') AS hkey,
	       json_extract(h.value, '$[1]') AS hvalue,
	       json_extract(h.value, '$[0]') || '=' || json_extract(h.value, '$[1]') AS kvstr
	  FROM chunk c, json_each(CAST(c.data AS TEXT), '$.request.headers') h
	 WHERE c.kind = 'http_flow' AND json_valid(CAST(c.data AS TEXT))
	UNION ALL
	SELECT c.mid,
	       json_extract(h.value, '$[0]'),
	       json_extract(h.value, '$[1]'),
	       json_extract(h.value, '$[0]') || '=' || json_extract(h.value, '$[1]')
	  FROM chunk c, json_each(CAST(c.data AS TEXT), '$.response.headers') h
	 WHERE c.kind = 'http_flow' AND json_valid(CAST(c.data AS TEXT))
) WHERE 1=1`

// Headers returns header projection rows.
func (e *SQLiteEngine) Headers(ctx context.Context, filter HeaderFilter) ([]*HeaderRow, error) {
	query := headerSelect
	args := []interface{}{}

	if filter.MID != "" {
		query += " AND mid = ?"
		args = append(args, filter.MID)
	}
	if filter.Substring != "" {
		query += " AND kvstr LIKE ?"
		args = append(args, "%"+filter.Substring+"%")
	}
	query += paginate(filter.Limit, filter.Offset)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query headers")
	}
	defer rows.Close()

	var headers []*HeaderRow
	for rows.Next() {
		h := &HeaderRow{}
		if err := rows.Scan(&h.MID, &h.Key, &h.Value, &h.KV); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// KindStats returns chunk count and payload bytes per kind.
func (e *SQLiteEngine) KindStats(ctx context.Context) ([]*KindStat, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(length(data)), 0)
		  FROM chunk GROUP BY kind ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query kind stats")
	}
	defer rows.Close()

	var stats []*KindStat
	for rows.Next() {
		s := &KindStat{}
		if err := rows.Scan(&s.Kind, &s.Chunks, &s.Bytes); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// paginate builds the LIMIT/OFFSET clause. SQLite only accepts OFFSET
// after LIMIT, so an offset without a limit rides on LIMIT -1.
func paginate(limit, offset int) string {
	var clause string
	switch {
	case limit > 0:
		clause = fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		clause = " LIMIT -1"
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func scanFlowRow(rows *sql.Rows) (*FlowRow, error) {
	f := &FlowRow{}
	var createdNS int64
	var status sql.NullInt64
	var contentType sql.NullString
	var duration sql.NullFloat64

	err := rows.Scan(&f.MID, &createdNS, &f.Method, &f.Host, &f.Path,
		&status, &contentType, &duration, &f.Size)
	if err != nil {
		return nil, err
	}

	f.CreatedAt = time.Unix(0, createdNS)
	if status.Valid {
		v := int(status.Int64)
		f.StatusCode = &v
	}
	if contentType.Valid {
		f.ContentType = model.PrimaryContentType(contentType.String)
	}
	if duration.Valid {
		v := duration.Float64
		f.Duration = &v
	}
	return f, nil
}

package query

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowstash/flowstash/pkg/model"
	"github.com/flowstash/flowstash/pkg/store"
	"github.com/flowstash/flowstash/pkg/store/sqlite"
)

func newTestEngine(t *testing.T) (*sqlite.SQLiteStore, *SQLiteEngine) {
	t.Helper()
	s, err := sqlite.New(store.Config{
		DBPath:          filepath.Join(t.TempDir(), "test.db"),
		WAL:             true,
		RepeatableKinds: store.DefaultRepeatableKinds,
	})
	require.NoError(t, err)
	e := NewSQLiteEngine(s)
	t.Cleanup(func() { e.Close() })
	return s, e
}

func insertFlow(t *testing.T, s *sqlite.SQLiteStore, mid string, p model.FlowPayload) {
	t.Helper()
	data, err := json.Marshal(&p)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), mid, model.KindHTTPFlow, data)
	require.NoError(t, err)
}

func TestFlowTableFields(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{
			Method: "GET",
			Host:   "example.com",
			Path:   "/index.html",
		},
		Response: &model.ResponseState{
			StatusCode:     200,
			Headers:        model.HeaderList{{"Content-Type", "text/html; charset=utf-8"}},
			TimestampStart: 10.0,
			TimestampEnd:   10.25,
		},
	})

	flows, err := e.FlowTable(ctx, FlowFilter{})
	require.NoError(t, err)
	require.Len(t, flows, 1)

	f := flows[0]
	require.Equal(t, "m1", f.MID)
	require.Equal(t, "GET", f.Method)
	require.Equal(t, "example.com", f.Host)
	require.Equal(t, "/index.html", f.Path)
	require.NotNil(t, f.StatusCode)
	require.Equal(t, 200, *f.StatusCode)
	require.Equal(t, "text/html", f.ContentType)
	require.NotNil(t, f.Duration)
	require.InDelta(t, 0.25, *f.Duration, 1e-9)
	require.False(t, f.CreatedAt.IsZero())
}

func TestFlowTableNoResponse(t *testing.T) {
	s, e := newTestEngine(t)

	// Response not captured yet: status and duration are null, the
	// query still succeeds.
	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
	})

	flows, err := e.FlowTable(context.Background(), FlowFilter{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Nil(t, flows[0].StatusCode)
	require.Nil(t, flows[0].Duration)
	require.Empty(t, flows[0].ContentType)
}

func TestFlowTableMalformedPayload(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	// No request object at all: affected fields render empty instead
	// of aborting the projection.
	_, err := s.Insert(ctx, "m1", model.KindHTTPFlow, []byte(`{}`))
	require.NoError(t, err)

	flows, err := e.FlowTable(ctx, FlowFilter{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Empty(t, flows[0].Method)
	require.Empty(t, flows[0].Host)
	require.Nil(t, flows[0].StatusCode)
}

func TestFlowTableContentTypeFirstMatchWins(t *testing.T) {
	s, e := newTestEngine(t)

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
		Response: &model.ResponseState{
			StatusCode: 200,
			Headers: model.HeaderList{
				{"content-type", "application/json"},
				{"Content-Type", "text/html"},
			},
		},
	})

	flows, err := e.FlowTable(context.Background(), FlowFilter{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "application/json", flows[0].ContentType)
}

func TestFlowTableSizeAggregation(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "POST", Host: "example.com", Path: "/upload"},
	})
	_, err := s.Insert(ctx, "m1", model.KindRequestContent, make([]byte, 100))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "m1", model.KindResponseContent, make([]byte, 250))
	require.NoError(t, err)

	// Content of unrelated flows must not leak into the sum.
	insertFlow(t, s, "m2", model.FlowPayload{
		Request: &model.RequestState{Method: "GET", Host: "other.com", Path: "/"},
	})
	_, err = s.Insert(ctx, "m2", model.KindRequestContent, make([]byte, 999))
	require.NoError(t, err)

	flows, err := e.FlowTable(ctx, FlowFilter{MID: "m1"})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, int64(350), flows[0].Size)
}

func TestFlowTableMethodFilterCaseInsensitive(t *testing.T) {
	s, e := newTestEngine(t)

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "get", Host: "example.com", Path: "/"},
	})
	insertFlow(t, s, "m2", model.FlowPayload{
		Request: &model.RequestState{Method: "POST", Host: "example.com", Path: "/"},
	})

	flows, err := e.FlowTable(context.Background(), FlowFilter{Method: "GET"})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "m1", flows[0].MID)
	require.Equal(t, "get", flows[0].Method)
}

func TestFlowTableInsertionOrder(t *testing.T) {
	s, e := newTestEngine(t)

	for _, mid := range []string{"m3", "m1", "m2"} {
		insertFlow(t, s, mid, model.FlowPayload{
			Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
		})
	}

	flows, err := e.FlowTable(context.Background(), FlowFilter{})
	require.NoError(t, err)
	require.Len(t, flows, 3)
	require.Equal(t, "m3", flows[0].MID)
	require.Equal(t, "m1", flows[1].MID)
	require.Equal(t, "m2", flows[2].MID)
}

func TestFlowTablePagination(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	for _, mid := range []string{"m1", "m2", "m3"} {
		insertFlow(t, s, mid, model.FlowPayload{
			Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
		})
	}

	flows, err := e.FlowTable(ctx, FlowFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	require.Equal(t, "m1", flows[0].MID)
	require.Equal(t, "m2", flows[1].MID)

	// An offset alone skips rows without bounding the result.
	flows, err = e.FlowTable(ctx, FlowFilter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	require.Equal(t, "m2", flows[0].MID)
	require.Equal(t, "m3", flows[1].MID)

	flows, err = e.FlowTable(ctx, FlowFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "m3", flows[0].MID)
}

func TestHeadersPagination(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{
			Method: "GET",
			Host:   "example.com",
			Path:   "/",
			Headers: model.HeaderList{
				{"User-Agent", "curl/8.0"},
				{"Accept", "*/*"},
				{"Accept-Encoding", "gzip"},
			},
		},
	})

	headers, err := e.Headers(ctx, HeaderFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, headers, 2)

	headers, err = e.Headers(ctx, HeaderFilter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, headers, 2)

	headers, err = e.Headers(ctx, HeaderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, headers, 1)
}

func TestFlowTableDeleteRemovesRow(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
	})
	chunks, err := s.ListByMID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	require.NoError(t, s.Delete(ctx, chunks[0].ID))

	flows, err := e.FlowTable(ctx, FlowFilter{})
	require.NoError(t, err)
	require.Empty(t, flows)

	headers, err := e.Headers(ctx, HeaderFilter{})
	require.NoError(t, err)
	require.Empty(t, headers)
}

func TestHeadersProjection(t *testing.T) {
	s, e := newTestEngine(t)

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{
			Method:  "GET",
			Host:    "example.com",
			Path:    "/",
			Headers: model.HeaderList{{"User-Agent", "curl/8.0"}, {"Accept", "*/*"}},
		},
		Response: &model.ResponseState{
			StatusCode: 200,
			Headers:    model.HeaderList{{"Server", "nginx"}},
		},
	})

	headers, err := e.Headers(context.Background(), HeaderFilter{MID: "m1"})
	require.NoError(t, err)
	require.Len(t, headers, 3)

	kvs := make([]string, len(headers))
	for i, h := range headers {
		require.Equal(t, "m1", h.MID)
		require.Equal(t, h.Key+"="+h.Value, h.KV)
		kvs[i] = h.KV
	}
	require.Contains(t, kvs, "User-Agent=curl/8.0")
	require.Contains(t, kvs, "Accept=*/*")
	require.Contains(t, kvs, "Server=nginx")
}

func TestHeadersSubstringSearch(t *testing.T) {
	s, e := newTestEngine(t)

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{
			Method:  "GET",
			Host:    "example.com",
			Path:    "/",
			Headers: model.HeaderList{{"User-Agent", "AppleWebKit/537.36"}},
		},
	})
	insertFlow(t, s, "m2", model.FlowPayload{
		Request: &model.RequestState{
			Method:  "GET",
			Host:    "example.com",
			Path:    "/",
			Headers: model.HeaderList{{"User-Agent", "curl/8.0"}},
		},
	})

	headers, err := e.Headers(context.Background(), HeaderFilter{Substring: "Apple"})
	require.NoError(t, err)
	require.Len(t, headers, 1)
	require.Equal(t, "m1", headers[0].MID)
}

func TestKindStatsAndFlowCount(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	insertFlow(t, s, "m1", model.FlowPayload{
		Request: &model.RequestState{Method: "GET", Host: "example.com", Path: "/"},
	})
	_, err := s.Insert(ctx, "m1", model.KindRequestContent, make([]byte, 64))
	require.NoError(t, err)

	n, err := e.FlowCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stats, err := e.KindStats(ctx)
	require.NoError(t, err)
	byKind := map[string]*KindStat{}
	for _, st := range stats {
		byKind[st.Kind] = st
	}
	require.Contains(t, byKind, model.KindHTTPFlow)
	require.Contains(t, byKind, model.KindRequestContent)
	require.Equal(t, int64(64), byKind[model.KindRequestContent].Bytes)
}

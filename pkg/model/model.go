// Package model defines the chunk data model and the typed payload
// variants stored per chunk kind. Chunks are the only persisted entity:
// everything the front-end displays is derived from them at query time.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Chunk kinds. The vocabulary is open-ended; these are the kinds the
// HTTP serializer produces.
const (
	KindHTTPFlow        = "http_flow"
	KindRequestContent  = "request_content"
	KindResponseContent = "response_content"
	KindClientConn      = "client_conn"
	KindServerConn      = "server_conn"
	KindStreamChunk     = "stream_chunk" // streamed body fragment, repeatable per mid
)

// Chunk is one persisted unit of captured data.
// The store owns ID and Seq; producers own Payload.
type Chunk struct {
	// ID is assigned by the store, unique and stable for the life of
	// the chunk, strictly increasing by insertion order.
	ID int64 `json:"id"`

	// MID groups all chunks belonging to one captured exchange.
	MID string `json:"mid"`

	// Kind classifies the payload shape.
	Kind string `json:"kind"`

	// Seq is the per-mid sequence number, assigned at insert time.
	Seq int64 `json:"seq"`

	// Payload is opaque to the store beyond what derived fields need.
	Payload []byte `json:"payload"`

	// DerivedMethod is recomputed from Payload on every write for
	// http_flow chunks; empty for all other kinds. Never set directly.
	DerivedMethod string `json:"derived_method"`

	// CreatedNS is the insert timestamp in unix nanoseconds.
	CreatedNS int64 `json:"created_ns"`
}

// CreatedAt returns the chunk creation time.
func (c *Chunk) CreatedAt() time.Time {
	return time.Unix(0, c.CreatedNS)
}

// ChunkRef identifies a freshly inserted chunk.
type ChunkRef struct {
	ID  int64
	MID string
	Seq int64
}

// HeaderList is an ordered list of [name, value] pairs, serialized as
// a JSON array of two-element arrays so SQLite's json_each can walk it.
type HeaderList [][2]string

// Get returns the value of the first header matching name
// case-insensitively, and whether one was found.
func (h HeaderList) Get(name string) (string, bool) {
	for _, kv := range h {
		if strings.EqualFold(kv[0], name) {
			return kv[1], true
		}
	}
	return "", false
}

// RequestState is the request half of an http_flow payload.
type RequestState struct {
	Method         string     `json:"method"`
	Scheme         string     `json:"scheme,omitempty"`
	Host           string     `json:"host"`
	Port           int        `json:"port,omitempty"`
	Path           string     `json:"path"`
	HTTPVersion    string     `json:"http_version,omitempty"`
	Headers        HeaderList `json:"headers,omitempty"`
	TimestampStart float64    `json:"timestamp_start,omitempty"`
	TimestampEnd   float64    `json:"timestamp_end,omitempty"`
}

// ResponseState is the response half of an http_flow payload.
// It is nil while the response has not been captured yet.
type ResponseState struct {
	StatusCode     int        `json:"status_code"`
	Reason         string     `json:"reason,omitempty"`
	HTTPVersion    string     `json:"http_version,omitempty"`
	Headers        HeaderList `json:"headers,omitempty"`
	TimestampStart float64    `json:"timestamp_start,omitempty"`
	TimestampEnd   float64    `json:"timestamp_end,omitempty"`
}

// FlowPayload is the structured document stored in http_flow chunks.
// Content bodies are stored separately as request_content and
// response_content chunks, keyed by the same mid.
type FlowPayload struct {
	Request  *RequestState  `json:"request"`
	Response *ResponseState `json:"response"`
	Marked   string         `json:"marked,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

// Duration returns response end minus response start in seconds, or
// nil when the response or its timestamps are absent.
func (p *FlowPayload) Duration() *float64 {
	if p.Response == nil || p.Response.TimestampStart == 0 || p.Response.TimestampEnd == 0 {
		return nil
	}
	d := p.Response.TimestampEnd - p.Response.TimestampStart
	return &d
}

// ConnState is the connection metadata stored in client_conn and
// server_conn chunks.
type ConnState struct {
	PeerAddress string `json:"peer_address,omitempty"`
	SockAddress string `json:"sock_address,omitempty"`
	TLSVersion  string `json:"tls_version,omitempty"`
	SNI         string `json:"sni,omitempty"`
}

// DerivedMethod extracts the HTTP method from an http_flow payload.
// It returns "" for any other kind and for payloads missing the
// request object; extraction never fails, incomplete capture data
// renders as empty instead.
func DerivedMethod(kind string, payload []byte) string {
	if kind != KindHTTPFlow {
		return ""
	}
	var doc struct {
		Request struct {
			Method string `json:"method"`
		} `json:"request"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	return doc.Request.Method
}

// PrimaryContentType reduces a Content-Type header value to its media
// type: anything from the first ';' on (charset and other parameters)
// is stripped.
func PrimaryContentType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

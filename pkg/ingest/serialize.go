// Package ingest bridges the capture engine and the chunk store: it
// splits one captured flow into its chunk set on write and reassembles
// flow state from a mid's chunks on read.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowstash/flowstash/pkg/model"
	"github.com/flowstash/flowstash/pkg/store"
)

// Flow is one captured HTTP exchange as handed over by the capture
// engine. Bodies are kept out of the state document and stored as
// separate content chunks, so list projections never load them.
type Flow struct {
	// ID becomes the mid; a fresh uuid is assigned when empty.
	ID string

	State        model.FlowPayload
	RequestBody  []byte
	ResponseBody []byte
	ClientConn   *model.ConnState
	ServerConn   *model.ConnState
}

// Serializer writes captured flows through a chunk store.
type Serializer struct {
	store store.Store
	log   zerolog.Logger
}

// NewSerializer creates a serializer over an open store.
func NewSerializer(s store.Store, log zerolog.Logger) *Serializer {
	return &Serializer{store: s, log: log}
}

// Write persists a flow as its chunk set and returns the mid. Content
// and connection chunks are written before the flow state chunk, so a
// reader that sees the http_flow chunk sees a complete set.
func (s *Serializer) Write(ctx context.Context, f *Flow) (string, error) {
	mid := f.ID
	if mid == "" {
		mid = uuid.NewString()
	}

	if f.RequestBody != nil {
		if _, err := s.store.Insert(ctx, mid, model.KindRequestContent, f.RequestBody); err != nil {
			return "", errors.Wrap(err, "write request content")
		}
	}
	if f.ResponseBody != nil {
		if _, err := s.store.Insert(ctx, mid, model.KindResponseContent, f.ResponseBody); err != nil {
			return "", errors.Wrap(err, "write response content")
		}
	}
	if f.ClientConn != nil {
		if err := s.writeJSON(ctx, mid, model.KindClientConn, f.ClientConn); err != nil {
			return "", err
		}
	}
	if f.ServerConn != nil {
		if err := s.writeJSON(ctx, mid, model.KindServerConn, f.ServerConn); err != nil {
			return "", err
		}
	}
	if err := s.writeJSON(ctx, mid, model.KindHTTPFlow, &f.State); err != nil {
		return "", err
	}

	s.log.Debug().Str("mid", mid).Msg("flow serialized")
	return mid, nil
}

func (s *Serializer) writeJSON(ctx context.Context, mid, kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", kind)
	}
	if _, err := s.store.Insert(ctx, mid, kind, data); err != nil {
		return errors.Wrapf(err, "write %s", kind)
	}
	return nil
}

// Read reassembles a flow from the chunks stored under mid. Missing
// chunks leave the corresponding fields empty; a mid with no chunks at
// all is not a flow.
func (s *Serializer) Read(ctx context.Context, mid string) (*Flow, error) {
	chunks, err := s.store.ListByMID(ctx, mid)
	if err != nil {
		return nil, errors.Wrap(err, "list chunks")
	}
	if len(chunks) == 0 {
		return nil, store.ErrNotFound
	}

	f := &Flow{ID: mid}
	for _, c := range chunks {
		switch c.Kind {
		case model.KindHTTPFlow:
			if err := json.Unmarshal(c.Payload, &f.State); err != nil {
				return nil, errors.Wrap(err, "decode flow state")
			}
		case model.KindRequestContent:
			f.RequestBody = c.Payload
		case model.KindResponseContent:
			f.ResponseBody = c.Payload
		case model.KindClientConn:
			f.ClientConn = decodeConn(c.Payload)
		case model.KindServerConn:
			f.ServerConn = decodeConn(c.Payload)
		}
	}
	return f, nil
}

func decodeConn(payload []byte) *model.ConnState {
	conn := &model.ConnState{}
	if err := json.Unmarshal(payload, conn); err != nil {
		return nil
	}
	return conn
}

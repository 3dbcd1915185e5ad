// Package service implements the reconciliation protocol operations over the
// strategy registry: batch reconcile, preview, flyout, the suggest family
// and the service metadata manifest. It owns the wire shapes of the
// protocol; the HTTP layer only decodes requests into them and encodes the
// results back out.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// QueryRequest is one sub-query of a reconcile batch as it appears on the
// wire.
type QueryRequest struct {
	Query string `json:"query"`
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`

	Properties []PropertyInput `json:"properties,omitempty"`

	// Mode selects a secondary matching column for entities that support it
	// (bibliographic references).
	Mode string `json:"mode,omitempty"`

	// LocationTypeIDs restricts location queries to the given type ids.
	LocationTypeIDs []int `json:"location_type_ids,omitempty"`
}

// PropertyInput is one property constraint of a sub-query.
type PropertyInput struct {
	PID string `json:"pid"`
	V   any    `json:"v"`
}

// Batch is an ordered reconcile request: Keys preserves the insertion order
// of the wire object's members.
type Batch struct {
	Keys    []string
	Queries map[string]QueryRequest
}

// ParseBatch decodes the protocol's {"queries": {...}} payload, capturing
// key order from the raw token stream since Go maps do not keep it.
func ParseBatch(data []byte) (Batch, error) {
	var envelope struct {
		Queries map[string]QueryRequest `json:"queries"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Batch{}, fmt.Errorf("service: parse batch: %w", err)
	}
	if envelope.Queries == nil {
		return Batch{}, fmt.Errorf("service: parse batch: missing queries member")
	}

	keys, err := orderedKeys(data, "queries")
	if err != nil {
		return Batch{}, fmt.Errorf("service: parse batch: %w", err)
	}
	return Batch{Keys: keys, Queries: envelope.Queries}, nil
}

// orderedKeys walks the JSON token stream and returns the member names of
// the object at top-level key member, in wire order.
func orderedKeys(data []byte, member string) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	// Consume the opening brace of the envelope.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		if name != member {
			// Skip this member's value wholesale.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := dec.Token(); err != nil { // opening brace of the member
			return nil, err
		}
		var keys []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected token %v", tok)
			}
			keys = append(keys, key)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
		return keys, nil
	}
	return nil, fmt.Errorf("member %q not found", member)
}

// ProtocolCandidate is the wire shape of one reconciliation candidate.
type ProtocolCandidate struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Score float64                `json:"score"`
	Match bool                   `json:"match"`
	Type  []reconcile.EntityType `json:"type"`

	LLMConfidence *float64       `json:"llm_confidence,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// QueryResult is the per-key response envelope. Error carries a stable
// machine-readable code; Result is empty but present when it is set.
type QueryResult struct {
	Result []ProtocolCandidate `json:"result"`
	Error  string              `json:"error,omitempty"`
}

// BatchResult is an ordered reconcile response. Its JSON form is an object
// whose members appear in request-key order.
type BatchResult struct {
	Keys    []string
	Results map[string]QueryResult
}

// MarshalJSON writes the results in key order.
func (b BatchResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range b.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(b.Results[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Error codes surfaced per sub-query.
const (
	codeInvalidQuery      = "invalid_query"
	codeUnknownEntityType = "unknown_entity_type"
	codeOverloaded        = "overloaded"
	codeInternal          = "internal"
)

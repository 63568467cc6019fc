package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
)

// Schema describes one registered event type.
type Schema struct {
	// Type is the routing key the payload is published under.
	Type v1.EventType `json:"type"`

	// Version is bumped whenever the payload shape changes incompatibly.
	Version int `json:"version"`

	// Fields lists the JSON field names of the payload, sorted.
	Fields []string `json:"fields"`

	// Fingerprint is SHA-256 over Type, Version and Fields.
	Fingerprint string `json:"fingerprint"`

	// StrictMode rejects payloads with unknown fields when true.
	StrictMode bool `json:"strict_mode"`

	decode decodeFunc
}

type decodeFunc func(data []byte, strict bool) (v1.Payload, error)

// decodeAs decodes data into the concrete payload type T.
func decodeAs[T v1.Payload](data []byte, strict bool) (v1.Payload, error) {
	var p T
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// jsonFields returns the sorted JSON names of T's exported fields.
func jsonFields[T any]() []string {
	var zero T
	rt := reflect.TypeOf(zero)
	fields := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// ComputeFingerprint calculates a SHA-256 hash over the schema identity and field set.
func ComputeFingerprint(eventType v1.EventType, version int, fields []string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0, byte(version)})
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

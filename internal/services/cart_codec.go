package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Metadata codec defaults. PSP metadata values cap at 500 characters and 50
// keys per object; both limits stay slightly under the hard caps.
const (
	DefaultChunkSize = 450
	DefaultMaxFields = 45
)

// ErrMetadataTooLarge is returned when an encoded payload would exceed the
// metadata field budget of the target object.
var ErrMetadataTooLarge = errors.New("services: encoded payload exceeds metadata field budget")

// ChunkCodec serialises a value into size-constrained metadata fields and
// reassembles it later. Small payloads land in a single field under Key;
// larger ones fan out into Key_chunks plus Key_0..Key_{n-1} fragments.
type ChunkCodec struct {
	Key       string
	ChunkSize int
	MaxFields int
}

// NewChunkCodec constructs a codec for the given base key, applying defaults
// for non-positive limits.
func NewChunkCodec(key string, chunkSize, maxFields int) ChunkCodec {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxFields <= 0 {
		maxFields = DefaultMaxFields
	}
	return ChunkCodec{Key: strings.TrimSpace(key), ChunkSize: chunkSize, MaxFields: maxFields}
}

// Encode marshals v and splits the JSON across metadata fields. Payloads that
// would exceed MaxFields fail with ErrMetadataTooLarge rather than truncate.
func (c ChunkCodec) Encode(v any) (map[string]string, error) {
	if c.Key == "" {
		return nil, errors.New("services: codec key is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("services: encode %s: %w", c.Key, err)
	}

	encoded := string(data)
	if len(encoded) <= c.ChunkSize {
		return map[string]string{c.Key: encoded}, nil
	}

	fragments := splitRunes(encoded, c.ChunkSize)
	// one field for the count plus one per fragment
	if len(fragments)+1 > c.MaxFields {
		return nil, fmt.Errorf("%w: %s needs %d fields, limit %d",
			ErrMetadataTooLarge, c.Key, len(fragments)+1, c.MaxFields)
	}

	fields := make(map[string]string, len(fragments)+1)
	fields[c.Key+"_chunks"] = strconv.Itoa(len(fragments))
	for i, fragment := range fragments {
		fields[c.Key+"_"+strconv.Itoa(i)] = fragment
	}
	return fields, nil
}

// Decode reassembles the value from metadata fields into v. It reports false
// when the payload is absent or cannot be parsed, so callers can fall through
// to an alternative source.
func (c ChunkCodec) Decode(fields map[string]string, v any) bool {
	if c.Key == "" || len(fields) == 0 {
		return false
	}

	if raw, ok := fields[c.Key]; ok && raw != "" {
		if json.Unmarshal([]byte(raw), v) == nil {
			return true
		}
		return false
	}

	countRaw, ok := fields[c.Key+"_chunks"]
	if !ok {
		return false
	}
	count, err := strconv.Atoi(countRaw)
	if err != nil || count <= 0 {
		return false
	}

	var sb strings.Builder
	for i := 0; i < count; i++ {
		sb.WriteString(fields[c.Key+"_"+strconv.Itoa(i)])
	}
	return json.Unmarshal([]byte(sb.String()), v) == nil
}

// splitRunes cuts s into pieces of at most size bytes without splitting a
// multi-byte rune, keeping every fragment valid UTF-8 for the metadata store.
func splitRunes(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	var fragments []string
	for len(s) > size {
		cut := size
		// back up to a rune boundary
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		fragments = append(fragments, s[:cut])
		s = s[cut:]
	}
	return append(fragments, s)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

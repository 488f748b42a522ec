package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var (
	errNotNumeric = errors.New("not a number")
	errNotFinite  = errors.New("not a finite number")
)

// Vector is a feature vector in schema order.
type Vector []float64

// Encoder derives feature vectors from claim records. It holds no mutable
// state and is safe for concurrent use.
type Encoder struct {
	schema    Schema
	table     *FrequencyTable
	spellings [][]string
}

// NewEncoder validates the schema and binds it to a frequency table.
func NewEncoder(schema Schema, table *FrequencyTable) (*Encoder, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature schema: %w", err)
	}
	if table == nil {
		return nil, errors.New("frequency table is required")
	}

	spellings := make([][]string, len(schema))
	for i, slot := range schema {
		seen := make(map[string]bool)
		for _, s := range slot.Spellings() {
			key := NormalizeKey(s)
			if !seen[key] {
				seen[key] = true
				spellings[i] = append(spellings[i], key)
			}
		}
	}

	return &Encoder{
		schema:    schema,
		table:     table,
		spellings: spellings,
	}, nil
}

// Schema returns the slot layout the encoder produces.
func (e *Encoder) Schema() Schema {
	return e.schema
}

// Encode builds the feature vector for one record. The record is not modified.
func (e *Encoder) Encode(record domain.ClaimRecord) (Vector, error) {
	index := indexRecord(record)
	vec := make(Vector, len(e.schema))

	for i, slot := range e.schema {
		key, raw, found := e.resolve(index, i)
		if !found {
			raw = nil
		}

		switch slot.Kind {
		case KindNumeric:
			if !found {
				continue
			}
			v, err := toFloat(raw)
			if err != nil {
				return nil, &domain.EncodingError{Field: slot.Name, Key: key, Value: raw, Err: err}
			}
			vec[i] = v

		case KindEnum:
			if s, ok := raw.(string); ok {
				vec[i] = slot.Enum[strings.TrimSpace(s)]
			}

		case KindFlag:
			if s, ok := raw.(string); ok && strings.TrimSpace(s) == slot.TrueToken {
				vec[i] = 1
			}

		case KindFrequency:
			vec[i] = float64(e.table.Lookup(slot.Table, raw))
		}
	}

	return vec, nil
}

// resolve finds the first spelling of slot i carrying a value. A spelling
// whose value is missing only wins when no other spelling has one.
func (e *Encoder) resolve(index map[string]recordEntry, i int) (string, any, bool) {
	var fallback *recordEntry
	for _, key := range e.spellings[i] {
		entry, ok := index[key]
		if !ok {
			continue
		}
		if !isMissing(entry.value) {
			return entry.key, entry.value, true
		}
		if fallback == nil {
			fallback = &entry
		}
	}
	if fallback != nil {
		return fallback.key, fallback.value, false
	}
	return "", nil, false
}

type recordEntry struct {
	key   string
	value any
}

// indexRecord maps normalized keys to record entries. When two record keys
// fold to the same form, the first in sorted order with a value wins.
func indexRecord(record domain.ClaimRecord) map[string]recordEntry {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	index := make(map[string]recordEntry, len(keys))
	for _, k := range keys {
		norm := NormalizeKey(k)
		v := record[k]
		if prev, ok := index[norm]; ok && !isMissing(prev.value) {
			continue
		}
		index[norm] = recordEntry{key: k, value: v}
	}
	return index
}

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return strings.TrimSpace(string(x)) == ""
	}
	return false
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return 0, errNotNumeric
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errNotNumeric
		}
		f = parsed
	case []byte:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		if err != nil {
			return 0, errNotNumeric
		}
		f = parsed
	default:
		return 0, errNotNumeric
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

// Lookup returns the first value present under any of the given spellings,
// using the same key folding as the encoder.
func Lookup(record domain.ClaimRecord, spellings ...string) (any, bool) {
	index := indexRecord(record)
	for _, s := range spellings {
		if entry, ok := index[NormalizeKey(s)]; ok && !isMissing(entry.value) {
			return entry.value, true
		}
	}
	return nil, false
}

// ParseNumber parses a record value the way numeric slots do.
func ParseNumber(v any) (float64, error) {
	return toFloat(v)
}

// Package features turns raw claim records into the fixed-order numeric
// vector the fraud model was trained on.
package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// DefaultFrequency is returned for any value or table the frequency table
// does not know.
const DefaultFrequency = 1

// FrequencyTable maps a table name (BeneID, Provider, ...) to the observed
// count of each stringified category value. It is read-only after load and
// safe for concurrent use.
type FrequencyTable struct {
	tables map[string]map[string]int
}

// NewFrequencyTable builds a table from in-memory counts. The input is copied.
func NewFrequencyTable(tables map[string]map[string]int) *FrequencyTable {
	ft := &FrequencyTable{tables: make(map[string]map[string]int, len(tables))}
	for name, counts := range tables {
		cp := make(map[string]int, len(counts))
		for k, v := range counts {
			cp[k] = v
		}
		ft.tables[name] = cp
	}
	return ft
}

// LoadFrequencyTable reads a JSON document of the form
// {"Provider": {"PRV51001": 25, ...}, ...}.
func LoadFrequencyTable(path string) (*FrequencyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.StartupError{Component: "frequency table", Path: path, Err: err}
	}
	ft, err := ParseFrequencyTable(data)
	if err != nil {
		return nil, &domain.StartupError{Component: "frequency table", Path: path, Err: err}
	}
	return ft, nil
}

// ParseFrequencyTable decodes the JSON form accepted by LoadFrequencyTable.
func ParseFrequencyTable(data []byte) (*FrequencyTable, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty frequency table document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]map[string]json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode frequency table: %w", err)
	}
	if raw == nil {
		return nil, errors.New("frequency table document is null")
	}

	tables := make(map[string]map[string]int, len(raw))
	for name, counts := range raw {
		m := make(map[string]int, len(counts))
		for value, n := range counts {
			count, err := parseCount(n)
			if err != nil {
				return nil, fmt.Errorf("table %s value %q: %w", name, value, err)
			}
			m[value] = count
		}
		tables[name] = m
	}
	return &FrequencyTable{tables: tables}, nil
}

func parseCount(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("count %s is not an integer", n)
	}
	return int(f), nil
}

// Lookup returns the stored count for raw in the named table, or
// DefaultFrequency when either the table or the value is unknown.
func (ft *FrequencyTable) Lookup(table string, raw any) int {
	if ft == nil {
		return DefaultFrequency
	}
	counts, ok := ft.tables[table]
	if !ok {
		return DefaultFrequency
	}
	if n, ok := counts[Stringify(raw)]; ok {
		return n
	}
	return DefaultFrequency
}

// Tables returns the table names in sorted order.
func (ft *FrequencyTable) Tables() []string {
	if ft == nil {
		return nil
	}
	names := make([]string, 0, len(ft.tables))
	for name := range ft.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stringify renders a record value the way frequency table keys were written:
// nil is the empty string, numbers use their shortest decimal form and
// booleans are "True" or "False".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

package device

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record describes one device. Timestamp is Unix epoch milliseconds as
// reported by that device's own clock.
type Record struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Icon      *string `json:"icon"`
	Timestamp int64   `json:"timestamp"`
}

// LastSeen returns Timestamp as a time.
func (r Record) LastSeen() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// DisplayName returns the name, or the id when the device has none.
func (r Record) DisplayName() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return r.ID
}

// Table maps device id to record.
type Table map[string]Record

// DecodeTable parses a stored table. Empty input is an empty table.
// A record missing its id takes the id of its key.
func DecodeTable(data []byte) (Table, error) {
	t := Table{}
	if len(data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	if t == nil {
		// JSON null
		return Table{}, nil
	}
	for id, rec := range t {
		if rec.ID == "" {
			rec.ID = id
			t[id] = rec
		}
	}
	return t, nil
}

// Encode serialises the table. Keys are emitted in sorted order, so equal
// tables encode to identical bytes.
func (t Table) Encode() ([]byte, error) {
	if t == nil {
		t = Table{}
	}
	data, err := json.Marshal(map[string]Record(t))
	if err != nil {
		return nil, fmt.Errorf("encoding device table: %w", err)
	}
	return data, nil
}

// IDs returns the table's ids in ascending order.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a shallow copy.
func (t Table) Clone() Table {
	c := make(Table, len(t))
	for id, rec := range t {
		c[id] = rec
	}
	return c
}

// SortByName orders records by name ascending. Records without a name sort
// last; ties break on id so the order is stable.
func SortByName(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch {
		case a.Name == nil && b.Name == nil:
			return a.ID < b.ID
		case a.Name == nil:
			return false
		case b.Name == nil:
			return true
		}
		if c := strings.Compare(*a.Name, *b.Name); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}

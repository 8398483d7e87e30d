// Package translate maintains the three administrator-configured vocabulary
// tables (user, field, status) that map remote identifiers to local ones,
// and derives the reverse direction on demand.
package translate

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/trackersync/trackersync/internal/storage"
)

// Kind names one of the three translation tables.
type Kind string

const (
	KindUser   Kind = "user"
	KindField  Kind = "field"
	KindStatus Kind = "status"
)

// Kinds lists every table kind.
var Kinds = []Kind{KindUser, KindField, KindStatus}

// Entry is one translation record, keyed externally by the remote id.
// Legacy configurations stored a bare local-id string; those are migrated to
// this tagged form at load time.
type Entry struct {
	LocalID    string `yaml:"localId" json:"localId"`
	RemoteName string `yaml:"remoteName,omitempty" json:"remoteName,omitempty"`
	LocalName  string `yaml:"localName,omitempty" json:"localName,omitempty"`
}

// Table maps remote ids to entries.
type Table map[string]Entry

// Inbound translates a remote identifier to its local counterpart by direct
// lookup. ok=false when the table has no entry.
func (t Table) Inbound(remoteID string) (string, bool) {
	e, ok := t[remoteID]
	if !ok {
		return "", false
	}
	return e.LocalID, true
}

// Outbound translates a local identifier to its remote counterpart by
// scanning for an entry whose LocalID matches. Remote ids are visited in
// sorted order so duplicate LocalID values resolve deterministically to the
// first match.
func (t Table) Outbound(localID string) (string, bool) {
	for _, remoteID := range t.sortedKeys() {
		if t[remoteID].LocalID == localID {
			return remoteID, true
		}
	}
	return "", false
}

// Invert derives the reverse table, keyed by local id. Remote ids are
// visited in sorted order with last-write-wins, so when two remote ids map
// to the same local id only the lexicographically last survives. This is a
// documented tie-break, not a guarantee that such tables make sense.
func (t Table) Invert() Table {
	inv := make(Table, len(t))
	for _, remoteID := range t.sortedKeys() {
		e := t[remoteID]
		inv[e.LocalID] = Entry{
			LocalID:    remoteID,
			RemoteName: e.LocalName,
			LocalName:  e.RemoteName,
		}
	}
	return inv
}

// Validate rejects tables in which two remote ids share a local id, closing
// the reverse-translation ambiguity at save time.
func (t Table) Validate() error {
	seen := make(map[string]string, len(t))
	for _, remoteID := range t.sortedKeys() {
		localID := t[remoteID].LocalID
		if localID == "" {
			return fmt.Errorf("remote id %q has empty localId", remoteID)
		}
		if prev, dup := seen[localID]; dup {
			return fmt.Errorf("remote ids %q and %q both map to local id %q", prev, remoteID, localID)
		}
		seen[localID] = remoteID
	}
	return nil
}

func (t Table) sortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalYAML accepts both the tagged entry form and the legacy bare
// string form (a plain local id).
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.LocalID = value.Value
		return nil
	}
	type plain Entry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// NormalizeFieldValue prepares a translated field value for the counterpart
// API. A non-empty ordered sequence of objects carrying a numeric or
// numeric-string id becomes a sequence of bare integers (the representation
// composite fields expect); an empty sequence is dropped entirely (ok=false)
// to avoid a remote validation error. Anything else passes through.
func NormalizeFieldValue(v any) (any, bool) {
	seq, isSeq := v.([]any)
	if !isSeq {
		return v, true
	}
	if len(seq) == 0 {
		return nil, false
	}
	ids := make([]int, 0, len(seq))
	for _, item := range seq {
		obj, isObj := item.(map[string]any)
		if !isObj {
			return v, true
		}
		id, ok := numericID(obj["id"])
		if !ok {
			return v, true
		}
		ids = append(ids, id)
	}
	return ids, true
}

func numericID(v any) (int, bool) {
	switch id := v.(type) {
	case int:
		return id, true
	case int64:
		return int(id), true
	case float64:
		return int(id), true
	case string:
		n, err := strconv.Atoi(id)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Tables bundles the three configured tables.
type Tables struct {
	User   Table
	Field  Table
	Status Table
}

// Get returns the table for kind.
func (ts *Tables) Get(kind Kind) Table {
	switch kind {
	case KindUser:
		return ts.User
	case KindField:
		return ts.Field
	case KindStatus:
		return ts.Status
	}
	return nil
}

// Set replaces the table for kind.
func (ts *Tables) Set(kind Kind, t Table) {
	switch kind {
	case KindUser:
		ts.User = t
	case KindField:
		ts.Field = t
	case KindStatus:
		ts.Status = t
	}
}

const storeKeyPrefix = "xlate:"

// Load reads every table from the store. Missing tables load empty.
func Load(ctx context.Context, kv storage.Store) (*Tables, error) {
	ts := &Tables{User: Table{}, Field: Table{}, Status: Table{}}
	for _, kind := range Kinds {
		raw, ok, err := kv.Get(ctx, storeKeyPrefix+string(kind))
		if err != nil {
			return nil, fmt.Errorf("load %s table: %w", kind, err)
		}
		if !ok {
			continue
		}
		var t Table
		if err := yaml.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode %s table: %w", kind, err)
		}
		ts.Set(kind, t)
	}
	return ts, nil
}

// Save validates and persists one table.
func Save(ctx context.Context, kv storage.Store, kind Kind, t Table) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s table: %w", kind, err)
	}
	raw, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode %s table: %w", kind, err)
	}
	return kv.Set(ctx, storeKeyPrefix+string(kind), string(raw))
}

package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a flat view of a stored document: dotted field paths mapped to
// JSON values. Nested objects are never stored as a single value, so a write
// to one field cannot clobber a sibling.
type Document map[string]json.RawMessage

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Has reports whether field is set.
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Decode unmarshals field into out. It returns false when the field is
// absent or holds JSON null.
func (d Document) Decode(field string, out interface{}) (bool, error) {
	raw, ok := d[field]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", field, err)
	}
	return true, nil
}

// Sub returns the fields under prefix with the prefix and dot removed.
func (d Document) Sub(prefix string) Document {
	p := prefix + "."
	out := Document{}
	for k, v := range d {
		if strings.HasPrefix(k, p) {
			out[k[len(p):]] = v
		}
	}
	return out
}

// Children returns the distinct first path segments below prefix.
func (d Document) Children(prefix string) []string {
	seen := map[string]bool{}
	var out []string
	for k := range d.Sub(prefix) {
		child := k
		if i := strings.IndexByte(k, '.'); i >= 0 {
			child = k[:i]
		}
		if !seen[child] {
			seen[child] = true
			out = append(out, child)
		}
	}
	return out
}

// covers reports whether field is target itself or one of its descendants.
func covers(target, field string) bool {
	return field == target || strings.HasPrefix(field, target+".")
}

// OpKind distinguishes writes from deletes.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
)

// Op is one field-scoped mutation applied by Store.Update.
type Op struct {
	Kind  OpKind
	Field string
	Value interface{}
}

// Set returns an op writing value at field.
func Set(field string, value interface{}) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

// Delete returns an op removing field and everything below it.
func Delete(field string) Op {
	return Op{Kind: OpDelete, Field: field}
}

type encodedOp struct {
	kind  OpKind
	field string
	value json.RawMessage
}

func encodeOps(ops []Op) ([]encodedOp, error) {
	out := make([]encodedOp, 0, len(ops))
	for _, op := range ops {
		if op.Field == "" {
			return nil, fmt.Errorf("empty field path")
		}
		e := encodedOp{kind: op.Kind, field: op.Field}
		if op.Kind == OpSet {
			raw, err := json.Marshal(op.Value)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", op.Field, err)
			}
			e.value = raw
		}
		out = append(out, e)
	}
	return out, nil
}

// apply mutates doc in place. A set replaces any descendants of the field
// so that a value and its sub-fields never coexist.
func apply(doc Document, ops []encodedOp) {
	for _, op := range ops {
		for k := range doc {
			if covers(op.field, k) && (op.kind == OpDelete || k != op.field) {
				delete(doc, k)
			}
		}
		if op.kind == OpSet {
			doc[op.field] = op.value
		}
	}
}

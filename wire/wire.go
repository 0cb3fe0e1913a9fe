// Package wire implements the JSON encoding of a constraint.Tree: the
// over-the-wire format a client sends a scan request in, and the format
// it's persisted in between sessions. Large trees may optionally be
// zstd-compressed the same way encoding/bgzf wraps genomic record
// streams, via EncodeCompressed/DecodeCompressed.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/memquarry/memscan/constraint"
)

// treeJSON is the on-the-wire shape of one constraint.Tree node. Exactly
// one of the leaf fields or the node fields is populated, selected by
// NodeType.
type treeJSON struct {
	NodeType string `json:"type"` // "leaf" or "node"

	LeafKind string     `json:"leaf_kind,omitempty"`
	Value    *valueJSON `json:"value,omitempty"`

	Op    string    `json:"op,omitempty"`
	Left  *treeJSON `json:"left,omitempty"`
	Right *treeJSON `json:"right,omitempty"`
}

// valueJSON carries a constraint.Value's payload: Bits for numeric
// literals (the value's bit pattern, hex-encoded so JSON numbers never
// have to represent a uint64 or reinterpret a float's exact bits), or
// Bytes for byte-array literals (base64-encoded).
type valueJSON struct {
	Bits  string `json:"bits,omitempty"`
	Bytes string `json:"bytes,omitempty"`
}

// Encode marshals tree to its JSON wire form.
func Encode(tree constraint.Tree) ([]byte, error) {
	w, err := toWire(tree)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode unmarshals a constraint.Tree from its JSON wire form.
func Decode(data []byte) (constraint.Tree, error) {
	var w *treeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.E(errors.Invalid, err, "wire: malformed constraint tree JSON")
	}
	return fromWire(w)
}

// EncodeCompressed is Encode followed by zstd compression, for
// persisting or transmitting large trees cheaply over a slow link or
// disk.
func EncodeCompressed(tree constraint.Tree) ([]byte, error) {
	raw, err := Encode(tree)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.E(errors.Internal, err, "wire: constructing zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeCompressed reverses EncodeCompressed.
func DecodeCompressed(data []byte) (constraint.Tree, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "wire: constructing zstd decoder")
	}
	defer dec.Close()
	raw, err := ioutil.ReadAll(dec)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "wire: decompressing constraint tree")
	}
	return Decode(raw)
}

func toWire(tree constraint.Tree) (*treeJSON, error) {
	switch n := tree.(type) {
	case nil:
		return nil, errors.E(errors.Invalid, "wire: cannot encode an empty constraint tree")
	case *constraint.Leaf:
		w := &treeJSON{NodeType: "leaf", LeafKind: n.Kind.String()}
		if n.HasValue() {
			w.Value = valueToWire(n.Value)
		}
		return w, nil
	case *constraint.Node:
		left, err := toWire(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := toWire(n.Right)
		if err != nil {
			return nil, err
		}
		return &treeJSON{NodeType: "node", Op: n.Op.String(), Left: left, Right: right}, nil
	default:
		return nil, errors.E(errors.Invalid, "wire: unknown tree node type")
	}
}

func fromWire(w *treeJSON) (constraint.Tree, error) {
	if w == nil {
		return nil, errors.E(errors.Invalid, "wire: missing constraint tree node")
	}
	switch w.NodeType {
	case "leaf":
		kind, ok := constraint.ParseLeafKind(w.LeafKind)
		if !ok {
			return nil, errors.E(errors.Invalid, "wire: unknown leaf kind "+w.LeafKind)
		}
		if w.Value == nil {
			return constraint.NewLeaf(kind), nil
		}
		v, err := valueFromWire(w.Value)
		if err != nil {
			return nil, err
		}
		return constraint.NewLeafWithValue(kind, v), nil
	case "node":
		op, ok := constraint.ParseOp(w.Op)
		if !ok {
			return nil, errors.E(errors.Invalid, "wire: unknown op "+w.Op)
		}
		left, err := fromWire(w.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromWire(w.Right)
		if err != nil {
			return nil, err
		}
		return &constraint.Node{Op: op, Left: left, Right: right}, nil
	default:
		return nil, errors.E(errors.Invalid, "wire: unknown node type "+w.NodeType)
	}
}

func valueToWire(v constraint.Value) *valueJSON {
	if b := v.ByteSlice(); b != nil {
		return &valueJSON{Bytes: base64.StdEncoding.EncodeToString(b)}
	}
	return &valueJSON{Bits: hex.EncodeToString(uint64ToBytes(v.Uint64()))}
}

func valueFromWire(w *valueJSON) (constraint.Value, error) {
	if w.Bytes != "" {
		b, err := base64.StdEncoding.DecodeString(w.Bytes)
		if err != nil {
			return constraint.Value{}, errors.E(errors.Invalid, err, "wire: malformed byte-array literal")
		}
		return constraint.Bytes(b), nil
	}
	raw, err := hex.DecodeString(w.Bits)
	if err != nil || len(raw) != 8 {
		return constraint.Value{}, errors.E(errors.Invalid, "wire: malformed numeric literal")
	}
	return constraint.FromBits(bytesToUint64(raw)), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

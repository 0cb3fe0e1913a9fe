// Package constraint implements the scan constraint tree: typed leaf
// predicates combined by AND/OR/XOR interior nodes. A tree is evaluated
// once per element; vecscan compiles the same tree into a batch
// comparator that must agree with this package's evaluator element for
// element.
package constraint

import (
	"github.com/grailbio/base/errors"
	"github.com/memquarry/memscan/valtype"
)

// LeafKind is one of the leaf predicate kinds a constraint tree can test
// a scanned element against.
type LeafKind uint8

const (
	Unchanged LeafKind = iota
	Changed
	Increased
	Decreased
	IncreasedBy
	DecreasedBy
	Eq
	NeQ
	Gt
	Ge
	Lt
	Le
)

var leafKindNames = map[LeafKind]string{
	Unchanged: "Unchanged", Changed: "Changed",
	Increased: "Increased", Decreased: "Decreased",
	IncreasedBy: "IncreasedBy", DecreasedBy: "DecreasedBy",
	Eq: "Eq", NeQ: "NeQ", Gt: "Gt", Ge: "Ge", Lt: "Lt", Le: "Le",
}

func (k LeafKind) String() string {
	if s, ok := leafKindNames[k]; ok {
		return s
	}
	return "Invalid"
}

// ParseLeafKind is the inverse of LeafKind.String, used by the wire
// package to decode a constraint tree's JSON form.
func ParseLeafKind(s string) (LeafKind, bool) {
	for k, name := range leafKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// IsRelative reports whether k requires both current and previous bytes
// to evaluate: Unchanged, Changed, Increased, Decreased, IncreasedBy, and
// DecreasedBy all compare against the prior generation.
func (k LeafKind) IsRelative() bool {
	switch k {
	case Unchanged, Changed, Increased, Decreased, IncreasedBy, DecreasedBy:
		return true
	default:
		return false
	}
}

// RequiresValue reports whether k carries an immediate Value: exactly
// Eq, NeQ, Gt, Ge, Lt, Le, IncreasedBy, and DecreasedBy do.
func (k LeafKind) RequiresValue() bool {
	switch k {
	case Eq, NeQ, Gt, Ge, Lt, Le, IncreasedBy, DecreasedBy:
		return true
	default:
		return false
	}
}

// Op is an interior node's boolean combinator.
type Op uint8

const (
	AND Op = iota
	OR
	XOR
)

func (o Op) String() string {
	switch o {
	case AND:
		return "AND"
	case OR:
		return "OR"
	case XOR:
		return "XOR"
	default:
		return "?"
	}
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "AND":
		return AND, true
	case "OR":
		return OR, true
	case "XOR":
		return XOR, true
	default:
		return 0, false
	}
}

// Tree is a constraint: either a Leaf or a Node combining two sub-trees.
// A nil Tree represents "no constraint", which scandriver rejects as an
// invalid-argument error rather than treating it as "match everything".
type Tree interface {
	isTree()
}

// Leaf is a typed pointwise predicate.
type Leaf struct {
	Kind     LeafKind
	Value    Value
	hasValue bool
}

func (*Leaf) isTree() {}

// NewLeaf constructs a Leaf that carries no immediate value (Unchanged,
// Changed, Increased, Decreased).
func NewLeaf(kind LeafKind) *Leaf {
	return &Leaf{Kind: kind}
}

// NewLeafWithValue constructs a Leaf that carries an immediate value (Eq,
// NeQ, Gt, Ge, Lt, Le, IncreasedBy, DecreasedBy).
func NewLeafWithValue(kind LeafKind, v Value) *Leaf {
	return &Leaf{Kind: kind, Value: v, hasValue: true}
}

// HasValue reports whether this leaf carries an immediate Value.
func (l *Leaf) HasValue() bool { return l.hasValue }

// Node is an AND/OR/XOR combination of two sub-trees.
type Node struct {
	Op          Op
	Left, Right Tree
}

func (*Node) isTree() {}

// And, Or, Xor are convenience constructors for Node.
func And(left, right Tree) *Node { return &Node{Op: AND, Left: left, Right: right} }
func Or(left, right Tree) *Node  { return &Node{Op: OR, Left: left, Right: right} }
func Xor(left, right Tree) *Node { return &Node{Op: XOR, Left: left, Right: right} }

// IsEmpty reports whether tree is the nil constraint.
func IsEmpty(tree Tree) bool { return tree == nil }

// IsRelative reports whether any leaf in tree needs a previous
// generation; vecscan uses this to short-circuit regions that have never
// been read before a relative scan.
func IsRelative(tree Tree) bool {
	switch t := tree.(type) {
	case nil:
		return false
	case *Leaf:
		return t.Kind.IsRelative()
	case *Node:
		return IsRelative(t.Left) || IsRelative(t.Right)
	default:
		return false
	}
}

// Validate checks tree against the scan's declared type: every leaf's
// value (if any) must fit t, and byte-array types only support
// Eq/NeQ/Unchanged/Changed (an ordering or arithmetic leaf against a
// byte-array type is rejected as unsupported).
func Validate(tree Tree, t valtype.Type) error {
	switch n := tree.(type) {
	case nil:
		return errors.E(errors.Invalid, "constraint: empty constraint tree")
	case *Leaf:
		return validateLeaf(n, t)
	case *Node:
		if err := Validate(n.Left, t); err != nil {
			return err
		}
		return Validate(n.Right, t)
	default:
		return errors.E(errors.Invalid, "constraint: unknown tree node type")
	}
}

func validateLeaf(l *Leaf, t valtype.Type) error {
	if t.Kind == valtype.KindByteArray {
		switch l.Kind {
		case Eq, NeQ, Unchanged, Changed:
			// allowed
		default:
			return errors.E(errors.NotSupported,
				"constraint: "+l.Kind.String()+" is not supported on byte-array types")
		}
	}
	if l.Kind.RequiresValue() {
		if !l.hasValue {
			return errors.E(errors.Invalid, "constraint: "+l.Kind.String()+" requires a literal value")
		}
		if !l.Value.FitsType(t) {
			return errors.E(errors.Invalid, "constraint: literal value does not match scan type "+t.String())
		}
	} else if l.hasValue {
		return errors.E(errors.Invalid, "constraint: "+l.Kind.String()+" must not carry a literal value")
	}
	return nil
}

// Package constraint implements the constraint builder and lookup
// plumbing: a mutable accumulator of named polynomial identities and
// lookup arguments that opcode configurations push into during
// configuration, and that a later pass (the outer polynomial-IOP driver,
// out of scope here) consumes exactly once.
package constraint

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/internal/telemetry"
)

var (
	// ErrNoConstraints is returned by System.Finalize if no constraint or
	// lookup argument was ever registered; an empty system can never be
	// satisfiable in a meaningful way and almost always indicates a caller
	// forgot to install any opcode configuration.
	ErrNoConstraints = errors.New("constraint: system has no constraints or lookup arguments")
	// ErrDuplicateName is returned when two constraints or lookup arguments
	// are registered under the same name; names must be unique so a failed
	// constraint can be reported unambiguously.
	ErrDuplicateName = errors.New("constraint: duplicate name")
)

// VarID identifies one column of the row matrix. Opcode configurations
// obtain VarIDs from the cell allocator (package allocator); this package
// never allocates them itself.
type VarID uint32

// Term is a coefficient-variable pair in a linear combination. The
// coefficient is a full field.Element rather than a machine word, since
// gate coefficients (size moduli, extension masks) overflow an int64.
type Term struct {
	Var   VarID
	Coeff field.Element
}

// QuadTerm is a coefficient-(variable,variable) pair: coeff * A * B. This
// is the system's one allowance beyond a linear combination, matching the
// degree-2 custom gates a halo2-style backend natively supports -- enough
// to express every per-opcode identity this core registers
// (overflow/product splits, division's lhs=rhs*q+r, select's
// cond*cond_inv identities, ...) without needing a general degree-n
// polynomial representation this system never requires.
type QuadTerm struct {
	A, B  VarID
	Coeff field.Element
}

// Expr is a quadratic combination of row-matrix cells: sum(coeff_i *
// var_i) + sum(coeff_j * var_j * var_k) + constant. Opcode configurations
// build Exprs and combine them with Mul/Add/Sub to express their
// polynomial identities.
type Expr struct {
	Terms    []Term
	Quad     []QuadTerm
	Constant field.Element
}

// Evaluate evaluates an Expr against a concrete assignment of VarID -> value,
// the witness-side counterpart to the constraint-side Expr. Evaluate is
// used by the debug-mode self-check a caller can run over an assigned
// witness matrix before handing it to the outer IOP driver.
func (e Expr) Evaluate(assign func(VarID) field.Element) field.Element {
	acc := e.Constant
	for _, t := range e.Terms {
		acc = field.Add(acc, field.Mul(t.Coeff, assign(t.Var)))
	}
	for _, q := range e.Quad {
		acc = field.Add(acc, field.Mul(q.Coeff, field.Mul(assign(q.A), assign(q.B))))
	}
	return acc
}

// Const returns a constant Expr.
func Const(v field.Element) Expr { return Expr{Constant: v} }

// Var returns an Expr that is exactly one cell.
func Var(v VarID) Expr { return Expr{Terms: []Term{{Var: v, Coeff: field.One()}}} }

// Add returns a+b as a new Expr (terms are concatenated, not merged; the
// outer IOP backend is expected to do its own term collection).
func Add(a, b Expr) Expr {
	out := Expr{Constant: field.Add(a.Constant, b.Constant)}
	out.Terms = append(append(out.Terms, a.Terms...), b.Terms...)
	out.Quad = append(append(out.Quad, a.Quad...), b.Quad...)
	return out
}

// Sub returns a-b.
func Sub(a, b Expr) Expr {
	return Add(a, Scale(field.Neg(field.One()), b))
}

// Scale returns c*e.
func Scale(c field.Element, e Expr) Expr {
	out := Expr{Constant: field.Mul(c, e.Constant)}
	out.Terms = make([]Term, len(e.Terms))
	for i, t := range e.Terms {
		out.Terms[i] = Term{Var: t.Var, Coeff: field.Mul(c, t.Coeff)}
	}
	out.Quad = make([]QuadTerm, len(e.Quad))
	for i, q := range e.Quad {
		out.Quad[i] = QuadTerm{A: q.A, B: q.B, Coeff: field.Mul(c, q.Coeff)}
	}
	return out
}

// Mul returns a*b as a degree-2 Expr. Both operands must themselves be
// degree <= 1 (no Quad terms) -- this system caps identities at degree
// 2, matching every opcode configuration's actual needs, so Mul panics if
// asked to produce degree 3+. A caller that needs "a*b*c" should instead
// introduce an intermediate cell for a*b and constrain it with its own
// gate, the same decomposition halo2-style degree-2 custom gates force.
func Mul(a, b Expr) Expr {
	if len(a.Quad) > 0 || len(b.Quad) > 0 {
		panic("constraint: Mul operands must be degree <= 1; this system caps identities at degree 2")
	}
	out := Expr{Constant: field.Mul(a.Constant, b.Constant)}
	for _, t := range b.Terms {
		out.Terms = append(out.Terms, Term{Var: t.Var, Coeff: field.Mul(a.Constant, t.Coeff)})
	}
	for _, t := range a.Terms {
		out.Terms = append(out.Terms, Term{Var: t.Var, Coeff: field.Mul(t.Coeff, b.Constant)})
	}
	for _, ta := range a.Terms {
		for _, tb := range b.Terms {
			out.Quad = append(out.Quad, QuadTerm{A: ta.Var, B: tb.Var, Coeff: field.Mul(ta.Coeff, tb.Coeff)})
		}
	}
	return out
}

// Gate is a named polynomial identity: the system asserts Expr == 0 on
// every row where Selector is 1. Keeping Selector as its own field
// rather than folding it into Expr keeps an Expr that already carries
// degree-2 (Quad) terms from being raised to degree 3 by the selector.
type Gate struct {
	Name     string
	Selector VarID
	Expr     Expr
}

// Lookup is a named lookup argument: a commitment that
// Source's value, for every row where Selector is 1, appears as some row
// of Target.
type Lookup struct {
	Name     string
	Selector VarID
	Source   Expr
	Target   TableColumn
}

// TableColumn names one fixed lookup table a Lookup may target (the
// auxiliary range/bit tables, or the derived M/J/I-tables).
type TableColumn string

const (
	TableU8            TableColumn = "u8"
	TableU16           TableColumn = "u16"
	TableCommonRange   TableColumn = "common_range"
	TableBitOp         TableColumn = "bitop"
	TablePow           TableColumn = "pow"
	TableOffsetLenBits TableColumn = "offset_len_bits"
	TableInstruction   TableColumn = "instruction"
	TableInitMemory    TableColumn = "init_memory"
	TableMemory        TableColumn = "memory"
	TableJump          TableColumn = "jump"
	TableElement       TableColumn = "element"
	TableBrTarget      TableColumn = "br_target"
)

// System accumulates named gates and lookup arguments from every installed
// opcode configuration. It is write-only during configuration
// and is handed, once finalized, to the outer polynomial-IOP driver
// (out of scope for this core).
type System struct {
	gates       []Gate
	gateNames   map[string]struct{}
	lookups     []Lookup
	lookupNames map[string]struct{}
}

// NewSystem returns an empty constraint system.
func NewSystem() *System {
	return &System{
		gateNames:   make(map[string]struct{}),
		lookupNames: make(map[string]struct{}),
	}
}

// AddGate registers a named polynomial identity, enforced only on rows
// where sel is 1.
func (s *System) AddGate(name string, sel VarID, e Expr) error {
	if _, dup := s.gateNames[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	s.gateNames[name] = struct{}{}
	s.gates = append(s.gates, Gate{Name: name, Selector: sel, Expr: e})
	telemetry.ConstraintsRegistered.Inc()
	return nil
}

// AddLookup registers a named lookup argument, asserted only on rows where
// sel is 1.
func (s *System) AddLookup(name string, sel VarID, source Expr, target TableColumn) error {
	if _, dup := s.lookupNames[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	s.lookupNames[name] = struct{}{}
	s.lookups = append(s.lookups, Lookup{Name: name, Selector: sel, Source: source, Target: target})
	telemetry.LookupArgumentsRegistered.Inc()
	return nil
}

// Gates returns every registered gate, in registration order.
func (s *System) Gates() []Gate { return s.gates }

// Lookups returns every registered lookup argument, in registration order.
func (s *System) Lookups() []Lookup { return s.lookups }

// Finalize validates that the system is non-empty. It does not mutate the
// system; callers may keep adding after calling it, though the expected
// flow installs every opcode configuration before finalizing.
func (s *System) Finalize() error {
	if len(s.gates) == 0 && len(s.lookups) == 0 {
		return ErrNoConstraints
	}
	return nil
}

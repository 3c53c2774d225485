package constraint

import (
	"errors"
	"testing"

	"github.com/eth2030/zkwasm/field"
)

func TestExprEvaluate(t *testing.T) {
	assign := map[VarID]field.Element{
		1: field.FromUint64(3),
		2: field.FromUint64(4),
	}
	// 2*x1 + 3*x2 + 1
	e := Expr{
		Terms: []Term{
			{Var: 1, Coeff: field.FromUint64(2)},
			{Var: 2, Coeff: field.FromUint64(3)},
		},
		Constant: field.One(),
	}
	got := e.Evaluate(func(v VarID) field.Element { return assign[v] })
	want := field.FromUint64(2*3 + 3*4 + 1)
	if !field.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSystemAddGateDuplicate(t *testing.T) {
	s := NewSystem()
	if err := s.AddGate("bin add overflow", 10, Const(field.Zero())); err != nil {
		t.Fatalf("first AddGate: %v", err)
	}
	err := s.AddGate("bin add overflow", 10, Const(field.Zero()))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestSystemFinalizeEmpty(t *testing.T) {
	s := NewSystem()
	if err := s.Finalize(); !errors.Is(err, ErrNoConstraints) {
		t.Fatalf("expected ErrNoConstraints, got %v", err)
	}
	if err := s.AddLookup("sp in common range", 1, Var(2), TableCommonRange); err != nil {
		t.Fatalf("AddLookup: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("expected non-empty system to finalize cleanly, got %v", err)
	}
}

func TestMulProducesDegree2Term(t *testing.T) {
	// (x1 + 2) * (3*x2 + 1), evaluated at x1=5, x2=4:
	// (5+2)*(12+1) = 7*13 = 91
	a := Add(Var(1), Const(field.FromUint64(2)))
	b := Add(Scale(field.FromUint64(3), Var(2)), Const(field.One()))
	e := Mul(a, b)
	assign := map[VarID]field.Element{1: field.FromUint64(5), 2: field.FromUint64(4)}
	got := e.Evaluate(func(v VarID) field.Element { return assign[v] })
	if !field.Equal(got, field.FromUint64(91)) {
		t.Fatalf("Mul: got %s, want 91", got)
	}
}

func TestMulPanicsOnDegree3(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Mul to panic when an operand already has a Quad term")
		}
	}()
	quad := Mul(Var(1), Var(2))
	Mul(quad, Var(3))
}

func TestAddSubScale(t *testing.T) {
	a := Var(1)
	b := Const(field.FromUint64(5))
	sum := Add(a, b)
	assign := func(v VarID) field.Element { return field.FromUint64(10) }
	if got := sum.Evaluate(assign); !field.Equal(got, field.FromUint64(15)) {
		t.Fatalf("Add: got %s", got)
	}
	diff := Sub(a, b)
	if got := diff.Evaluate(assign); !field.Equal(got, field.FromUint64(5)) {
		t.Fatalf("Sub: got %s", got)
	}
	scaled := Scale(field.FromUint64(3), a)
	if got := scaled.Evaluate(assign); !field.Equal(got, field.FromUint64(30)) {
		t.Fatalf("Scale: got %s", got)
	}
}

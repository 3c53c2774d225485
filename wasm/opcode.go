// Package wasm defines the static vocabulary the constraint system is built
// over: opcode classes, their bit-exact encoding, and the compiled-module
// view (functions, initial memory, element table) that the instruction
// and initial-memory tables are constructed from.
package wasm

import "fmt"

// Class identifies an opcode family. One Class maps to exactly one opcode
// configuration; each Class owns a reserved one-hot selector bit in the
// event-table driver.
type Class uint8

const (
	ClassUnreachable Class = iota
	ClassNop
	ClassDrop
	ClassSelect
	ClassConst
	ClassLocalGet
	ClassLocalSet
	ClassLocalTee
	ClassGlobalGet
	ClassGlobalSet
	ClassCall
	ClassCallIndirect
	ClassReturn
	ClassBr
	ClassBrIf
	ClassBrIfEqz
	ClassBrTable
	ClassLoad
	ClassStore
	ClassMemorySize
	ClassMemoryGrow
	ClassBin
	ClassBinShift
	ClassBinBit
	ClassUnary
	ClassTest
	ClassRel
	ClassConversion

	classCount
)

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", c)
}

var classNames = [classCount]string{
	ClassUnreachable:  "unreachable",
	ClassNop:          "nop",
	ClassDrop:         "drop",
	ClassSelect:       "select",
	ClassConst:        "const",
	ClassLocalGet:     "local.get",
	ClassLocalSet:     "local.set",
	ClassLocalTee:     "local.tee",
	ClassGlobalGet:    "global.get",
	ClassGlobalSet:    "global.set",
	ClassCall:         "call",
	ClassCallIndirect: "call_indirect",
	ClassReturn:       "return",
	ClassBr:           "br",
	ClassBrIf:         "br_if",
	ClassBrIfEqz:      "br_if_eqz",
	ClassBrTable:      "br_table",
	ClassLoad:         "load",
	ClassStore:        "store",
	ClassMemorySize:   "memory.size",
	ClassMemoryGrow:   "memory.grow",
	ClassBin:          "bin",
	ClassBinShift:     "bin_shift",
	ClassBinBit:       "bin_bit",
	ClassUnary:        "unary",
	ClassTest:         "test",
	ClassRel:          "rel",
	ClassConversion:   "conversion",
}

// Encoding shift layout for an opcode: the class tag occupies
// the high bits, followed by up to three argument fields of fixed width.
// These widths were sized generously enough to hold every class's
// immediates (e.g. bin's (op, is_i32, is_signed) triad, or a br_table's
// target-count field) while staying well inside a 64-bit encoding so the
// field element (at least 128 bits wide) never wraps.
const (
	Arg2Shift  = 0
	Arg2Bits   = 16
	Arg1Shift  = Arg2Shift + Arg2Bits
	Arg1Bits   = 16
	Arg0Shift  = Arg1Shift + Arg1Bits
	Arg0Bits   = 16
	ClassShift = Arg0Shift + Arg0Bits
)

// Opcode is one static instruction: a Class plus up to three packed
// argument fields. Immediates too wide to fit an argument field (e.g. a
// 32-bit const value) are carried out-of-band in the Event/InstructionEntry
// rather than in the encoding, matching how the original keeps `Const`'s
// actual constant inside the trace rather than the opcode word.
type Opcode struct {
	Class Class
	Arg0  uint64
	Arg1  uint64
	Arg2  uint64
}

// Encode returns the opcode's field-element encoding, the layout both
// the instruction table and every opcode configuration's
// itable_lookup_cell must agree on.
func (o Opcode) Encode() uint64 {
	return uint64(o.Class)<<ClassShift |
		(o.Arg0&mask(Arg0Bits))<<Arg0Shift |
		(o.Arg1&mask(Arg1Bits))<<Arg1Shift |
		(o.Arg2 & mask(Arg2Bits))
}

func mask(bits uint) uint64 {
	return (uint64(1) << bits) - 1
}

// BinOp enumerates the arithmetic operators of the `bin` opcode family.
// Values are stable and used as Opcode.Arg0.
type BinOp uint64

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDivU
	BinDivS
	BinRemU
	BinRemS
)

// ShiftOp enumerates the `bin_shift` family.
type ShiftOp uint64

const (
	ShiftShl ShiftOp = iota
	ShiftShrU
	ShiftShrS
	ShiftRotl
	ShiftRotr
)

// BitOp enumerates the byte-chunk bitwise family resolved for the
// bit-table lookup.
type BitOp uint64

const (
	BitAnd BitOp = iota
	BitOr
	BitXor
)

// RelOp enumerates the `rel` comparison family.
type RelOp uint64

const (
	RelEq RelOp = iota
	RelNe
	RelLtU
	RelLtS
	RelGtU
	RelGtS
	RelLeU
	RelLeS
	RelGeU
	RelGeS
)

// ConversionOp enumerates the `conversion` family.
type ConversionOp uint64

const (
	ConvI32WrapI64 ConversionOp = iota
	ConvI64ExtendI32U
	ConvI64ExtendI32S
	ConvI32Extend8S
	ConvI32Extend16S
	ConvI64Extend8S
	ConvI64Extend16S
	ConvI64Extend32S
)

// UnaryOp enumerates the `unary` family (clz/ctz/popcnt).
type UnaryOp uint64

const (
	UnaryClz UnaryOp = iota
	UnaryCtz
	UnaryPopcnt
)

// TestOp enumerates the `test` family (eqz).
type TestOp uint64

const (
	TestEqz TestOp = iota
)

// ValueType distinguishes the two integer widths this core handles.
type ValueType uint8

const (
	I32 ValueType = iota
	I64
)

func (t ValueType) Bits() uint {
	if t == I32 {
		return 32
	}
	return 64
}

// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"github.com/scrutiny-go/scrutiny/target"
)

// compareKind is the category a fetched operand is compared in. Every
// operand collapses to a float32, the widest signed integer or the
// widest unsigned integer before any comparison runs.
type compareKind uint8

const (
	kindUnknown compareKind = iota
	kindFloat
	kindSint
	kindUint
)

// compareValue holds one operand in each of the comparison slots.
// Only the slot selected by the compareKind is meaningful.
type compareValue struct {
	f float32
	i int64
	u uint64
}

// fetchOperand resolves an operand to a typed scalar at sample time.
// A kindUnknown result aborts the evaluation of the current tick.
func fetchOperand(acc *target.Accessor, op Operand) (compareKind, compareValue) {
	switch op := op.(type) {
	case Literal:
		return kindFloat, compareValue{f: op.Val}

	case Var:
		v, ok := acc.FetchVariable(op.Addr, op.Type)
		if !ok {
			return kindUnknown, compareValue{}
		}
		return valueKind(v)

	case VarBit:
		v, ok := acc.FetchVariableBitfield(op.Addr, op.Type, op.BitOffset, op.BitSize)
		if !ok {
			return kindUnknown, compareValue{}
		}
		return valueKind(v)

	case RPV:
		rpv, ok := acc.GetRPV(op.ID)
		if !ok {
			return kindUnknown, compareValue{}
		}
		v, ok := acc.ReadRPV(rpv)
		if !ok {
			return kindUnknown, compareValue{}
		}
		return valueKind(v)

	default:
		return kindUnknown, compareValue{}
	}
}

// valueKind sorts a fetched value into its comparison category.
func valueKind(v target.AnyType) (compareKind, compareValue) {
	switch {
	case v.Type == target.Float32:
		return kindFloat, compareValue{f: v.Float32()}
	case v.Type == target.Float64:
		return kindFloat, compareValue{f: float32(v.Float64())}
	case v.Type == target.Unknown:
		return kindUnknown, compareValue{}
	case v.Type.Signed():
		return kindSint, compareValue{i: v.Int()}
	default:
		return kindUint, compareValue{u: v.Uint()}
	}
}

// asFloat coerces an operand of any category to float32.
func asFloat(k compareKind, v compareValue) (float32, bool) {
	switch k {
	case kindFloat:
		return v.f, true
	case kindSint:
		return float32(v.i), true
	case kindUint:
		return float32(v.u), true
	default:
		return 0, false
	}
}

// relCompare evaluates one relational condition over two operands of
// the same comparison category.
func relCompare[T int64 | uint64 | float32](cond Condition, lhs, rhs T) bool {
	switch cond {
	case Equal:
		return lhs == rhs
	case NotEqual:
		return lhs != rhs
	case LessThan:
		return lhs < rhs
	case LessOrEqualThan:
		return lhs <= rhs
	case GreaterThan:
		return lhs > rhs
	case GreaterOrEqualThan:
		return lhs >= rhs
	default:
		return false
	}
}

// relationalCompare promotes both operands to a common category per
// the promotion matrix and runs the condition there. Mixed
// signed/unsigned pairs compare as signed; any float side drags the
// other operand to float.
func relationalCompare(cond Condition, kinds *[MaxOperands]compareKind, vals *[MaxOperands]compareValue) bool {
	k0, k1 := kinds[0], kinds[1]
	v0, v1 := vals[0], vals[1]

	if k0 == kindUnknown || k1 == kindUnknown {
		return false
	}

	if k0 == kindFloat || k1 == kindFloat {
		f0, _ := asFloat(k0, v0)
		f1, _ := asFloat(k1, v1)
		return relCompare(cond, f0, f1)
	}

	if k0 == kindUint && k1 == kindUint {
		return relCompare(cond, v0.u, v1.u)
	}

	i0 := v0.i
	if k0 == kindUint {
		i0 = int64(v0.u)
	}
	i1 := v1.i
	if k1 == kindUint {
		i1 = int64(v1.u)
	}
	return relCompare(cond, i0, i1)
}

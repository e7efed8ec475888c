package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ValueType is one of the seven surface types a script value can hold.
type ValueType byte

const (
	TypeInteger    ValueType = 1
	TypeFloat      ValueType = 2
	TypeString     ValueType = 3
	TypeKey        ValueType = 4
	TypeVector     ValueType = 5
	TypeQuaternion ValueType = 6
	TypeList       ValueType = 7
)

func (t ValueType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeKey:
		return "key"
	case TypeVector:
		return "vector"
	case TypeQuaternion:
		return "quaternion"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the host-facing representation of a script value: the payload
// used by EnqueueEvent, library call marshaling, and HeapGet. Only the
// fields matching Type are meaningful.
type Value struct {
	Type  ValueType
	Int   int32
	Float float32
	Str   string // STRING or KEY payload
	Vec   [3]float32
	Quat  [4]float32
	List  []Value
}

// Truthy implements the per-type truthiness rules of the JUMPIF/JUMPNIF
// opcodes (§4.4): integer/float non-zero; vector not exactly zero;
// quaternion not identity; string/key non-empty (key additionally requires a
// parseable, non-null UUID); list non-empty.
func (v Value) Truthy() bool {
	switch v.Type {
	case TypeInteger:
		return v.Int != 0
	case TypeFloat:
		return v.Float != 0
	case TypeVector:
		return v.Vec != [3]float32{}
	case TypeQuaternion:
		return v.Quat != [4]float32{0, 0, 0, 1}
	case TypeString:
		return v.Str != ""
	case TypeKey:
		if v.Str == "" {
			return false
		}
		id, err := uuid.Parse(v.Str)
		return err == nil && id != uuid.Nil
	case TypeList:
		return len(v.List) != 0
	default:
		return false
	}
}

// formatElement renders a single value the way the original interpreter's
// list-to-string cast does: no quoting, vectors/quaternions in <f,f,f[,f]>
// form, and nothing between successive list elements.
func formatElement(v Value) string {
	switch v.Type {
	case TypeInteger:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat:
		return formatFloat(v.Float)
	case TypeString, TypeKey:
		return v.Str
	case TypeVector:
		return fmt.Sprintf("<%s, %s, %s>", formatFloat(v.Vec[0]), formatFloat(v.Vec[1]), formatFloat(v.Vec[2]))
	case TypeQuaternion:
		return fmt.Sprintf("<%s, %s, %s, %s>", formatFloat(v.Quat[0]), formatFloat(v.Quat[1]), formatFloat(v.Quat[2]), formatFloat(v.Quat[3]))
	case TypeList:
		var b strings.Builder
		for _, e := range v.List {
			b.WriteString(formatElement(e))
		}
		return b.String()
	default:
		return ""
	}
}

func formatFloat(f float32) string {
	return fmt.Sprintf("%.6f", f)
}

// binaryOp performs opcode on (left, right) and returns the result plus
// whether the combination was recognized. Unknown combinations are a no-op
// per the source's sparse dispatch table (§9 design notes): the caller
// leaves the stack untouched and treats it as FaultNone-silent. Division and
// modulo by zero set FaultMath and return a zero-valued result of the
// expected type, matching §8's "pushed default-zero result" invariant.
func binaryOp(vmFault *FaultKind, opcode Opcode, left, right Value) (Value, bool) {
	switch left.Type {
	case TypeInteger:
		switch right.Type {
		case TypeInteger:
			return binaryIntInt(vmFault, opcode, left.Int, right.Int)
		case TypeFloat:
			return binaryFloatFloat(vmFault, opcode, float32(left.Int), right.Float)
		case TypeVector:
			return binaryScaleVector(opcode, float32(left.Int), right.Vec)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeFloat:
		switch right.Type {
		case TypeInteger:
			return binaryFloatFloat(vmFault, opcode, left.Float, float32(right.Int))
		case TypeFloat:
			return binaryFloatFloat(vmFault, opcode, left.Float, right.Float)
		case TypeVector:
			return binaryScaleVector(opcode, left.Float, right.Vec)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeString:
		switch right.Type {
		case TypeString, TypeKey:
			return binaryStringString(opcode, left.Str, right.Str)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeKey:
		switch right.Type {
		case TypeString, TypeKey:
			return binaryStringString(opcode, left.Str, right.Str)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeVector:
		switch right.Type {
		case TypeInteger:
			return binaryVectorScale(vmFault, opcode, left.Vec, float32(right.Int))
		case TypeFloat:
			return binaryVectorScale(vmFault, opcode, left.Vec, right.Float)
		case TypeVector:
			return binaryVectorVector(vmFault, opcode, left.Vec, right.Vec)
		case TypeQuaternion:
			return binaryVectorQuaternion(opcode, left.Vec, right.Quat)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeQuaternion:
		switch right.Type {
		case TypeQuaternion:
			return binaryQuatQuat(vmFault, opcode, left.Quat, right.Quat)
		case TypeList:
			return prependList(left, right), true
		}
	case TypeList:
		switch right.Type {
		case TypeInteger, TypeFloat, TypeString, TypeKey, TypeVector, TypeQuaternion:
			return appendList(left, right), true
		case TypeList:
			return binaryListList(opcode, left, right)
		}
	}
	return Value{}, false
}

func binaryIntInt(fault *FaultKind, opcode Opcode, l, r int32) (Value, bool) {
	switch opcode {
	case OpAdd:
		return Value{Type: TypeInteger, Int: l + r}, true
	case OpSub:
		return Value{Type: TypeInteger, Int: l - r}, true
	case OpMul:
		return Value{Type: TypeInteger, Int: l * r}, true
	case OpDiv:
		if r == 0 {
			*fault = FaultMath
			return Value{Type: TypeInteger}, true
		}
		return Value{Type: TypeInteger, Int: l / r}, true
	case OpMod:
		if r == 0 {
			*fault = FaultMath
			return Value{Type: TypeInteger}, true
		}
		return Value{Type: TypeInteger, Int: l % r}, true
	case OpEq:
		return boolValue(l == r), true
	case OpNeq:
		return boolValue(l != r), true
	case OpLeq:
		return boolValue(l <= r), true
	case OpGeq:
		return boolValue(l >= r), true
	case OpLess:
		return boolValue(l < r), true
	case OpGreater:
		return boolValue(l > r), true
	case OpBitAnd:
		return Value{Type: TypeInteger, Int: l & r}, true
	case OpBitOr:
		return Value{Type: TypeInteger, Int: l | r}, true
	case OpBitXor:
		return Value{Type: TypeInteger, Int: l ^ r}, true
	case OpBoolAnd:
		return boolValue(l != 0 && r != 0), true
	case OpBoolOr:
		return boolValue(l != 0 || r != 0), true
	case OpShl:
		return Value{Type: TypeInteger, Int: l << uint32(r)}, true
	case OpShr:
		return Value{Type: TypeInteger, Int: l >> uint32(r)}, true
	}
	return Value{}, false
}

func binaryFloatFloat(fault *FaultKind, opcode Opcode, l, r float32) (Value, bool) {
	switch opcode {
	case OpAdd:
		return Value{Type: TypeFloat, Float: l + r}, true
	case OpSub:
		return Value{Type: TypeFloat, Float: l - r}, true
	case OpMul:
		return Value{Type: TypeFloat, Float: l * r}, true
	case OpDiv:
		if r == 0 {
			*fault = FaultMath
			return Value{Type: TypeFloat}, true
		}
		return Value{Type: TypeFloat, Float: l / r}, true
	case OpMod:
		if r == 0 {
			*fault = FaultMath
			return Value{Type: TypeFloat}, true
		}
		return Value{Type: TypeFloat, Float: float32(math.Mod(float64(l), float64(r)))}, true
	case OpEq:
		return boolValue(l == r), true
	case OpNeq:
		return boolValue(l != r), true
	case OpLeq:
		return boolValue(l <= r), true
	case OpGeq:
		return boolValue(l >= r), true
	case OpLess:
		return boolValue(l < r), true
	case OpGreater:
		return boolValue(l > r), true
	}
	return Value{}, false
}

func binaryScaleVector(opcode Opcode, scalar float32, v [3]float32) (Value, bool) {
	switch opcode {
	case OpMul:
		return Value{Type: TypeVector, Vec: scaleVec(v, scalar)}, true
	}
	return Value{}, false
}

func binaryVectorScale(fault *FaultKind, opcode Opcode, v [3]float32, scalar float32) (Value, bool) {
	switch opcode {
	case OpMul:
		return Value{Type: TypeVector, Vec: scaleVec(v, scalar)}, true
	case OpDiv:
		if scalar == 0 {
			*fault = FaultMath
			return Value{Type: TypeVector}, true
		}
		return Value{Type: TypeVector, Vec: scaleVec(v, 1/scalar)}, true
	}
	return Value{}, false
}

func scaleVec(v [3]float32, s float32) [3]float32 {
	return [3]float32{v[0] * s, v[1] * s, v[2] * s}
}

func binaryVectorVector(fault *FaultKind, opcode Opcode, l, r [3]float32) (Value, bool) {
	switch opcode {
	case OpAdd:
		return Value{Type: TypeVector, Vec: [3]float32{l[0] + r[0], l[1] + r[1], l[2] + r[2]}}, true
	case OpSub:
		return Value{Type: TypeVector, Vec: [3]float32{l[0] - r[0], l[1] - r[1], l[2] - r[2]}}, true
	case OpMul:
		// Dot product yields a float.
		return Value{Type: TypeFloat, Float: l[0]*r[0] + l[1]*r[1] + l[2]*r[2]}, true
	case OpMod:
		// Cross product.
		return Value{Type: TypeVector, Vec: [3]float32{
			l[1]*r[2] - l[2]*r[1],
			l[2]*r[0] - l[0]*r[2],
			l[0]*r[1] - l[1]*r[0],
		}}, true
	case OpEq:
		return boolValue(l == r), true
	case OpNeq:
		return boolValue(l != r), true
	}
	return Value{}, false
}

func binaryVectorQuaternion(opcode Opcode, v [3]float32, q [4]float32) (Value, bool) {
	switch opcode {
	case OpMul:
		return Value{Type: TypeVector, Vec: rotateVec(v, q)}, true
	case OpDiv:
		return Value{Type: TypeVector, Vec: rotateVec(v, conjugate(q))}, true
	}
	return Value{}, false
}

func rotateVec(v [3]float32, q [4]float32) [3]float32 {
	// Standard quaternion rotation: v' = q * v * q^-1, with v treated as a
	// pure quaternion (0, v).
	qx, qy, qz, qw := q[0], q[1], q[2], q[3]
	uvx := qy*v[2] - qz*v[1]
	uvy := qz*v[0] - qx*v[2]
	uvz := qx*v[1] - qy*v[0]
	uuvx := qy*uvz - qz*uvy
	uuvy := qz*uvx - qx*uvz
	uuvz := qx*uvy - qy*uvx
	return [3]float32{
		v[0] + 2*(qw*uvx+uuvx),
		v[1] + 2*(qw*uvy+uuvy),
		v[2] + 2*(qw*uvz+uuvz),
	}
}

func conjugate(q [4]float32) [4]float32 {
	return [4]float32{-q[0], -q[1], -q[2], q[3]}
}

func binaryQuatQuat(fault *FaultKind, opcode Opcode, l, r [4]float32) (Value, bool) {
	switch opcode {
	case OpAdd:
		return Value{Type: TypeQuaternion, Quat: [4]float32{l[0] + r[0], l[1] + r[1], l[2] + r[2], l[3] + r[3]}}, true
	case OpSub:
		return Value{Type: TypeQuaternion, Quat: [4]float32{l[0] - r[0], l[1] - r[1], l[2] - r[2], l[3] - r[3]}}, true
	case OpMul:
		return Value{Type: TypeQuaternion, Quat: mulQuat(l, r)}, true
	case OpDiv:
		return Value{Type: TypeQuaternion, Quat: mulQuat(l, conjugate(r))}, true
	case OpEq:
		return boolValue(l == r), true
	case OpNeq:
		return boolValue(l != r), true
	}
	return Value{}, false
}

func mulQuat(l, r [4]float32) [4]float32 {
	return [4]float32{
		l[3]*r[0] + l[0]*r[3] + l[1]*r[2] - l[2]*r[1],
		l[3]*r[1] - l[0]*r[2] + l[1]*r[3] + l[2]*r[0],
		l[3]*r[2] + l[0]*r[1] - l[1]*r[0] + l[2]*r[3],
		l[3]*r[3] - l[0]*r[0] - l[1]*r[1] - l[2]*r[2],
	}
}

func prependList(elem, list Value) Value {
	out := Value{Type: TypeList, List: make([]Value, 0, len(list.List)+1)}
	out.List = append(out.List, elem)
	out.List = append(out.List, list.List...)
	return out
}

func appendList(list, elem Value) Value {
	out := Value{Type: TypeList, List: make([]Value, 0, len(list.List)+1)}
	out.List = append(out.List, list.List...)
	out.List = append(out.List, elem)
	return out
}

func binaryListList(opcode Opcode, l, r Value) (Value, bool) {
	switch opcode {
	case OpAdd:
		out := Value{Type: TypeList, List: make([]Value, 0, len(l.List)+len(r.List))}
		out.List = append(out.List, l.List...)
		out.List = append(out.List, r.List...)
		return out, true
	case OpEq:
		return boolValue(cmpLists(l.List, r.List) == 0), true
	case OpNeq:
		return boolValue(cmpLists(l.List, r.List) != 0), true
	}
	return Value{}, false
}

// binaryStringString implements string and key equality (§4.3): payload
// bytes are compared directly, and key<->string comparisons behave like
// plain string compare.
func binaryStringString(opcode Opcode, l, r string) (Value, bool) {
	switch opcode {
	case OpEq:
		return boolValue(cmpStrings(l, r) == 0), true
	case OpNeq:
		return boolValue(cmpStrings(l, r) != 0), true
	}
	return Value{}, false
}

func boolValue(b bool) Value {
	if b {
		return Value{Type: TypeInteger, Int: 1}
	}
	return Value{Type: TypeInteger, Int: 0}
}

// unaryOp performs opcode on v. Only NEG is type-dependent; BITNOT and
// BOOLNOT are always integer ops per §4.4.
func unaryOp(opcode Opcode, v Value) (Value, bool) {
	switch opcode {
	case OpNeg:
		switch v.Type {
		case TypeInteger:
			return Value{Type: TypeInteger, Int: -v.Int}, true
		case TypeFloat:
			return Value{Type: TypeFloat, Float: -v.Float}, true
		case TypeVector:
			return Value{Type: TypeVector, Vec: [3]float32{-v.Vec[0], -v.Vec[1], -v.Vec[2]}}, true
		case TypeQuaternion:
			return Value{Type: TypeQuaternion, Quat: [4]float32{-v.Quat[0], -v.Quat[1], -v.Quat[2], -v.Quat[3]}}, true
		}
	case OpBitNot:
		return Value{Type: TypeInteger, Int: ^v.Int}, true
	case OpBoolNot:
		return boolValue(v.Int == 0), true
	}
	return Value{}, false
}

// cmpStrings compares two UTF-8 payloads byte-for-byte; 0 means equal.
func cmpStrings(a, b string) int {
	return strings.Compare(a, b)
}

// cmpLists compares two lists element-wise; 0 iff same length and every
// element compares equal under its own type's comparison rule.
func cmpLists(a, b []Value) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return 1
		}
	}
	return 0
}

func valuesEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeInteger:
		return a.Int == b.Int
	case TypeFloat:
		return a.Float == b.Float
	case TypeString, TypeKey:
		return a.Str == b.Str
	case TypeVector:
		return a.Vec == b.Vec
	case TypeQuaternion:
		return a.Quat == b.Quat
	case TypeList:
		return cmpLists(a.List, b.List) == 0
	}
	return false
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryIntDivByZeroSetsFault(t *testing.T) {
	var fault FaultKind
	result, ok := binaryOp(&fault, OpDiv, Value{Type: TypeInteger, Int: 7}, Value{Type: TypeInteger, Int: 0})

	require.True(t, ok)
	require.Equal(t, FaultMath, fault)
	require.Equal(t, int32(0), result.Int)
}

func TestBinaryIntAdd(t *testing.T) {
	var fault FaultKind
	result, ok := binaryOp(&fault, OpAdd, Value{Type: TypeInteger, Int: 5}, Value{Type: TypeInteger, Int: 5})

	require.True(t, ok)
	require.Equal(t, FaultNone, fault)
	require.Equal(t, int32(10), result.Int)
}

func TestBinaryListPrependAndAppend(t *testing.T) {
	var fault FaultKind
	list := Value{Type: TypeList, List: []Value{{Type: TypeInteger, Int: 1}}}

	prepended, ok := binaryOp(&fault, OpAdd, Value{Type: TypeInteger, Int: 0}, list)
	require.True(t, ok)
	require.Equal(t, []int32{0, 1}, intsOf(prepended.List))

	appended, ok := binaryOp(&fault, OpAdd, list, Value{Type: TypeInteger, Int: 2})
	require.True(t, ok)
	require.Equal(t, []int32{1, 2}, intsOf(appended.List))
}

func TestBinaryVectorCrossAndDot(t *testing.T) {
	var fault FaultKind
	a := Value{Type: TypeVector, Vec: [3]float32{1, 0, 0}}
	b := Value{Type: TypeVector, Vec: [3]float32{0, 1, 0}}

	dot, ok := binaryOp(&fault, OpMul, a, b)
	require.True(t, ok)
	require.Equal(t, float32(0), dot.Float)

	cross, ok := binaryOp(&fault, OpMod, a, b)
	require.True(t, ok)
	require.Equal(t, [3]float32{0, 0, 1}, cross.Vec)
}

func TestTruthiness(t *testing.T) {
	require.False(t, Value{Type: TypeInteger, Int: 0}.Truthy())
	require.True(t, Value{Type: TypeInteger, Int: 1}.Truthy())
	require.False(t, Value{Type: TypeList}.Truthy())
	require.True(t, Value{Type: TypeList, List: []Value{{Type: TypeInteger}}}.Truthy())
	require.False(t, Value{Type: TypeKey, Str: "not-a-uuid"}.Truthy())
	require.True(t, Value{Type: TypeKey, Str: "550e8400-e29b-41d4-a716-446655440000"}.Truthy())
}

func TestCmpListsReflexiveSymmetric(t *testing.T) {
	a := []Value{{Type: TypeInteger, Int: 1}, {Type: TypeString, Str: "x"}}
	b := []Value{{Type: TypeInteger, Int: 1}, {Type: TypeString, Str: "x"}}

	require.Zero(t, cmpLists(a, a))
	require.Zero(t, cmpLists(a, b))
	require.Zero(t, cmpLists(b, a))
}

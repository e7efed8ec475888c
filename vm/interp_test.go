package vm

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// be32 big-endian-encodes a raw 32-bit pattern, matching the image's wire
// format for PUSHARG immediates.
func be32(bits uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, bits)
	return b
}

func beFloat(f float32) []byte {
	return be32(math.Float32bits(f))
}

// buildTestProgram assembles a minimal v2 image: empty globals, empty
// function table, a one-state state table whose only handled event is
// state_entry pointing at code, followed by the code bytes themselves.
func buildTestProgram(t *testing.T, code []byte) []byte {
	t.Helper()

	const gfr = 76 // HeaderEnd for v2
	const functionTableSize = 4
	sr := int32(gfr + functionTableSize)
	maskWidth := 8
	recordSize := stateRecordSize(maskWidth)
	stateTableSize := 4 + recordSize
	codeOffset := sr + stateTableSize

	buf := make([]byte, int(codeOffset)+len(code)+64)
	img := NewImage(buf)
	img.version = VersionV2
	img.WriteU32(regVN, VersionV2)
	img.SetGFR(gfr)
	img.WriteU32(int(gfr), 0) // zero functions
	img.SetSR(sr)
	img.WriteU32(int(sr), 1) // one state

	handledMaskOff := sr + 4
	img.WriteU64(int(handledMaskOff), EventStateEntry.Bit())

	entryFieldOff := handledMaskOff + int32(maskWidth) + int32(EventStateEntry)*8
	img.WriteU32(int(entryFieldOff), uint32(codeOffset))
	img.WriteU32(int(entryFieldOff)+4, 0) // declared stack size

	for i, b := range code {
		img.WriteU8(int(codeOffset)+i, b)
	}

	heapBase := codeOffset + int32(len(code))
	img.SetSP(int32(len(buf)) - 8)
	img.SetHR(heapBase)
	img.SetHP(heapBase)
	img.SetCS(0)
	img.SetNS(0)
	img.SetCE(EventStateEntry.Bit())
	img.SetER(EventStateEntry.Bit())

	return buf
}

func newTestVM(t *testing.T, code []byte) *VM {
	t.Helper()
	data := buildTestProgram(t, code)
	v, err := New(data, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return v
}

func TestScenarioStateEntryPrintAndReturn(t *testing.T) {
	code := []byte{
		byte(OpPushArgI), 0, 0, 0, 42,
		byte(OpPrint), byte(TypeInteger),
		byte(OpReturn),
	}
	v := newTestVM(t, code)

	for i := 0; i < 10 && v.Registers().IP == 0; i++ {
		v.Step(false, "actor")
	}
	for v.Registers().IP != 0 {
		v.Step(false, "actor")
	}

	regs := v.Registers()
	require.Equal(t, int32(0), regs.IP)
	require.Equal(t, uint64(0), regs.CE)
	require.Equal(t, FaultNone, regs.FR)
}

func TestScenarioDivisionByZeroFault(t *testing.T) {
	code := []byte{
		byte(OpPushArgI), 0, 0, 0, 7,
		byte(OpPushArgI), 0, 0, 0, 0,
		byte(OpDiv), 0x11, // integer,integer type-pair byte
		byte(OpReturn),
	}
	v := newTestVM(t, code)

	for i := 0; i < 20; i++ {
		v.Step(false, "actor")
		if f, has := v.Fault(); has {
			require.Equal(t, FaultMath, f)
			require.Equal(t, "Math Error", v.FaultMessage())
			return
		}
	}
	t.Fatal("expected MATH fault")
}

func TestScenarioLibraryCall(t *testing.T) {
	code := []byte{
		byte(OpPushArgS),
	}
	code = append(code, []byte("hi")...)
	code = append(code, 0) // NUL terminator
	code = append(code,
		byte(OpCallLib), 0,
		byte(OpReturn),
	)
	v := newTestVM(t, code)

	var seen string
	v.RegisterLibrary(0, LibraryFunction{
		Name:      "hello",
		Args:      "s",
		EnergyUse: 1,
		Exec: func(args []Value, actorID string) Value {
			seen = args[0].Str
			return Value{}
		},
	})

	startESR := v.Registers().ESR
	for i := 0; i < 10 && v.Registers().IP == 0; i++ {
		v.Step(false, "actor")
	}
	for v.Registers().IP != 0 {
		v.Step(false, "actor")
	}

	require.Equal(t, "hi", seen)
	require.Less(t, v.Registers().ESR, startESR)
}

// TestScenarioFloatAdd exercises ADD FLOAT,FLOAT through the interpreter
// stack. Before the type-pair byte was honored, the operands were popped
// as raw TypeInteger words and the float bits were reinterpreted as an
// integer sum.
func TestScenarioFloatAdd(t *testing.T) {
	code := []byte{byte(OpPushArgF)}
	code = append(code, beFloat(3.5)...)
	code = append(code, byte(OpPushArgF))
	code = append(code, beFloat(1.5)...)
	code = append(code,
		byte(OpAdd), byte(TypeFloat)<<4|byte(TypeFloat),
		byte(OpCallLib), 0,
		byte(OpReturn),
	)
	v := newTestVM(t, code)

	var seen float32
	v.RegisterLibrary(0, LibraryFunction{
		Name: "capturef",
		Args: "f",
		Exec: func(args []Value, actorID string) Value {
			seen = args[0].Float
			return Value{}
		},
	})

	runToQuiescence(t, v)
	require.Equal(t, float32(5), seen)
}

// TestScenarioVectorDotProduct exercises MUL VECTOR,VECTOR (dot product).
// A type-pair byte desync would pop 4 bytes instead of 12 per vector and
// leave the stack misaligned for everything after.
func TestScenarioVectorDotProduct(t *testing.T) {
	code := []byte{byte(OpPushArgV)}
	code = append(code, beFloat(1)...)
	code = append(code, beFloat(0)...)
	code = append(code, beFloat(0)...)
	code = append(code, byte(OpPushArgV))
	code = append(code, beFloat(0)...)
	code = append(code, beFloat(1)...)
	code = append(code, beFloat(0)...)
	code = append(code,
		byte(OpMul), byte(TypeVector)<<4|byte(TypeVector),
		byte(OpCallLib), 0,
		byte(OpReturn),
	)
	v := newTestVM(t, code)

	var seen float32
	v.RegisterLibrary(0, LibraryFunction{
		Name: "capturef",
		Args: "f",
		Exec: func(args []Value, actorID string) Value {
			seen = args[0].Float
			return Value{}
		},
	})

	runToQuiescence(t, v)
	require.Equal(t, float32(0), seen)
}

// TestScenarioQuaternionMultiply exercises MUL QUATERNION,QUATERNION
// (identity * identity == identity), catching the same 16-byte-operand
// desync risk as the vector case.
func TestScenarioQuaternionMultiply(t *testing.T) {
	identity := []byte{}
	identity = append(identity, beFloat(0)...)
	identity = append(identity, beFloat(0)...)
	identity = append(identity, beFloat(0)...)
	identity = append(identity, beFloat(1)...)

	code := []byte{byte(OpPushArgQ)}
	code = append(code, identity...)
	code = append(code, byte(OpPushArgQ))
	code = append(code, identity...)
	code = append(code,
		byte(OpMul), byte(TypeQuaternion)<<4|byte(TypeQuaternion),
		byte(OpCallLib), 0,
		byte(OpReturn),
	)
	v := newTestVM(t, code)

	var seen [4]float32
	v.RegisterLibrary(0, LibraryFunction{
		Name: "captureq",
		Args: "q",
		Exec: func(args []Value, actorID string) Value {
			seen = args[0].Quat
			return Value{}
		},
	})

	runToQuiescence(t, v)
	require.Equal(t, [4]float32{0, 0, 0, 1}, seen)
}

// TestScenarioStringEquality exercises EQ STRING,STRING, which was
// previously unreachable: popTyped hardcoded TypeInteger, so the string
// heap addresses were compared as integers rather than via cmpStrings.
func TestScenarioStringEquality(t *testing.T) {
	code := []byte{byte(OpPushArgS)}
	code = append(code, []byte("hi")...)
	code = append(code, 0)
	code = append(code, byte(OpPushArgS))
	code = append(code, []byte("hi")...)
	code = append(code, 0)
	code = append(code,
		byte(OpEq), byte(TypeString)<<4|byte(TypeString),
		byte(OpCallLib), 0,
		byte(OpReturn),
	)
	v := newTestVM(t, code)

	var seen int32
	v.RegisterLibrary(0, LibraryFunction{
		Name: "capturei",
		Args: "i",
		Exec: func(args []Value, actorID string) Value {
			seen = args[0].Int
			return Value{}
		},
	})

	runToQuiescence(t, v)
	require.Equal(t, int32(1), seen)
}

func runToQuiescence(t *testing.T, v *VM) {
	t.Helper()
	for i := 0; i < 10 && v.Registers().IP == 0; i++ {
		v.Step(false, "actor")
	}
	for v.Registers().IP != 0 {
		v.Step(false, "actor")
	}
}

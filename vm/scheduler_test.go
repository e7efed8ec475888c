package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// buildTwoStateProgram assembles an image with two states: state 0 handles
// touch_start and state_exit; state 1 handles only state_entry. Both
// states' handlers are a single RETURN.
func buildTwoStateProgram(t *testing.T) ([]byte, int32, int32) {
	t.Helper()

	const gfr = 76
	sr := int32(gfr + 4)
	maskWidth := 8
	recordSize := stateRecordSize(maskWidth)
	codeOffset := sr + 4 + 2*recordSize

	buf := make([]byte, int(codeOffset)+32+64)
	img := NewImage(buf)
	img.version = VersionV2
	img.WriteU32(regVN, VersionV2)
	img.SetGFR(gfr)
	img.WriteU32(int(gfr), 0)
	img.SetSR(sr)
	img.WriteU32(int(sr), 2)

	returnOnlyCode := codeOffset
	img.WriteU8(int(returnOnlyCode), byte(OpReturn))

	state0Mask := sr + 4
	img.WriteU64(int(state0Mask), EventTouchStart.Bit()|EventStateExit.Bit())
	touchEntryOff := state0Mask + int32(maskWidth) + int32(EventTouchStart)*8
	img.WriteU32(int(touchEntryOff), uint32(returnOnlyCode))
	img.WriteU32(int(touchEntryOff)+4, 0)
	exitEntryOff := state0Mask + int32(maskWidth) + int32(EventStateExit)*8
	img.WriteU32(int(exitEntryOff), uint32(returnOnlyCode))
	img.WriteU32(int(exitEntryOff)+4, 0)

	state1Mask := state0Mask + recordSize
	img.WriteU64(int(state1Mask), EventStateEntry.Bit())
	entryEntryOff := state1Mask + int32(maskWidth) + int32(EventStateEntry)*8
	img.WriteU32(int(entryEntryOff), uint32(returnOnlyCode))
	img.WriteU32(int(entryEntryOff)+4, 0)

	img.SetSP(int32(len(buf)) - 8)
	img.SetHR(codeOffset + 32)
	img.SetHP(codeOffset + 32)
	img.SetCS(0)
	img.SetNS(0)
	img.SetCE(0)
	img.SetER(EventTouchStart.Bit() | EventStateExit.Bit())

	return buf, returnOnlyCode, 1
}

func TestSchedulerTouchStartDispatch(t *testing.T) {
	data, _, _ := buildTwoStateProgram(t)
	v, err := New(data, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	v.EnqueueEvent(EventTouchStart, []Value{{Type: TypeInteger, Int: 1}})

	v.Step(false, "actor")

	regs := v.Registers()
	require.NotZero(t, regs.IP)
	require.NotZero(t, regs.IE&EventTouchStart.Bit())
	require.Zero(t, regs.CE&EventTouchStart.Bit())
}

func TestSchedulerStateTransition(t *testing.T) {
	data, _, target := buildTwoStateProgram(t)
	v, err := New(data, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	v.EnqueueEvent(EventTouchStart, []Value{{Type: TypeInteger, Int: 1}})
	v.img.SetNS(target)
	v.img.SetCE(v.img.CE() | EventStateExit.Bit())

	v.Step(false, "actor") // synthesizes state_exit handler frame
	require.NotZero(t, v.Registers().IE&EventStateExit.Bit())

	v.Step(false, "actor") // RETURN from state_exit handler, IP back to 0
	require.Zero(t, v.Registers().IP)

	v.Step(false, "actor") // commits the transition
	require.Equal(t, target, v.Registers().CS)
	require.NotZero(t, v.Registers().CE&EventStateEntry.Bit())
}

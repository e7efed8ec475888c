package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestImage(t *testing.T, stackTop, heapBase int32) *Image {
	t.Helper()
	buf := make([]byte, 4096)
	img := NewImage(buf)
	img.WriteU32(regVN, VersionV2)
	img.version = VersionV2
	img.SetSP(stackTop)
	img.SetHR(heapBase)
	img.SetHP(heapBase)
	return img
}

func TestPushPopRoundTrip(t *testing.T) {
	img := newTestImage(t, 4000, 512)

	startSP := img.SP()
	img.PushI32(42)
	img.PushF32(3.5)
	img.PushVector([3]float32{1, 2, 3})

	require.Equal(t, [3]float32{1, 2, 3}, img.PopVector())
	require.Equal(t, float32(3.5), img.PopF32())
	require.Equal(t, int32(42), img.PopI32())
	require.Equal(t, startSP, img.SP())
	require.Equal(t, FaultNone, img.Fault())
}

func TestStackHeapCollisionFault(t *testing.T) {
	img := newTestImage(t, 520, 512)

	// SP is only 8 bytes above HP; pushing 12 bytes of vector should collide.
	img.PushVector([3]float32{1, 1, 1})

	require.Equal(t, FaultStackHeapCollision, img.Fault())
}

func TestBoundsCheckFault(t *testing.T) {
	img := newTestImage(t, 4000, 512)

	img.ReadU32(-4)

	require.Equal(t, FaultBoundsCheck, img.Fault())
}

func TestHeapRelativeAddressing(t *testing.T) {
	img := newTestImage(t, 4000, 512)

	require.Equal(t, int32(0), img.heapAddr(0))
	biased := img.heapAddr(600)
	require.Equal(t, int32(89), biased)
	require.Equal(t, int32(600), img.rawAddr(biased))
	require.Equal(t, int32(0), img.rawAddr(0))
}

func TestLocalAndGlobalSlots(t *testing.T) {
	img := newTestImage(t, 4000, 512)
	img.SetBP(1000)

	img.LocalStore(8, 99)
	require.Equal(t, uint32(99), img.LocalLoad(8))

	img.GlobalStore(4, 7)
	require.Equal(t, uint32(7), img.GlobalLoad(4))
}

package vm

import (
	"encoding/binary"
	"math"
)

// Version markers recognized in the image header (§6).
const (
	VersionV1End uint32 = 1 // 32-bit event mask
	VersionV2    uint32 = 2 // 64-bit event mask
)

// Register offsets within the fixed header, in bytes. All registers are
// stored big-endian. VN is read first and independently of the rest of the
// header since it decides the width of CE/ER/IE.
const (
	regTotalSize = 0
	regVN        = 4
	regIP        = 8
	regSP        = 12
	regBP        = 16
	regCS        = 20
	regNS        = 24
	regCE        = 28 // width depends on VN: 4 bytes (v1) or 8 bytes (v2)
)

// headerSize returns the total header width for the given version, the
// same offset HeaderEnd reports for an image of that version.
func headerSize(version uint32) int {
	maskWidth := 4
	if version == VersionV2 {
		maskWidth = 8
	}
	// regCE start + 3 mask-width fields (CE, ER, IE) + remaining
	// fixed-width registers: HR, HP, GFR, SR, ESR, SLR (4 bytes each).
	// FR is not stored in the buffer.
	return regCE + 3*maskWidth + 6*4
}

// Image is the single contiguous byte buffer holding the VM state:
// header/registers, globals, function table, state table, stack, and heap.
// The fault register FR is the exception: it is held in the Image value,
// not in the buffer. All access is bounds-checked; a violation sets the fault register rather
// than panicking, per §4.1.
type Image struct {
	buf     []byte
	version uint32
	fault   FaultKind
}

// NewImage wraps buf as a program image. It does not copy buf.
func NewImage(buf []byte) *Image {
	img := &Image{buf: buf}
	if len(buf) >= regVN+4 {
		img.version = binary.BigEndian.Uint32(buf[regVN : regVN+4])
	}
	return img
}

func (img *Image) Len() int { return len(img.buf) }

func (img *Image) Version() uint32 { return img.version }

// Fault returns the currently latched fault, if any.
func (img *Image) Fault() FaultKind { return img.fault }

// SetFault latches f if no fault is already pending; the first fault wins.
func (img *Image) SetFault(f FaultKind) {
	if img.fault == FaultNone {
		img.fault = f
	}
}

// ClearFault resets the fault register, allowing Step to resume.
func (img *Image) ClearFault() { img.fault = FaultNone }

func (img *Image) inBounds(offset, width int) bool {
	return offset >= 0 && width >= 0 && offset+width <= len(img.buf)
}

// ReadU8/16/32 and WriteU8/16/32 are the raw big-endian accessors every
// higher-level operation in the package is built from. A failed bounds
// check latches BOUNDS_CHECK and leaves the buffer untouched.

func (img *Image) ReadU8(offset int) byte {
	if !img.inBounds(offset, 1) {
		img.SetFault(FaultBoundsCheck)
		return 0
	}
	return img.buf[offset]
}

func (img *Image) WriteU8(offset int, v byte) {
	if !img.inBounds(offset, 1) {
		img.SetFault(FaultBoundsCheck)
		return
	}
	img.buf[offset] = v
}

func (img *Image) ReadU16(offset int) uint16 {
	if !img.inBounds(offset, 2) {
		img.SetFault(FaultBoundsCheck)
		return 0
	}
	return binary.BigEndian.Uint16(img.buf[offset : offset+2])
}

func (img *Image) WriteU16(offset int, v uint16) {
	if !img.inBounds(offset, 2) {
		img.SetFault(FaultBoundsCheck)
		return
	}
	binary.BigEndian.PutUint16(img.buf[offset:offset+2], v)
}

func (img *Image) ReadU32(offset int) uint32 {
	if !img.inBounds(offset, 4) {
		img.SetFault(FaultBoundsCheck)
		return 0
	}
	return binary.BigEndian.Uint32(img.buf[offset : offset+4])
}

func (img *Image) WriteU32(offset int, v uint32) {
	if !img.inBounds(offset, 4) {
		img.SetFault(FaultBoundsCheck)
		return
	}
	binary.BigEndian.PutUint32(img.buf[offset:offset+4], v)
}

func (img *Image) ReadU64(offset int) uint64 {
	if !img.inBounds(offset, 8) {
		img.SetFault(FaultBoundsCheck)
		return 0
	}
	return binary.BigEndian.Uint64(img.buf[offset : offset+8])
}

func (img *Image) WriteU64(offset int, v uint64) {
	if !img.inBounds(offset, 8) {
		img.SetFault(FaultBoundsCheck)
		return
	}
	binary.BigEndian.PutUint64(img.buf[offset:offset+8], v)
}

func (img *Image) ReadF32(offset int) float32 {
	return math.Float32frombits(img.ReadU32(offset))
}

func (img *Image) WriteF32(offset int, v float32) {
	img.WriteU32(offset, math.Float32bits(v))
}

func (img *Image) ReadI32(offset int) int32 {
	return int32(img.ReadU32(offset))
}

func (img *Image) WriteI32(offset int, v int32) {
	img.WriteU32(offset, uint32(v))
}

// --- Named registers ---

func (img *Image) IP() int32     { return img.ReadI32(regIP) }
func (img *Image) SetIP(v int32) { img.WriteI32(regIP, v) }

func (img *Image) SP() int32     { return img.ReadI32(regSP) }
func (img *Image) SetSP(v int32) { img.WriteI32(regSP, v) }

func (img *Image) BP() int32     { return img.ReadI32(regBP) }
func (img *Image) SetBP(v int32) { img.WriteI32(regBP, v) }

func (img *Image) CS() int32     { return img.ReadI32(regCS) }
func (img *Image) SetCS(v int32) { img.WriteI32(regCS, v) }

func (img *Image) NS() int32     { return img.ReadI32(regNS) }
func (img *Image) SetNS(v int32) { img.WriteI32(regNS, v) }

func (img *Image) maskWidth() int {
	if img.version == VersionV2 {
		return 8
	}
	return 4
}

func (img *Image) CE() uint64 { return img.readMask(regCE) }
func (img *Image) SetCE(v uint64) { img.writeMask(regCE, v) }

func (img *Image) erOffset() int { return regCE + img.maskWidth() }
func (img *Image) ER() uint64     { return img.readMask(img.erOffset()) }
func (img *Image) SetER(v uint64) { img.writeMask(img.erOffset(), v) }

func (img *Image) ieOffset() int { return img.erOffset() + img.maskWidth() }
func (img *Image) IE() uint64     { return img.readMask(img.ieOffset()) }
func (img *Image) SetIE(v uint64) { img.writeMask(img.ieOffset(), v) }

func (img *Image) readMask(offset int) uint64 {
	if img.maskWidth() == 8 {
		return img.ReadU64(offset)
	}
	return uint64(img.ReadU32(offset))
}

func (img *Image) writeMask(offset int, v uint64) {
	if img.maskWidth() == 8 {
		img.WriteU64(offset, v)
		return
	}
	img.WriteU32(offset, uint32(v))
}

func (img *Image) tailOffset() int { return img.ieOffset() + img.maskWidth() }

func (img *Image) HR() int32      { return img.ReadI32(img.tailOffset()) }
func (img *Image) SetHR(v int32)  { img.WriteI32(img.tailOffset(), v) }
func (img *Image) HP() int32      { return img.ReadI32(img.tailOffset() + 4) }
func (img *Image) SetHP(v int32)  { img.WriteI32(img.tailOffset()+4, v) }
func (img *Image) GFR() int32     { return img.ReadI32(img.tailOffset() + 8) }
func (img *Image) SetGFR(v int32) { img.WriteI32(img.tailOffset()+8, v) }
func (img *Image) SR() int32      { return img.ReadI32(img.tailOffset() + 12) }
func (img *Image) SetSR(v int32)  { img.WriteI32(img.tailOffset()+12, v) }
func (img *Image) ESR() float32   { return img.ReadF32(img.tailOffset() + 16) }
func (img *Image) SetESR(v float32) { img.WriteF32(img.tailOffset()+16, v) }
func (img *Image) SLR() float32   { return img.ReadF32(img.tailOffset() + 20) }
func (img *Image) SetSLR(v float32) { img.WriteF32(img.tailOffset()+20, v) }
func (img *Image) FRRegister() int32 { return int32(img.fault) }

// HeaderEnd is the first byte past the fixed register block, i.e. where the
// globals region begins.
func (img *Image) HeaderEnd() int { return img.tailOffset() + 24 }

// --- Heap-relative +1 addressing (§3.1, §9) ---

// heapAddr converts an absolute buffer offset into the heap-relative+1
// address the bytecode stores on the stack; zero means "no object".
func (img *Image) heapAddr(absolute int32) int32 {
	if absolute == 0 {
		return 0
	}
	return absolute - img.HR() + 1
}

// rawAddr converts a heap-relative+1 stack value back into an absolute
// buffer offset; zero stays zero.
func (img *Image) rawAddr(biased int32) int32 {
	if biased == 0 {
		return 0
	}
	return biased + img.HR() - 1
}

// --- Stack push/pop ---

func (img *Image) checkStackHeapCollision(newSP int32) bool {
	if newSP < img.HP() {
		img.SetFault(FaultStackHeapCollision)
		return true
	}
	return false
}

func (img *Image) PushU32(v uint32) {
	newSP := img.SP() - 4
	if img.checkStackHeapCollision(newSP) {
		return
	}
	img.WriteU32(int(newSP), v)
	img.SetSP(newSP)
}

func (img *Image) PopU32() uint32 {
	sp := img.SP()
	v := img.ReadU32(int(sp))
	img.SetSP(sp + 4)
	return v
}

func (img *Image) PushI32(v int32) { img.PushU32(uint32(v)) }
func (img *Image) PopI32() int32   { return int32(img.PopU32()) }

func (img *Image) PushF32(v float32) { img.PushU32(math.Float32bits(v)) }
func (img *Image) PopF32() float32   { return math.Float32frombits(img.PopU32()) }

func (img *Image) PushVector(v [3]float32) {
	for i := 2; i >= 0; i-- {
		img.PushF32(v[i])
	}
}

func (img *Image) PopVector() [3]float32 {
	var v [3]float32
	for i := 0; i < 3; i++ {
		v[i] = img.PopF32()
	}
	return v
}

func (img *Image) PushQuaternion(v [4]float32) {
	for i := 3; i >= 0; i-- {
		img.PushF32(v[i])
	}
}

func (img *Image) PopQuaternion() [4]float32 {
	var v [4]float32
	for i := 0; i < 4; i++ {
		v[i] = img.PopF32()
	}
	return v
}

// --- Locals / globals ---

func (img *Image) LocalLoad(offset int32) uint32 {
	return img.ReadU32(int(img.BP() + offset))
}

func (img *Image) LocalStore(offset int32, v uint32) {
	img.WriteU32(int(img.BP()+offset), v)
}

func (img *Image) GlobalLoad(offset int32) uint32 {
	return img.ReadU32(int(img.HeaderEnd()) + int(offset))
}

func (img *Image) GlobalStore(offset int32, v uint32) {
	img.WriteU32(img.HeaderEnd()+int(offset), v)
}


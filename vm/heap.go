package vm

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Heap cell type tags (§3.3).
const (
	cellTypeString byte = 1
	cellTypeKey    byte = 2
	cellTypeList   byte = 3
)

// cellHeaderSize is total_size(4) + type_tag(1) + refcount(4).
const cellHeaderSize = 9

// Heap manages variable-length cells (strings, keys, lists) living in the
// upward-growing heap region of an Image, past HP. Free cells are tracked
// by size class so a later allocation of a similar size can reuse one
// without a full compaction pass — the same "pool by kind, not by exact
// fit" idea as the teacher's device bookkeeping, generalized from hardware
// channels to heap size buckets.
type Heap struct {
	img      *Image
	maxBytes int32
	freeList map[int32][]int32 // size class -> absolute offsets of free cells
}

// NewHeap wraps img's heap region with a byte budget.
func NewHeap(img *Image, maxBytes int32) *Heap {
	return &Heap{img: img, maxBytes: maxBytes, freeList: make(map[int32][]int32)}
}

func sizeClass(n int32) int32 {
	// Round up to the next power-of-two-ish bucket to keep the free list
	// small; exact-fit reuse is not required by the contract.
	c := int32(16)
	for c < n {
		c *= 2
	}
	return c
}

// HeapAdd appends a new cell holding data, or reuses a freed cell of a
// matching size class. markLive seeds refcount at 1; otherwise 0 (the
// caller must inc_ref before the value becomes reachable, matching the
// compiler's explicit discipline).
func (h *Heap) HeapAdd(tag byte, data []byte, markLive bool) int32 {
	total := int32(cellHeaderSize + len(data))
	class := sizeClass(total)

	if offs := h.freeList[class]; len(offs) > 0 {
		abs := offs[len(offs)-1]
		h.freeList[class] = offs[:len(offs)-1]
		h.writeCell(abs, total, tag, data, markLive)
		return h.img.heapAddr(abs)
	}

	abs := h.img.HP()
	newHP := abs + class
	if newHP > h.img.SP() {
		h.img.SetFault(FaultStackHeapCollision)
		return 0
	}
	if abs+class-h.img.HR() > h.maxBytes {
		h.img.SetFault(FaultHeapError)
		return 0
	}
	h.writeCell(abs, total, tag, data, markLive)
	h.img.SetHP(newHP)
	return h.img.heapAddr(abs)
}

func (h *Heap) writeCell(abs, totalSize int32, tag byte, data []byte, markLive bool) {
	h.img.WriteU32(int(abs), uint32(totalSize))
	h.img.WriteU8(int(abs)+4, tag)
	ref := uint32(0)
	if markLive {
		ref = 1
	}
	h.img.WriteU32(int(abs)+5, ref)
	for i, b := range data {
		h.img.WriteU8(int(abs)+cellHeaderSize+i, b)
	}
}

func (h *Heap) cellAt(biased int32) (abs, totalSize int32, tag byte, refcount uint32, ok bool) {
	if biased == 0 {
		return 0, 0, 0, 0, false
	}
	abs = h.img.rawAddr(biased)
	totalSize = h.img.ReadI32(int(abs))
	tag = h.img.ReadU8(int(abs) + 4)
	refcount = h.img.ReadU32(int(abs) + 5)
	return abs, totalSize, tag, refcount, true
}

func (h *Heap) payload(abs, totalSize int32) []byte {
	n := int(totalSize) - cellHeaderSize
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = h.img.ReadU8(int(abs) + cellHeaderSize + i)
	}
	return out
}

// HeapGet returns an owned copy of the cell's payload for read-only use; it
// does not touch the refcount.
func (h *Heap) HeapGet(biased int32) []byte {
	abs, totalSize, _, _, ok := h.cellAt(biased)
	if !ok {
		return nil
	}
	return h.payload(abs, totalSize)
}

// HeapType returns the cell's type tag, or 0 if biased is the null address.
func (h *Heap) HeapType(biased int32) byte {
	_, _, tag, _, ok := h.cellAt(biased)
	if !ok {
		return 0
	}
	return tag
}

// IncRef bumps a cell's refcount; the null address is a no-op.
func (h *Heap) IncRef(biased int32) {
	abs, totalSize, _, refcount, ok := h.cellAt(biased)
	if !ok {
		return
	}
	h.img.WriteU32(int(abs)+5, refcount+1)
	_ = totalSize
}

// DecRef drops a cell's refcount; at zero the cell is freed. A freed cell at
// the top of the heap lowers HP to its offset; any other freed cell's offset
// is returned to the free list, keyed by its size class.
func (h *Heap) DecRef(biased int32) {
	abs, totalSize, _, refcount, ok := h.cellAt(biased)
	if !ok {
		return
	}
	if refcount == 0 {
		return
	}
	refcount--
	h.img.WriteU32(int(abs)+5, refcount)
	if refcount == 0 {
		class := sizeClass(totalSize)
		if abs+class == h.img.HP() {
			h.img.SetHP(abs)
		} else {
			h.freeList[class] = append(h.freeList[class], abs)
		}
	}
}

// CatStrings concatenates two UTF-8 payloads into a new heap cell.
func (h *Heap) CatStrings(a, b int32) int32 {
	sa := h.HeapGet(a)
	sb := h.HeapGet(b)
	return h.HeapAdd(cellTypeString, append(append([]byte{}, sa...), sb...), true)
}

// CmpStrings compares two string/key payloads byte-for-byte.
func (h *Heap) CmpStrings(a, b int32) int {
	return bytes.Compare(h.HeapGet(a), h.HeapGet(b))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeF32(buf *bytes.Buffer, v float32) {
	writeU32(buf, math.Float32bits(v))
}

// encodeListResolved serializes []Value into the inline-tagged,
// null-terminated payload format described in §3.3. Each element is a
// 1-byte type tag followed by its fixed-width encoding (4 bytes for
// integer/float, 12 for vector, 16 for quaternion) or, for string/key, the
// heap-relative+1 address of a freshly allocated cell holding its text
// (lists may not nest, so no list tag ever appears here — see
// NESTING_LISTS).
func (h *Heap) encodeListResolved(values []Value) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteByte(byte(v.Type))
		switch v.Type {
		case TypeInteger:
			writeU32(&buf, uint32(v.Int))
		case TypeFloat:
			writeF32(&buf, v.Float)
		case TypeString, TypeKey:
			tag := cellTypeString
			if v.Type == TypeKey {
				tag = cellTypeKey
			}
			addr := h.HeapAdd(tag, []byte(v.Str), true)
			writeU32(&buf, uint32(addr))
		case TypeVector:
			for _, f := range v.Vec {
				writeF32(&buf, f)
			}
		case TypeQuaternion:
			for _, f := range v.Quat {
				writeF32(&buf, f)
			}
		}
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// Preadd prepends x to list, producing a new list cell.
func (h *Heap) Preadd(x Value, list int32) int32 {
	elems := h.decodeListValues(list)
	out := append([]Value{x}, elems...)
	return h.HeapAdd(cellTypeList, h.encodeListResolved(out), true)
}

// Postadd appends x to list, producing a new list cell.
func (h *Heap) Postadd(list int32, x Value) int32 {
	elems := h.decodeListValues(list)
	out := append(append([]Value{}, elems...), x)
	return h.HeapAdd(cellTypeList, h.encodeListResolved(out), true)
}

// CatLists concatenates two lists into a new list cell.
func (h *Heap) CatLists(a, b int32) int32 {
	out := append(h.decodeListValues(a), h.decodeListValues(b)...)
	return h.HeapAdd(cellTypeList, h.encodeListResolved(out), true)
}

// CmpLists reports 0 if a and b are element-wise equal, nonzero otherwise.
func (h *Heap) CmpLists(a, b int32) int {
	return cmpLists(h.decodeListValues(a), h.decodeListValues(b))
}

// decodeListValues reads a list cell's payload into []Value, resolving
// string/key elements' stored addresses into their text for host-facing use.
func (h *Heap) decodeListValues(biased int32) []Value {
	raw := h.HeapGet(biased)
	var out []Value
	i := 0
	for i < len(raw) {
		tag := ValueType(raw[i])
		i++
		if tag == 0 {
			break
		}
		switch tag {
		case TypeInteger:
			out = append(out, Value{Type: TypeInteger, Int: int32(binary.BigEndian.Uint32(raw[i : i+4]))})
			i += 4
		case TypeFloat:
			out = append(out, Value{Type: TypeFloat, Float: math.Float32frombits(binary.BigEndian.Uint32(raw[i : i+4]))})
			i += 4
		case TypeString, TypeKey:
			addr := int32(binary.BigEndian.Uint32(raw[i : i+4]))
			i += 4
			out = append(out, Value{Type: tag, Str: string(h.HeapGet(addr))})
		case TypeVector:
			var v [3]float32
			for j := range v {
				v[j] = math.Float32frombits(binary.BigEndian.Uint32(raw[i : i+4]))
				i += 4
			}
			out = append(out, Value{Type: TypeVector, Vec: v})
		case TypeQuaternion:
			var q [4]float32
			for j := range q {
				q[j] = math.Float32frombits(binary.BigEndian.Uint32(raw[i : i+4]))
				i += 4
			}
			out = append(out, Value{Type: TypeQuaternion, Quat: q})
		}
	}
	return out
}

// ValidKey reports whether s parses as a non-null UUID, the same rule
// Value.Truthy applies to keys (§4.4).
func ValidKey(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id != uuid.Nil
}

// ListLength returns the element count of a list value, a helper the
// original interpreter inlines at every list-length call site.
func ListLength(v Value) int32 {
	return int32(len(v.List))
}

// VectorMagnitude returns the Euclidean length of a vector value.
func VectorMagnitude(v Value) float32 {
	return float32(math.Sqrt(float64(v.Vec[0])*float64(v.Vec[0]) +
		float64(v.Vec[1])*float64(v.Vec[1]) +
		float64(v.Vec[2])*float64(v.Vec[2])))
}

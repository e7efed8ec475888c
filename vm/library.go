package vm

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// LibraryFunction describes one host-provided built-in callable via
// CALLLIB/CALLLIB_TWO_BYTE (§4.6). Args is a signature string using the
// letter codes i|f|k|s|l|v|q (one per argument, left to right); Return is
// one of those codes or empty for no return value.
type LibraryFunction struct {
	Name      string
	Args      string
	Return    byte
	EnergyUse float32
	SleepTime float32
	Exec      func(args []Value, actorID string) Value
}

// LibraryRegistry holds the host's populated library slots. Metrics are
// opt-in: a nil collector pair disables instrumentation so the VM core
// stays usable as a plain library with nothing registered.
type LibraryRegistry struct {
	slots       []LibraryFunction
	callCounter *prometheus.CounterVec
	energyHist  *prometheus.HistogramVec
}

// NewLibraryRegistry creates an empty registry. Pass nil, nil to disable
// metrics collection.
func NewLibraryRegistry(callCounter *prometheus.CounterVec, energyHist *prometheus.HistogramVec) *LibraryRegistry {
	return &LibraryRegistry{callCounter: callCounter, energyHist: energyHist}
}

// Register installs fn at slot, growing the registry if needed.
func (r *LibraryRegistry) Register(slot int, fn LibraryFunction) {
	for len(r.slots) <= slot {
		r.slots = append(r.slots, LibraryFunction{})
	}
	r.slots[slot] = fn
}

func (r *LibraryRegistry) lookup(slot int) (LibraryFunction, bool) {
	if slot < 0 || slot >= len(r.slots) || r.slots[slot].Exec == nil {
		return LibraryFunction{}, false
	}
	return r.slots[slot], true
}

// argWidth returns the stack footprint in bytes of one signature code.
func argWidth(code byte) int32 {
	switch code {
	case 'v':
		return 12
	case 'q':
		return 16
	default:
		return 4
	}
}

func codeToType(code byte) ValueType {
	switch code {
	case 'i':
		return TypeInteger
	case 'f':
		return TypeFloat
	case 'k':
		return TypeKey
	case 's':
		return TypeString
	case 'l':
		return TypeList
	case 'v':
		return TypeVector
	case 'q':
		return TypeQuaternion
	}
	return 0
}

// Call implements the CALLLIB/CALLLIB_TWO_BYTE contract of §4.6: validate
// the slot, pop arguments right-to-left per the signature, invoke Exec,
// debit energy/sleep, and stash the return value into the caller's
// reserved return slots.
func (r *LibraryRegistry) Call(img *Image, heap *Heap, slot int, actorID string) {
	fn, ok := r.lookup(slot)
	if !ok {
		img.SetFault(FaultBoundsCheck)
		return
	}

	args := make([]Value, len(fn.Args))
	for i := len(fn.Args) - 1; i >= 0; i-- {
		args[i] = popArg(img, heap, fn.Args[i])
	}

	ret := fn.Exec(args, actorID)

	img.SetESR(img.ESR() - fn.EnergyUse)
	img.SetSLR(clampSleep(img.SLR() + fn.SleepTime))

	if fn.Return != 0 {
		stashReturn(img, heap, fn.Return, ret)
	}

	if r.callCounter != nil {
		r.callCounter.WithLabelValues(fn.Name).Inc()
	}
	if r.energyHist != nil {
		r.energyHist.WithLabelValues(fn.Name).Observe(float64(fn.EnergyUse))
	}
}

// clampSleep applies the original interpreter's negative-sleep clamp: a
// negative request never drives SLR below zero, while ESR is allowed to go
// negative and is left to host policy (§SUPPLEMENTED FEATURES).
func clampSleep(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

func popArg(img *Image, heap *Heap, code byte) Value {
	switch codeToType(code) {
	case TypeInteger:
		return Value{Type: TypeInteger, Int: img.PopI32()}
	case TypeFloat:
		return Value{Type: TypeFloat, Float: img.PopF32()}
	case TypeString:
		addr := img.PopI32()
		return Value{Type: TypeString, Str: string(heap.HeapGet(addr))}
	case TypeKey:
		addr := img.PopI32()
		return Value{Type: TypeKey, Str: string(heap.HeapGet(addr))}
	case TypeList:
		addr := img.PopI32()
		return Value{Type: TypeList, List: heap.decodeListValues(addr)}
	case TypeVector:
		return Value{Type: TypeVector, Vec: img.PopVector()}
	case TypeQuaternion:
		return Value{Type: TypeQuaternion, Quat: img.PopQuaternion()}
	}
	return Value{}
}

// Reserved return-slot offsets relative to BP, per §4.6 step 6.
const (
	returnScalarOffset     = -12
	returnVectorOffset     = -20
	returnQuaternionOffset = -24
)

func stashReturn(img *Image, heap *Heap, code byte, v Value) {
	switch codeToType(code) {
	case TypeInteger:
		img.LocalStore(returnScalarOffset, uint32(v.Int))
	case TypeFloat:
		img.LocalStore(returnScalarOffset, math.Float32bits(v.Float))
	case TypeString:
		img.LocalStore(returnScalarOffset, uint32(heap.HeapAdd(cellTypeString, []byte(v.Str), true)))
	case TypeKey:
		img.LocalStore(returnScalarOffset, uint32(heap.HeapAdd(cellTypeKey, []byte(v.Str), true)))
	case TypeList:
		img.LocalStore(returnScalarOffset, uint32(heap.HeapAdd(cellTypeList, heap.encodeListResolved(v.List), true)))
	case TypeVector:
		for i, f := range v.Vec {
			img.LocalStore(int32(returnVectorOffset+i*4), math.Float32bits(f))
		}
	case TypeQuaternion:
		for i, f := range v.Quat {
			img.LocalStore(int32(returnQuaternionOffset+i*4), math.Float32bits(f))
		}
	}
}

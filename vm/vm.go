package vm

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// VM is the embedder-facing handle described in §6: a program image plus
// the heap, scheduler, and library registry wired against it.
type VM struct {
	img    *Image
	heap   *Heap
	queue  *EventQueue
	sched  *Scheduler
	lib    *LibraryRegistry
	interp *Interp
	log    *zap.Logger
}

// Options configures a VM at construction time. A zero Options is valid:
// it uses a no-op logger, a 1MiB heap budget, and no metrics.
type Options struct {
	Logger        *zap.Logger
	MaxHeapBytes  int32
	EnergyPerStep float32
	CallCounter   *prometheus.CounterVec
	EnergyHist    *prometheus.HistogramVec
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxHeapBytes == 0 {
		o.MaxHeapBytes = 1 << 20
	}
	if o.EnergyPerStep == 0 {
		o.EnergyPerStep = energyPerStep
	}
	return o
}

// New constructs a VM over an in-memory program image. The image is used
// directly, not copied.
func New(imageBytes []byte, opts Options) (*VM, error) {
	opts = opts.withDefaults()

	img := NewImage(imageBytes)
	if img.Version() != VersionV1End && img.Version() != VersionV2 {
		return nil, fmt.Errorf("simvm: unrecognized version marker %d", img.Version())
	}

	heap := NewHeap(img, opts.MaxHeapBytes)
	queue := NewEventQueue()
	sched := NewScheduler(img, heap, queue)
	lib := NewLibraryRegistry(opts.CallCounter, opts.EnergyHist)
	interp := NewInterp(img, heap, sched, lib, opts.Logger)
	interp.SetEnergyPerStep(opts.EnergyPerStep)

	return &VM{img: img, heap: heap, queue: queue, sched: sched, lib: lib, interp: interp, log: opts.Logger}, nil
}

// NewFromFile reads path and constructs a VM over its contents.
func NewFromFile(path string, opts Options) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simvm: reading image: %w", err)
	}
	return New(data, opts)
}

// Step advances the VM by exactly one instruction (or one scheduler pass
// if no frame is active). actorID is passed through to library calls.
func (v *VM) Step(traceFlag bool, actorID string) StepStatus {
	return v.interp.Step(traceFlag, actorID)
}

// EnqueueEvent adds an event to the pending queue for the scheduler to
// dispatch on a future Step.
func (v *VM) EnqueueEvent(kind EventKind, args []Value) {
	v.queue.Enqueue(Event{Kind: kind, Args: args})
	v.img.SetCE(v.img.CE() | kind.Bit())
}

// RegisterLibrary installs a host-provided library function at slot,
// ahead of execution (§4.6).
func (v *VM) RegisterLibrary(slot int, fn LibraryFunction) {
	v.lib.Register(slot, fn)
}

// Fault reports the currently latched fault, if any.
func (v *VM) Fault() (FaultKind, bool) {
	f := v.img.Fault()
	return f, f != FaultNone
}

// FaultMessage returns the human-readable text for the current fault, or
// "invalid" if none is set.
func (v *VM) FaultMessage() string {
	return v.img.Fault().String()
}

// ClearFault resets the fault register so Step can resume.
func (v *VM) ClearFault() {
	v.img.ClearFault()
}

// Snapshot returns a copy of the underlying image buffer; the buffer
// itself is the persisted state (§6). A latched fault is not in the buffer,
// so it is not captured here, and Restore starts with no fault.
func (v *VM) Snapshot() []byte {
	out := make([]byte, v.img.Len())
	for i := 0; i < v.img.Len(); i++ {
		out[i] = v.img.ReadU8(i)
	}
	return out
}

// Restore replaces the VM's image with the contents of data, which must
// have been produced by Snapshot (or an equivalent compiled image) against
// a compatible version marker.
func (v *VM) Restore(data []byte) error {
	img := NewImage(append([]byte{}, data...))
	if img.Version() != VersionV1End && img.Version() != VersionV2 {
		return fmt.Errorf("simvm: unrecognized version marker %d in snapshot", img.Version())
	}
	v.img = img
	v.heap = NewHeap(img, v.heap.maxBytes)
	v.queue = NewEventQueue()
	v.sched = NewScheduler(img, v.heap, v.queue)
	v.interp = NewInterp(img, v.heap, v.sched, v.lib, v.log)
	return nil
}

// Registers exposes a read-only snapshot of the named registers, used by
// the CLI's inspect subcommand and by tests asserting scenario-seed
// invariants.
type Registers struct {
	IP, SP, BP, CS, NS int32
	CE, ER, IE         uint64
	HR, HP, GFR, SR    int32
	ESR, SLR           float32
	FR                 FaultKind
	VN                 uint32
}

func (v *VM) Registers() Registers {
	return Registers{
		IP: v.img.IP(), SP: v.img.SP(), BP: v.img.BP(), CS: v.img.CS(), NS: v.img.NS(),
		CE: v.img.CE(), ER: v.img.ER(), IE: v.img.IE(),
		HR: v.img.HR(), HP: v.img.HP(), GFR: v.img.GFR(), SR: v.img.SR(),
		ESR: v.img.ESR(), SLR: v.img.SLR(), FR: v.img.Fault(), VN: v.img.Version(),
	}
}

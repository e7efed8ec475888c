package vm

// stateRecordSize is the per-state record width in the state table: one
// mask-width handled-events field followed by a fixed (entryOffset,
// stackSize) pair per possible event kind, indexable without a nested
// offset table.
func stateRecordSize(maskWidth int) int32 {
	return int32(maskWidth) + int32(eventKindCount)*8
}

// StateTable is a read-only view over the image's state region, starting at
// register SR (§3.1, §4.5).
type StateTable struct {
	img *Image
}

func (st *StateTable) base() int32 { return st.img.SR() }

func (st *StateTable) recordOffset(state int32) int32 {
	return st.base() + 4 + state*stateRecordSize(st.img.maskWidth())
}

// HandledMask returns the event-handled bitmask declared for state.
func (st *StateTable) HandledMask(state int32) uint64 {
	off := st.recordOffset(state)
	if st.img.maskWidth() == 8 {
		return st.img.ReadU64(int(off))
	}
	return uint64(st.img.ReadU32(int(off)))
}

// HandlerEntry returns the code offset and declared stack size for
// (state, event), or (0, 0) if unhandled.
func (st *StateTable) HandlerEntry(state int32, kind EventKind) (entryOffset, stackSize int32) {
	base := st.recordOffset(state) + int32(st.img.maskWidth()) + int32(kind)*8
	return st.img.ReadI32(int(base)), st.img.ReadI32(int(base) + 4)
}

// FunctionTable is a read-only view over the function region, starting at
// register GFR (§3.1, §4.4 CALL protocol).
type FunctionTable struct {
	img *Image
}

func (ft *FunctionTable) count() int32 { return ft.img.ReadI32(int(ft.img.GFR())) }

// Entry returns function index's code entry offset, or faults
// BOUNDS_CHECK if index is out of range.
func (ft *FunctionTable) Entry(index int32) int32 {
	if index < 0 || index >= ft.count() {
		ft.img.SetFault(FaultBoundsCheck)
		return 0
	}
	off := ft.img.GFR() + 4 + index*4
	return ft.img.ReadI32(int(off))
}

// Scheduler drives the state-transition and event-dispatch protocol of
// §4.5. It runs whenever the interpreter observes IP == 0 at the top of
// Step.
type Scheduler struct {
	img   *Image
	heap  *Heap
	state *StateTable
	queue *EventQueue
}

func NewScheduler(img *Image, heap *Heap, queue *EventQueue) *Scheduler {
	return &Scheduler{img: img, heap: heap, state: &StateTable{img: img}, queue: queue}
}

// Run performs one scheduler pass: a pending state transition, or else the
// highest-priority event dispatch. It returns true if a call frame was
// synthesized and the interpreter should proceed to execute it.
func (s *Scheduler) Run() bool {
	if s.img.NS() != s.img.CS() {
		return s.runTransition()
	}
	return s.runDispatch()
}

func (s *Scheduler) runTransition() bool {
	s.queue.Flush()

	ce := s.img.CE()
	er := s.img.ER()
	exitBit := EventStateExit.Bit()

	if ce&exitBit != 0 && er&exitBit != 0 {
		entry, stackSize := s.state.HandlerEntry(s.img.CS(), EventStateExit)
		s.synthesizeFrame(entry, stackSize, nil)
		s.img.SetCE(ce &^ exitBit)
		s.img.SetIE(exitBit)
		return true
	}

	s.img.SetCS(s.img.NS())
	s.img.SetCE(EventStateEntry.Bit())
	s.img.SetER(s.state.HandledMask(s.img.CS()))
	return false
}

func (s *Scheduler) runDispatch() bool {
	ce := s.img.CE()
	er := s.img.ER()

	entryBit := EventStateEntry.Bit()
	if ce&entryBit != 0 && er&entryBit != 0 {
		entry, stackSize := s.state.HandlerEntry(s.img.CS(), EventStateEntry)
		s.synthesizeFrame(entry, stackSize, nil)
		s.img.SetCE(ce &^ entryBit)
		s.img.SetIE(entryBit)
		return true
	}

	rezBit := EventRez.Bit()
	if ce&rezBit != 0 && er&rezBit != 0 {
		if ev, ok := s.queue.RemoveFirstMatching(EventRez); ok {
			entry, stackSize := s.state.HandlerEntry(s.img.CS(), EventRez)
			s.synthesizeFrame(entry, stackSize, ev.Args)
			s.img.SetCE(ce &^ rezBit)
			s.img.SetIE(rezBit)
			return true
		}
	}

	if ev, ok := s.queue.PopFront(); ok {
		bit := ev.Kind.Bit()
		if er&bit != 0 {
			entry, stackSize := s.state.HandlerEntry(s.img.CS(), ev.Kind)
			s.synthesizeFrame(entry, stackSize, ev.Args)
			s.img.SetCE(ce &^ bit)
			s.img.SetIE(bit)
			return true
		}
		// Dropped: its kind isn't handled by the current state. The
		// incoming filter is supposed to prevent this from happening.
		return false
	}

	if fallback := ce & er; fallback != 0 {
		for k := EventKind(0); k < eventKindCount; k++ {
			if fallback&k.Bit() != 0 {
				entry, stackSize := s.state.HandlerEntry(s.img.CS(), k)
				s.synthesizeFrame(entry, stackSize, nil)
				s.img.SetCE(ce &^ k.Bit())
				s.img.SetIE(k.Bit())
				return true
			}
		}
	}

	return false
}

// synthesizeFrame implements the frame-construction steps of §4.5: push a
// zero return-IP placeholder, push the current SP as saved BP, push the
// event's typed arguments, pad to the handler's declared stack size, then
// set BP and IP.
func (s *Scheduler) synthesizeFrame(entryOffset, declaredStackSize int32, args []Value) {
	s.img.PushI32(0)
	s.img.PushI32(s.img.SP())

	pushed := int32(0)
	for _, v := range args {
		pushed += s.pushTypedArg(v)
	}

	pad := (declaredStackSize - pushed) / 4
	for i := int32(0); i < pad; i++ {
		s.img.PushU32(0)
	}

	s.img.SetBP(s.img.SP() + declaredStackSize)
	s.img.SetIP(entryOffset)
}

// pushTypedArg pushes v's stack representation and returns its footprint in
// bytes, so the caller can compute how much local-space padding remains.
// String and key arguments are materialized as new heap cells with
// refcount 1; the pushed word is the cell's heap-relative+1 address.
func (s *Scheduler) pushTypedArg(v Value) int32 {
	switch v.Type {
	case TypeInteger:
		s.img.PushI32(v.Int)
		return 4
	case TypeFloat:
		s.img.PushF32(v.Float)
		return 4
	case TypeString:
		s.img.PushI32(s.heap.HeapAdd(cellTypeString, []byte(v.Str), true))
		return 4
	case TypeKey:
		s.img.PushI32(s.heap.HeapAdd(cellTypeKey, []byte(v.Str), true))
		return 4
	case TypeList:
		s.img.PushI32(s.heap.HeapAdd(cellTypeList, s.heap.encodeListResolved(v.List), true))
		return 4
	case TypeVector:
		s.img.PushVector(v.Vec)
		return 12
	case TypeQuaternion:
		s.img.PushQuaternion(v.Quat)
		return 16
	}
	return 0
}

package vm

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// energyPerStep is the default per-instruction energy debit (§9 design
// notes); overridable through Options.EnergyPerStep, which the CLI fills
// from ResourcePolicy (see config.go).
const energyPerStep = 0.1

// StepStatus is the two-bit return value of Step (§4.4).
type StepStatus byte

const (
	StatusNoDelete    StepStatus = 0
	StatusDelete      StepStatus = 1 << 0
	StatusCreditMoney StepStatus = 1 << 1
)

// Interp ties the image, heap, scheduler, and library registry together to
// execute one instruction at a time.
type Interp struct {
	img      *Image
	heap     *Heap
	sched    *Scheduler
	lib      *LibraryRegistry
	log      *zap.Logger
	energyUse float32
}

func NewInterp(img *Image, heap *Heap, sched *Scheduler, lib *LibraryRegistry, log *zap.Logger) *Interp {
	return &Interp{img: img, heap: heap, sched: sched, lib: lib, log: log, energyUse: energyPerStep}
}

// SetEnergyPerStep overrides the per-instruction energy debit.
func (in *Interp) SetEnergyPerStep(v float32) { in.energyUse = v }

// Step executes a single opcode, per §4.4's single-step contract.
func (in *Interp) Step(traceFlag bool, actorID string) StepStatus {
	if in.img.Fault() != FaultNone {
		return StatusNoDelete
	}

	if in.img.Version() != VersionV1End && in.img.Version() != VersionV2 {
		in.img.SetFault(FaultVersionMismatch)
		return StatusNoDelete
	}

	if in.img.IP() == 0 {
		if in.sched.Run() {
			return StatusNoDelete
		}
		if in.img.IP() == 0 {
			return StatusNoDelete
		}
	}

	pc := in.img.IP()
	op := Opcode(in.img.ReadU8(int(pc)))
	in.img.SetIP(pc + 1)

	if traceFlag && in.log != nil {
		in.log.Debug("step", zap.Int32("pc", pc), zap.String("op", op.String()), zap.Int32("sp", in.img.SP()))
	}

	in.dispatch(op, actorID)

	in.img.SetESR(in.img.ESR() - in.energyUse)

	if in.img.Fault() != FaultNone {
		return StatusNoDelete
	}
	if in.img.IP() == 0 {
		return StatusDelete
	}
	return StatusNoDelete
}

func (in *Interp) readImmediate() int32 {
	v := in.img.ReadI32(int(in.img.IP()))
	in.img.SetIP(in.img.IP() + 4)
	return v
}

func (in *Interp) readByte() byte {
	v := in.img.ReadU8(int(in.img.IP()))
	in.img.SetIP(in.img.IP() + 1)
	return v
}

func (in *Interp) dispatch(op Opcode, actorID string) {
	switch {
	case op.isBinaryArith():
		in.execBinary(op)
		return
	}

	switch op {
	case OpNop:
		// no-op

	case OpPop:
		in.img.PopU32()
	case OpPopS, OpPopL:
		addr := in.img.PopI32()
		in.heap.DecRef(addr)
	case OpPopV:
		in.img.PopVector()
	case OpPopQ:
		in.img.PopQuaternion()
	case OpPopArg:
		_ = in.readImmediate()
		in.img.PopU32()
	case OpPopIP:
		in.img.SetIP(in.img.PopI32())
	case OpPopBP:
		in.img.SetBP(in.img.PopI32())
	case OpPopSP:
		in.img.SetSP(in.img.PopI32())
	case OpPopSLR:
		in.img.SetSLR(clampSleep(in.img.PopF32()))

	case OpDup:
		v := in.img.ReadU32(int(in.img.SP()))
		in.img.PushU32(v)
	case OpDupS, OpDupL:
		addr := in.img.ReadI32(int(in.img.SP()))
		in.heap.IncRef(addr)
		in.img.PushI32(addr)
	case OpDupV:
		v := in.img.PopVector()
		in.img.PushVector(v)
		in.img.PushVector(v)
	case OpDupQ:
		v := in.img.PopQuaternion()
		in.img.PushQuaternion(v)
		in.img.PushQuaternion(v)

	case OpStore:
		off := in.readImmediate()
		in.img.LocalStore(off, in.img.PopU32())
	case OpStoreS, OpStoreL:
		off := in.readImmediate()
		old := in.img.LocalLoad(off)
		in.heap.DecRef(int32(old))
		in.img.LocalStore(off, uint32(in.img.PopI32()))
	case OpStoreV:
		off := in.readImmediate()
		v := in.img.PopVector()
		for i, f := range v {
			in.img.LocalStore(off+int32(i*4), floatBits(f))
		}
	case OpStoreQ:
		off := in.readImmediate()
		v := in.img.PopQuaternion()
		for i, f := range v {
			in.img.LocalStore(off+int32(i*4), floatBits(f))
		}
	case OpStoreG:
		off := in.readImmediate()
		in.img.GlobalStore(off, in.img.PopU32())
	case OpStoreGS, OpStoreGL:
		off := in.readImmediate()
		old := in.img.GlobalLoad(off)
		in.heap.DecRef(int32(old))
		in.img.GlobalStore(off, uint32(in.img.PopI32()))
	case OpStoreGV:
		off := in.readImmediate()
		v := in.img.PopVector()
		for i, f := range v {
			in.img.GlobalStore(off+int32(i*4), floatBits(f))
		}
	case OpStoreGQ:
		off := in.readImmediate()
		v := in.img.PopQuaternion()
		for i, f := range v {
			in.img.GlobalStore(off+int32(i*4), floatBits(f))
		}

	case OpLoadP, OpLoadSP, OpLoadLP, OpLoadVP, OpLoadQP:
		in.execLoadP(op, false)
	case OpLoadGP, OpLoadGSP, OpLoadGLP, OpLoadGVP, OpLoadGQP:
		in.execLoadP(op, true)

	case OpPush:
		off := in.readImmediate()
		in.img.PushU32(in.img.LocalLoad(off))
	case OpPushS, OpPushL:
		off := in.readImmediate()
		addr := int32(in.img.LocalLoad(off))
		in.heap.IncRef(addr)
		in.img.PushI32(addr)
	case OpPushV:
		off := in.readImmediate()
		var v [3]float32
		for i := range v {
			v[i] = floatFrom(in.img.LocalLoad(off + int32(i*4)))
		}
		in.img.PushVector(v)
	case OpPushQ:
		off := in.readImmediate()
		var v [4]float32
		for i := range v {
			v[i] = floatFrom(in.img.LocalLoad(off + int32(i*4)))
		}
		in.img.PushQuaternion(v)
	case OpPushG:
		off := in.readImmediate()
		in.img.PushU32(in.img.GlobalLoad(off))
	case OpPushGS, OpPushGL:
		off := in.readImmediate()
		addr := int32(in.img.GlobalLoad(off))
		in.heap.IncRef(addr)
		in.img.PushI32(addr)
	case OpPushGV:
		off := in.readImmediate()
		var v [3]float32
		for i := range v {
			v[i] = floatFrom(in.img.GlobalLoad(off + int32(i*4)))
		}
		in.img.PushVector(v)
	case OpPushGQ:
		off := in.readImmediate()
		var v [4]float32
		for i := range v {
			v[i] = floatFrom(in.img.GlobalLoad(off + int32(i*4)))
		}
		in.img.PushQuaternion(v)
	case OpPushIP:
		in.img.PushI32(in.img.IP())
	case OpPushBP:
		in.img.PushI32(in.img.BP())
	case OpPushSP:
		in.img.PushI32(in.img.SP())

	case OpPushArgB:
		in.img.PushI32(int32(in.readByte()))
	case OpPushArgI:
		in.img.PushI32(in.readImmediate())
	case OpPushArgF:
		in.img.PushF32(floatFrom(uint32(in.readImmediate())))
	case OpPushArgS:
		str := in.readNulTerminated()
		in.img.PushI32(in.heap.HeapAdd(cellTypeString, []byte(str), true))
	case OpPushArgV:
		var v [3]float32
		for i := range v {
			v[i] = floatFrom(uint32(in.readImmediate()))
		}
		in.img.PushVector(v)
	case OpPushArgQ:
		var v [4]float32
		for i := range v {
			v[i] = floatFrom(uint32(in.readImmediate()))
		}
		in.img.PushQuaternion(v)
	case OpPushE:
		in.img.PushU32(0)
	case OpPushEV:
		in.img.PushVector([3]float32{})
	case OpPushEQ:
		in.img.PushQuaternion([4]float32{})
	case OpPushArgE:
		n := in.readImmediate()
		for i := int32(0); i < n; i++ {
			in.img.PushU32(0)
		}

	case OpNeg, OpBitNot, OpBoolNot:
		in.execUnary(op)

	case OpJump:
		rel := in.readImmediate()
		in.img.SetIP(in.img.IP() + rel - 4)
	case OpJumpIf, OpJumpNif:
		in.execJump(op)

	case OpCall:
		in.execCall()
	case OpReturn:
		in.execReturn()
	case OpState:
		in.execState()

	case OpCast:
		in.execCast()

	case OpStackToS:
		in.execStackToS()
	case OpStackToL:
		in.execStackToL()

	case OpPrint:
		in.execPrint()

	case OpCallLib:
		slot := int(in.readByte())
		in.lib.Call(in.img, in.heap, slot, actorID)
	case OpCallLibTwoByte:
		slot := int(in.img.ReadU16(int(in.img.IP())))
		in.img.SetIP(in.img.IP() + 2)
		in.lib.Call(in.img, in.heap, slot, actorID)

	default:
		// Unmapped opcode: no-op, matching the original's sparse
		// dispatch.
	}
}

func floatBits(f float32) uint32 { return math.Float32bits(f) }
func floatFrom(u uint32) float32 { return math.Float32frombits(u) }

func (in *Interp) readNulTerminated() string {
	start := int(in.img.IP())
	end := start
	for in.img.ReadU8(end) != 0 {
		end++
	}
	s := make([]byte, end-start)
	for i := range s {
		s[i] = in.img.ReadU8(start + i)
	}
	in.img.SetIP(int32(end + 1))
	return string(s)
}

func (in *Interp) execLoadP(op Opcode, global bool) {
	addr := in.img.PopI32()
	switch op {
	case OpLoadP, OpLoadGP:
		v := in.img.PopU32()
		in.storeThroughPointer(addr, global, v)
	case OpLoadSP, OpLoadLP, OpLoadGSP, OpLoadGLP:
		newRef := in.img.PopI32()
		old := in.loadPointer(addr, global)
		in.heap.DecRef(int32(old))
		in.heap.IncRef(newRef)
		in.storeThroughPointer(addr, global, uint32(newRef))
	case OpLoadVP, OpLoadGVP:
		v := in.img.PopVector()
		for i, f := range v {
			in.storeThroughPointer(addr+int32(i*4), global, floatBits(f))
		}
	case OpLoadQP, OpLoadGQP:
		v := in.img.PopQuaternion()
		for i, f := range v {
			in.storeThroughPointer(addr+int32(i*4), global, floatBits(f))
		}
	}
}

func (in *Interp) loadPointer(addr int32, global bool) uint32 {
	if global {
		return in.img.GlobalLoad(addr)
	}
	return in.img.LocalLoad(addr)
}

func (in *Interp) storeThroughPointer(addr int32, global bool, v uint32) {
	if global {
		in.img.GlobalStore(addr, v)
		return
	}
	in.img.LocalStore(addr, v)
}

// execBinary implements the typed binary-op family (§4.3): the operand
// stack carries no runtime type tags, only raw bytes, so the type-pair
// byte (L<<4)|R emitted after the opcode is the sole source of each
// operand's type and width. It must be decoded and used to pop both
// operands, not discarded.
func (in *Interp) execBinary(op Opcode) {
	typePair := in.readByte()
	leftType := ValueType(typePair >> 4)
	rightType := ValueType(typePair & 0x0f)
	sp := in.img.SP()
	right := in.popTypedAs(rightType)
	left := in.popTypedAs(leftType)
	fault := in.img.Fault()
	result, ok := binaryOp(&fault, op, left, right)
	in.img.SetFault(fault)
	if !ok {
		in.img.SetSP(sp)
		return
	}
	in.pushTyped(result)
}

func (in *Interp) execUnary(op Opcode) {
	if op == OpBitNot || op == OpBoolNot {
		v := Value{Type: TypeInteger, Int: in.img.PopI32()}
		result, _ := unaryOp(op, v)
		in.img.PushI32(result.Int)
		return
	}
	typeByte := in.readByte()
	v := in.popTypedAs(ValueType(typeByte))
	result, ok := unaryOp(op, v)
	if ok {
		in.pushTyped(result)
	}
}

// popTypedAs and pushTyped handle the common scalar/vector/quaternion
// shapes; reference types (string/key/list) are resolved through the
// heap. popTyped is the plain-integer case used where no type byte
// precedes the operand (e.g. STACKTOL).
func (in *Interp) popTyped() Value {
	return in.popTypedAs(TypeInteger)
}

func (in *Interp) popTypedAs(t ValueType) Value {
	switch t {
	case TypeFloat:
		return Value{Type: TypeFloat, Float: in.img.PopF32()}
	case TypeVector:
		return Value{Type: TypeVector, Vec: in.img.PopVector()}
	case TypeQuaternion:
		return Value{Type: TypeQuaternion, Quat: in.img.PopQuaternion()}
	case TypeString, TypeKey, TypeList:
		addr := in.img.PopI32()
		if t == TypeList {
			return Value{Type: TypeList, List: in.heap.decodeListValues(addr)}
		}
		return Value{Type: t, Str: string(in.heap.HeapGet(addr))}
	default:
		return Value{Type: TypeInteger, Int: in.img.PopI32()}
	}
}

func (in *Interp) pushTyped(v Value) {
	switch v.Type {
	case TypeInteger:
		in.img.PushI32(v.Int)
	case TypeFloat:
		in.img.PushF32(v.Float)
	case TypeVector:
		in.img.PushVector(v.Vec)
	case TypeQuaternion:
		in.img.PushQuaternion(v.Quat)
	case TypeString:
		in.img.PushI32(in.heap.HeapAdd(cellTypeString, []byte(v.Str), true))
	case TypeKey:
		in.img.PushI32(in.heap.HeapAdd(cellTypeKey, []byte(v.Str), true))
	case TypeList:
		if len(v.List) > 0 {
			for _, e := range v.List {
				if e.Type == TypeList {
					in.img.SetFault(FaultNestingLists)
					return
				}
			}
		}
		in.img.PushI32(in.heap.HeapAdd(cellTypeList, in.heap.encodeListResolved(v.List), true))
	}
}

// execJump implements JUMPIF/JUMPNIF: pop a typed value, test truthiness,
// jump by the relative offset if the condition matches.
func (in *Interp) execJump(op Opcode) {
	typeByte := in.readByte()
	v := in.popTypedAs(ValueType(typeByte))
	rel := in.readImmediate()
	jump := v.Truthy()
	if op == OpJumpNif {
		jump = !jump
	}
	if jump {
		in.img.SetIP(in.img.IP() + rel - 4)
	}
}

// execCall implements the CALL protocol of §4.4: push the return IP onto
// the stack, look up the function's entry offset, and transfer control.
// The callee's own preamble (compiler-emitted, e.g. PUSHBP/PUSHSP+POPBP)
// is responsible for saving the caller's BP and establishing its own, so
// that RETURN's plain pop-BP/pop-IP sequence is symmetric with what CALL
// pushed here and with the scheduler's frame synthesis (§4.5), which
// pushes the same return-IP/saved-BP pair for event handlers.
func (in *Interp) execCall() {
	index := in.readImmediate()
	returnIP := in.img.IP()
	ft := &FunctionTable{img: in.img}
	entry := ft.Entry(index)
	if in.img.Fault() != FaultNone {
		return
	}
	in.img.PushI32(returnIP)
	in.img.SetIP(entry)
}

// execReturn implements RETURN: pop BP, pop IP.
func (in *Interp) execReturn() {
	in.img.SetBP(in.img.PopI32())
	in.img.SetIP(in.img.PopI32())
}

// execState implements STATE: pop the compiler-inserted unwind values,
// then request a transition if the target differs from CS.
func (in *Interp) execState() {
	target := in.readImmediate()
	in.img.SetBP(in.img.PopI32())
	in.img.SetIP(in.img.PopI32())
	if target != in.img.CS() {
		in.img.SetCE(in.img.CE() | EventStateExit.Bit())
		in.img.SetNS(target)
	}
}

// execCast implements CAST <src<<4|dst>, covering the conversions named in
// §4.4: string->integer accepts "0x..." hex, string<->vector/quaternion use
// the "<f,f,f[,f]>" textual form, and list->string concatenates element
// text with no separator (confirmed against the original interpreter;
// see DESIGN.md).
func (in *Interp) execCast() {
	packed := in.readByte()
	src := ValueType(packed >> 4)
	dst := ValueType(packed & 0x0f)
	v := in.popTypedAs(src)
	result := castValue(in.heap, v, dst)
	in.pushTyped(result)
}

func (in *Interp) execStackToS() {
	n := in.readImmediate()
	buf := make([]byte, n)
	for i := int32(0); i < n; i++ {
		buf[n-1-i] = byte(in.img.PopU32())
	}
	in.img.PushI32(in.heap.HeapAdd(cellTypeString, buf, true))
}

func (in *Interp) execStackToL() {
	n := in.readImmediate()
	items := make([]Value, n)
	for i := int32(0); i < n; i++ {
		items[i] = in.popTyped()
	}
	in.pushTyped(Value{Type: TypeList, List: items})
}

func (in *Interp) execPrint() {
	typeByte := in.readByte()
	v := in.popTypedAs(ValueType(typeByte))
	fmt.Println(formatElement(v))
}

package guestmod

// Core wasm opcodes used by the guest. i32-only, plus bulk memory for fill.
const (
	opBlock     = 0x02
	opLoop      = 0x03
	opIf        = 0x04
	opEnd       = 0x0B
	opBr        = 0x0C
	opBrIf      = 0x0D
	opReturn    = 0x0F
	opCall      = 0x10
	opLocalGet  = 0x20
	opLocalSet  = 0x21
	opLocalTee  = 0x22
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Load   = 0x28
	opI32Load8U = 0x2D
	opI32Store  = 0x36
	opI32Store8 = 0x3A
	opMemSize   = 0x3F
	opMemGrow   = 0x40
	opI32Const  = 0x41
	opI32Eqz    = 0x45
	opI32Eq     = 0x46
	opI32Ne     = 0x47
	opI32GtU    = 0x4B
	opI32GeU    = 0x4F
	opI32Add    = 0x6A
	opI32Sub    = 0x6B
	opI32Mul    = 0x6C
	opI32And    = 0x71
	opI32Or     = 0x72
	opI32Shl    = 0x74
	opI32ShrU   = 0x76
	opPrefixFC  = 0xFC

	fcMemoryFill = 11

	blockVoid = 0x40
)

// asm emits one function body's instruction sequence. Methods chain so
// bodies read roughly like the flat WAT they encode.
type asm struct {
	w writer
}

func newAsm() *asm { return &asm{} }

func (a *asm) op(b byte) *asm {
	a.w.byte(b)
	return a
}

func (a *asm) i32Const(v int32) *asm {
	a.w.byte(opI32Const)
	a.w.s32(v)
	return a
}

func (a *asm) localGet(i uint32) *asm {
	a.w.byte(opLocalGet)
	a.w.u32(i)
	return a
}

func (a *asm) localSet(i uint32) *asm {
	a.w.byte(opLocalSet)
	a.w.u32(i)
	return a
}

func (a *asm) localTee(i uint32) *asm {
	a.w.byte(opLocalTee)
	a.w.u32(i)
	return a
}

func (a *asm) globalGet(i uint32) *asm {
	a.w.byte(opGlobalGet)
	a.w.u32(i)
	return a
}

func (a *asm) globalSet(i uint32) *asm {
	a.w.byte(opGlobalSet)
	a.w.u32(i)
	return a
}

// load8u emits i32.load8_u with a static offset (align 1)
func (a *asm) load8u(offset uint32) *asm {
	a.w.byte(opI32Load8U)
	a.w.u32(0) // align = 1 byte
	a.w.u32(offset)
	return a
}

func (a *asm) store8(offset uint32) *asm {
	a.w.byte(opI32Store8)
	a.w.u32(0)
	a.w.u32(offset)
	return a
}

func (a *asm) load(offset uint32) *asm {
	a.w.byte(opI32Load)
	a.w.u32(2) // align = 4 bytes
	a.w.u32(offset)
	return a
}

func (a *asm) store(offset uint32) *asm {
	a.w.byte(opI32Store)
	a.w.u32(2)
	a.w.u32(offset)
	return a
}

func (a *asm) memorySize() *asm {
	a.w.byte(opMemSize)
	a.w.byte(0)
	return a
}

func (a *asm) memoryGrow() *asm {
	a.w.byte(opMemGrow)
	a.w.byte(0)
	return a
}

func (a *asm) memoryFill() *asm {
	a.w.byte(opPrefixFC)
	a.w.u32(fcMemoryFill)
	a.w.byte(0)
	return a
}

func (a *asm) block() *asm {
	a.w.byte(opBlock)
	a.w.byte(blockVoid)
	return a
}

func (a *asm) loop() *asm {
	a.w.byte(opLoop)
	a.w.byte(blockVoid)
	return a
}

func (a *asm) ifVoid() *asm {
	a.w.byte(opIf)
	a.w.byte(blockVoid)
	return a
}

func (a *asm) end() *asm     { return a.op(opEnd) }
func (a *asm) ret() *asm     { return a.op(opReturn) }
func (a *asm) eqz() *asm     { return a.op(opI32Eqz) }
func (a *asm) eq() *asm      { return a.op(opI32Eq) }
func (a *asm) ne() *asm      { return a.op(opI32Ne) }
func (a *asm) gtU() *asm     { return a.op(opI32GtU) }
func (a *asm) geU() *asm     { return a.op(opI32GeU) }
func (a *asm) add() *asm     { return a.op(opI32Add) }
func (a *asm) sub() *asm     { return a.op(opI32Sub) }
func (a *asm) mul() *asm     { return a.op(opI32Mul) }
func (a *asm) and() *asm     { return a.op(opI32And) }
func (a *asm) or() *asm      { return a.op(opI32Or) }
func (a *asm) shl() *asm     { return a.op(opI32Shl) }
func (a *asm) shrU() *asm    { return a.op(opI32ShrU) }

func (a *asm) br(depth uint32) *asm {
	a.w.byte(opBr)
	a.w.u32(depth)
	return a
}

func (a *asm) brIf(depth uint32) *asm {
	a.w.byte(opBrIf)
	a.w.u32(depth)
	return a
}

func (a *asm) call(fn uint32) *asm {
	a.w.byte(opCall)
	a.w.u32(fn)
	return a
}

// bytes terminates the body and returns the encoded instructions
func (a *asm) bytes() []byte {
	a.end()
	return a.w.buf
}

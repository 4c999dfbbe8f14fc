package guestmod

import (
	"os"
)

// Export names of the guest contract. Containers validate these against the
// instantiated module before any call.
const (
	ExportMemory      = "memory"
	ExportAllocate    = "allocate"
	ExportSetRegions  = "set-shared-regions"
	ExportVerify      = "verify-contents"
	ExportStressAlloc = "stress-alloc"
	ExportClearAlloc  = "clear-alloc"
	ExportWrite       = "write-pattern"
	ExportRead        = "read-pattern"
	ExportWriteRO     = "write-to-readonly"
	ExportForceFault  = "force-fault"
)

// Verification results of verify-contents mirror region.Verify: 0 ok,
// 1 prefix mismatch, 2 suffix mismatch, otherwise the first bad offset.

const (
	wasmPageSize = 65536
	heapBase     = 1024 // bottom of the bump allocator

	stressIterations = 100  // stress-alloc bound, exclusive
	stressBlockSize  = 16   // per-iteration block header
	stressChunkSize  = 1000 // per-iteration payload, filled with StressFillByte
)

// StressFillByte is the value stress-alloc writes into every payload chunk,
// chosen to collide with nothing else the guest or the fill pattern stores.
// Hosts scan for it to report heap occupancy.
const StressFillByte = 181

// Config sizes the guest's memory around the shared regions it will host.
type Config struct {
	ROSize   int
	RWSize   int
	PageSize int // host page size; 0 means os.Getpagesize()
}

// Build emits the guest module binary for cfg.
//
// Globals: 0 heap pointer, 1-4 shared region placement (ro offset/size,
// rw offset/size), 5 stress-alloc low water mark, 6 stress-alloc list head.
func Build(cfg Config) []byte {
	page := cfg.PageSize
	if page <= 0 {
		page = os.Getpagesize()
	}

	// Initial pages must hold the heap base plus the full shared-region
	// reservation; the max leaves the stress allocator room to grow
	// without ever relocating.
	reservation := cfg.ROSize + cfg.RWSize + 3*page
	minPages := uint32((heapBase + reservation + wasmPageSize - 1) / wasmPageSize)
	if minPages == 0 {
		minPages = 1
	}
	stressBytes := stressIterations * (stressBlockSize + stressChunkSize)
	maxPages := minPages + uint32((stressBytes+wasmPageSize-1)/wasmPageSize) + 2

	b := &moduleBuilder{memMin: minPages, memMax: maxPages}

	gHeap := b.addGlobal(heapBase)
	gROOff := b.addGlobal(0)
	gROSize := b.addGlobal(0)
	gRWOff := b.addGlobal(0)
	gRWSize := b.addGlobal(0)
	gFillStart := b.addGlobal(0)
	gFillHead := b.addGlobal(0)

	// Function indices are fixed by insertion order; allocate goes first so
	// the other bodies can call it, the internal scanner goes last.
	const (
		fnAllocate = 0
		fnScan     = 9
	)

	idx := b.addFunc(ExportAllocate, sig{1, 1}, 2, allocateBody(gHeap))
	if idx != fnAllocate {
		panic("guestmod: allocate must be function 0")
	}
	b.addFunc(ExportSetRegions, sig{4, 0}, 0, setRegionsBody(gROOff, gROSize, gRWOff, gRWSize))
	b.addFunc(ExportVerify, sig{0, 1}, 1, verifyBody(fnScan, gROOff, gROSize, gRWOff, gRWSize))
	b.addFunc(ExportStressAlloc, sig{0, 1}, 3, stressAllocBody(fnAllocate, gHeap, gFillStart, gFillHead))
	b.addFunc(ExportClearAlloc, sig{0, 0}, 0, clearAllocBody(gHeap, gFillStart, gFillHead))
	b.addFunc(ExportWrite, sig{3, 0}, 1, writePatternBody(gRWOff))
	b.addFunc(ExportRead, sig{3, 1}, 1, readPatternBody(gRWOff))
	b.addFunc(ExportWriteRO, sig{0, 0}, 0, writeReadonlyBody(gROOff))
	b.addFunc(ExportForceFault, sig{0, 1}, 0, forceFaultBody())
	idx = b.addFunc("", sig{5, 1}, 2, scanBody())
	if idx != fnScan {
		panic("guestmod: scanner must be function 9")
	}

	return b.encode()
}

// allocateBody: bump allocator with grow-on-demand. Returns 0 when the
// memory cannot grow far enough (the exhaustion stress-alloc probes for).
//
//	l0 = size (param), l1 = aligned pointer, l2 = new heap end
func allocateBody(gHeap uint32) []byte {
	a := newAsm()
	// l1 = (heap + 7) &^ 7
	a.globalGet(gHeap).i32Const(7).add().i32Const(-8).and().localSet(1)
	// l2 = l1 + size
	a.localGet(1).localGet(0).add().localSet(2)
	// grow if l2 > memory.size bytes
	a.localGet(2).memorySize().i32Const(16).shl().gtU()
	a.ifVoid()
	a.localGet(2).memorySize().i32Const(16).shl().sub()
	a.i32Const(wasmPageSize - 1).add().i32Const(16).shrU()
	a.memoryGrow().i32Const(-1).eq()
	a.ifVoid().i32Const(0).ret().end()
	a.end()
	// heap = l2; return l1
	a.localGet(2).globalSet(gHeap)
	a.localGet(1)
	return a.bytes()
}

func setRegionsBody(gROOff, gROSize, gRWOff, gRWSize uint32) []byte {
	a := newAsm()
	a.localGet(0).globalSet(gROOff)
	a.localGet(1).globalSet(gROSize)
	a.localGet(2).globalSet(gRWOff)
	a.localGet(3).globalSet(gRWSize)
	return a.bytes()
}

// verifyBody scans the read-only region, then the read-write region if the
// first came back clean.
//
//	l0 = scan result
func verifyBody(fnScan, gROOff, gROSize, gRWOff, gRWSize uint32) []byte {
	a := newAsm()
	a.globalGet(gROOff).globalGet(gROSize)
	a.i32Const('r').i32Const('o').i32Const(':')
	a.call(fnScan).localTee(0)
	a.eqz()
	a.ifVoid()
	a.globalGet(gRWOff).globalGet(gRWSize)
	a.i32Const('r').i32Const('w').i32Const(':')
	a.call(fnScan).localSet(0)
	a.end()
	a.localGet(0)
	return a.bytes()
}

// scanBody checks one region against the fill pattern: 3-byte prefix,
// "buf" suffix, alternating 131/173 interior indexed by offset parity.
// Returns 0 ok, 1 prefix mismatch, 2 suffix mismatch, or the offset of the
// first interior mismatch.
//
//	l0 = offset, l1 = size, l2-l4 = prefix bytes (params)
//	l5 = suffix base, l6 = loop index
func scanBody() []byte {
	a := newAsm()
	// prefix
	a.localGet(0).load8u(0).localGet(2).ne()
	a.localGet(0).load8u(1).localGet(3).ne().or()
	a.localGet(0).load8u(2).localGet(4).ne().or()
	a.ifVoid().i32Const(1).ret().end()
	// suffix "buf" at offset+size-3
	a.localGet(0).localGet(1).add().i32Const(3).sub().localSet(5)
	a.localGet(5).load8u(0).i32Const('b').ne()
	a.localGet(5).load8u(1).i32Const('u').ne().or()
	a.localGet(5).load8u(2).i32Const('f').ne().or()
	a.ifVoid().i32Const(2).ret().end()
	// interior: expected byte = 131 + (i&1)*42
	a.i32Const(3).localSet(6)
	a.block().loop()
	a.localGet(6).localGet(1).i32Const(3).sub().geU().brIf(1)
	a.localGet(0).localGet(6).add().load8u(0)
	a.localGet(6).i32Const(1).and().i32Const(42).mul().i32Const(131).add()
	a.ne()
	a.ifVoid().localGet(6).ret().end()
	a.localGet(6).i32Const(1).add().localSet(6)
	a.br(0)
	a.end().end()
	a.i32Const(0)
	return a.bytes()
}

// stressAllocBody allocates block+chunk pairs until the allocator fails or
// the bound is reached, filling each chunk so exhaustion is visible in a
// memory scan. Returns the failing iteration, 0 if none failed.
//
//	l0 = iteration, l1 = block, l2 = chunk
func stressAllocBody(fnAllocate, gHeap, gFillStart, gFillHead uint32) []byte {
	a := newAsm()
	// remember where the stress run started, once
	a.globalGet(gFillStart).eqz()
	a.ifVoid().globalGet(gHeap).globalSet(gFillStart).end()
	a.i32Const(1).localSet(0)
	a.block().loop()
	a.localGet(0).i32Const(stressIterations).geU().brIf(1)
	// block header, linked to the previous one
	a.i32Const(stressBlockSize).call(fnAllocate).localTee(1).eqz()
	a.ifVoid().localGet(0).ret().end()
	a.localGet(1).globalGet(gFillHead).store(0)
	a.localGet(1).globalSet(gFillHead)
	// payload chunk
	a.i32Const(stressChunkSize).call(fnAllocate).localTee(2).eqz()
	a.ifVoid().localGet(0).ret().end()
	a.localGet(2).i32Const(StressFillByte).i32Const(stressChunkSize).memoryFill()
	a.localGet(0).i32Const(1).add().localSet(0)
	a.br(0)
	a.end().end()
	a.i32Const(0)
	return a.bytes()
}

// clearAllocBody zeroes everything stress-alloc obtained and resets the
// bump pointer to the recorded low water mark.
func clearAllocBody(gHeap, gFillStart, gFillHead uint32) []byte {
	a := newAsm()
	a.globalGet(gFillStart).eqz()
	a.ifVoid().ret().end()
	a.globalGet(gFillStart).i32Const(0)
	a.globalGet(gHeap).globalGet(gFillStart).sub()
	a.memoryFill()
	a.globalGet(gFillStart).globalSet(gHeap)
	a.i32Const(0).globalSet(gFillStart)
	a.i32Const(0).globalSet(gFillHead)
	return a.bytes()
}

// writePatternBody stores len ascending bytes starting at value into the
// read-write region at pos.
//
//	l0 = pos, l1 = value, l2 = len (params), l3 = cursor
func writePatternBody(gRWOff uint32) []byte {
	a := newAsm()
	a.globalGet(gRWOff).localGet(0).add().localSet(3)
	a.block().loop()
	a.localGet(2).eqz().brIf(1)
	a.localGet(3).localGet(1).store8(0)
	a.localGet(3).i32Const(1).add().localSet(3)
	a.localGet(1).i32Const(1).add().localSet(1)
	a.localGet(2).i32Const(1).sub().localSet(2)
	a.br(0)
	a.end().end()
	return a.bytes()
}

// readPatternBody compares the same ascending run; returns 0 on match,
// 1 on the first mismatch.
func readPatternBody(gRWOff uint32) []byte {
	a := newAsm()
	a.globalGet(gRWOff).localGet(0).add().localSet(3)
	a.block().loop()
	a.localGet(2).eqz().brIf(1)
	a.localGet(3).load8u(0)
	a.localGet(1).i32Const(0xFF).and()
	a.ne()
	a.ifVoid().i32Const(1).ret().end()
	a.localGet(3).i32Const(1).add().localSet(3)
	a.localGet(1).i32Const(1).add().localSet(1)
	a.localGet(2).i32Const(1).sub().localSet(2)
	a.br(0)
	a.end().end()
	a.i32Const(0)
	return a.bytes()
}

// writeReadonlyBody stores one byte through the read-only mapping. In-bounds
// for the sandbox, so the engine lets it through to the protected page and
// the OS kills the process. That is the point.
func writeReadonlyBody(gROOff uint32) []byte {
	a := newAsm()
	a.globalGet(gROOff).i32Const('X').store8(0)
	return a.bytes()
}

// forceFaultBody dereferences the top of the 32-bit address space, far
// outside any memory this guest can have. The engine must trap.
func forceFaultBody() []byte {
	a := newAsm()
	a.i32Const(-1).load(0)
	return a.bytes()
}

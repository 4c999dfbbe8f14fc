package guestmod

// Binary format constants
const (
	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10

	valI32     = 0x7F
	funcType   = 0x60
	mutVar     = 0x01
	kindFunc   = 0x00
	kindMemory = 0x02
)

// sig is a function signature; the guest contract is i32-only, so counts
// suffice.
type sig struct {
	params  int
	results int
}

type function struct {
	export string // empty for module-internal helpers
	sig    sig
	locals int // extra i32 locals beyond the params
	body   []byte
}

type global struct {
	init int32
}

// moduleBuilder assembles a single-memory core module. Function indices are
// assigned in the order functions are added (the module has no imports).
type moduleBuilder struct {
	funcs   []function
	globals []global
	memMin  uint32 // pages
	memMax  uint32 // pages
}

func (b *moduleBuilder) addGlobal(init int32) uint32 {
	b.globals = append(b.globals, global{init: init})
	return uint32(len(b.globals) - 1)
}

func (b *moduleBuilder) addFunc(export string, s sig, locals int, body []byte) uint32 {
	b.funcs = append(b.funcs, function{export: export, sig: s, locals: locals, body: body})
	return uint32(len(b.funcs) - 1)
}

// typeIndex deduplicates signatures into the type section
func typeIndex(types *[]sig, s sig) uint32 {
	for i, t := range *types {
		if t == s {
			return uint32(i)
		}
	}
	*types = append(*types, s)
	return uint32(len(*types) - 1)
}

// encode produces the module binary
func (b *moduleBuilder) encode() []byte {
	var types []sig
	typeIdx := make([]uint32, len(b.funcs))
	for i, f := range b.funcs {
		typeIdx[i] = typeIndex(&types, f.sig)
	}

	w := &writer{}
	w.raw([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	// Type section
	sec := &writer{}
	sec.u32(uint32(len(types)))
	for _, t := range types {
		sec.byte(funcType)
		sec.u32(uint32(t.params))
		for i := 0; i < t.params; i++ {
			sec.byte(valI32)
		}
		sec.u32(uint32(t.results))
		for i := 0; i < t.results; i++ {
			sec.byte(valI32)
		}
	}
	w.section(secType, sec.buf)

	// Function section
	sec = &writer{}
	sec.u32(uint32(len(b.funcs)))
	for _, ti := range typeIdx {
		sec.u32(ti)
	}
	w.section(secFunction, sec.buf)

	// Memory section: one memory with explicit max so the container can
	// reserve the full range up front
	sec = &writer{}
	sec.u32(1)
	sec.byte(0x01) // limits flag: max present
	sec.u32(b.memMin)
	sec.u32(b.memMax)
	w.section(secMemory, sec.buf)

	// Global section
	sec = &writer{}
	sec.u32(uint32(len(b.globals)))
	for _, g := range b.globals {
		sec.byte(valI32)
		sec.byte(mutVar)
		sec.byte(opI32Const)
		sec.s32(g.init)
		sec.byte(opEnd)
	}
	w.section(secGlobal, sec.buf)

	// Export section: memory plus every named function
	exports := 1
	for _, f := range b.funcs {
		if f.export != "" {
			exports++
		}
	}
	sec = &writer{}
	sec.u32(uint32(exports))
	sec.name("memory")
	sec.byte(kindMemory)
	sec.u32(0)
	for i, f := range b.funcs {
		if f.export == "" {
			continue
		}
		sec.name(f.export)
		sec.byte(kindFunc)
		sec.u32(uint32(i))
	}
	w.section(secExport, sec.buf)

	// Code section
	sec = &writer{}
	sec.u32(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := &writer{}
		if f.locals == 0 {
			body.u32(0)
		} else {
			body.u32(1)
			body.u32(uint32(f.locals))
			body.byte(valI32)
		}
		body.raw(f.body)
		sec.u32(uint32(len(body.buf)))
		sec.raw(body.buf)
	}
	w.section(secCode, sec.buf)

	return w.buf
}

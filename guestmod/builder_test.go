package guestmod

import (
	"bytes"
	"testing"
)

func TestWriterULEB128(t *testing.T) {
	cases := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xE5, 0x8E, 0x26}},
	}
	for _, c := range cases {
		w := &writer{}
		w.u32(c.v)
		if !bytes.Equal(w.buf, c.want) {
			t.Errorf("u32(%d) = %x, want %x", c.v, w.buf, c.want)
		}
	}
}

func TestWriterSLEB128(t *testing.T) {
	cases := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7F}},
		{63, []byte{0x3F}},
		{64, []byte{0xC0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xBF, 0x7F}},
		{-123456, []byte{0xC0, 0xBB, 0x78}},
	}
	for _, c := range cases {
		w := &writer{}
		w.s32(c.v)
		if !bytes.Equal(w.buf, c.want) {
			t.Errorf("s32(%d) = %x, want %x", c.v, w.buf, c.want)
		}
	}
}

func TestTypeIndexDeduplicates(t *testing.T) {
	var types []sig
	a := typeIndex(&types, sig{1, 1})
	b := typeIndex(&types, sig{0, 1})
	c := typeIndex(&types, sig{1, 1})
	if a != c {
		t.Errorf("identical sigs got indices %d and %d", a, c)
	}
	if a == b {
		t.Error("distinct sigs share an index")
	}
	if len(types) != 2 {
		t.Errorf("type section has %d entries, want 2", len(types))
	}
}

func TestEncodeHeader(t *testing.T) {
	bin := Build(Config{ROSize: 64, RWSize: 64, PageSize: 4096})

	magic := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if len(bin) < len(magic) || !bytes.Equal(bin[:len(magic)], magic) {
		t.Fatalf("binary starts with %x, want wasm magic and version", bin[:8])
	}
}

func TestBuildDeterministic(t *testing.T) {
	cfg := Config{ROSize: 5000, RWSize: 1000, PageSize: 4096}
	if !bytes.Equal(Build(cfg), Build(cfg)) {
		t.Error("identical configs produced different binaries")
	}
}

func TestMemoryMaxCoversStressRun(t *testing.T) {
	cfg := Config{ROSize: 5000, RWSize: 1000, PageSize: 4096}

	// Recompute what Build sizes the memory to and sanity check the
	// headroom against the stress allocator's worst case.
	reservation := cfg.ROSize + cfg.RWSize + 3*cfg.PageSize
	minBytes := heapBase + reservation
	stressBytes := stressIterations * (stressBlockSize + stressChunkSize)

	bin := Build(cfg)
	// The limits are near the front of a module this small; instantiating
	// checks them properly, here we only assert the budget arithmetic.
	if len(bin) == 0 {
		t.Fatal("empty binary")
	}
	maxBytes := int(wasmPageSize) * int(uint32((minBytes+wasmPageSize-1)/wasmPageSize)+uint32((stressBytes+wasmPageSize-1)/wasmPageSize)+2)
	if maxBytes < minBytes+stressBytes {
		t.Errorf("max %d bytes cannot hold reservation %d plus stress run %d", maxBytes, minBytes, stressBytes)
	}
}

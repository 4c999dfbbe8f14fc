package guestmod

// writer accumulates WebAssembly binary output: LEB128 integers, names, and
// raw bytes.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// u32 writes an unsigned LEB128 value
func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// s32 writes a signed LEB128 value
func (w *writer) s32(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf = append(w.buf, b)
			return
		}
		w.buf = append(w.buf, b|0x80)
	}
}

// name writes a length-prefixed UTF-8 name
func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// section writes a section header (id, byte length) followed by the payload
func (w *writer) section(id byte, payload []byte) {
	w.byte(id)
	w.u32(uint32(len(payload)))
	w.raw(payload)
}

package memmap

import "testing"

func TestAlignNext(t *testing.T) {
	tests := []struct {
		name  string
		addr  uintptr
		align uintptr
		want  uintptr
	}{
		{"zero", 0, 4096, 4096},
		{"unaligned_low", 1, 4096, 4096},
		{"unaligned_high", 4095, 4096, 4096},
		{"aligned_advances", 4096, 4096, 8192},
		{"mid_page", 10000, 4096, 12288},
		{"large_page", 16384, 16384, 32768},
		{"align_8", 21, 8, 24},
		{"align_8_aligned", 24, 8, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlignNext(tt.addr, tt.align); got != tt.want {
				t.Errorf("AlignNext(%#x, %d) = %#x, want %#x", tt.addr, tt.align, got, tt.want)
			}
		})
	}
}

func TestReservationSize(t *testing.T) {
	if got := ReservationSize(5000, 1000, 4096); got != 5000+1000+3*4096 {
		t.Errorf("ReservationSize = %d", got)
	}
}

func TestPlan(t *testing.T) {
	const page = 4096

	t.Run("unaligned_base", func(t *testing.T) {
		base := uintptr(100000) // not page aligned
		size := ReservationSize(5000, 1000, page)
		p, err := Plan(base, size, 5000, 1000, page)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if p.RO%page != 0 || p.RW%page != 0 {
			t.Errorf("placements not page aligned: ro=%#x rw=%#x", p.RO, p.RW)
		}
		if p.RO <= base {
			t.Errorf("ro placement %#x does not strictly advance past base %#x", p.RO, base)
		}
		if p.RW < p.RO+5000 {
			t.Errorf("rw placement %#x overlaps ro region ending at %#x", p.RW, p.RO+5000)
		}
		if p.End > base+uintptr(size) {
			t.Errorf("end %#x exceeds reservation end %#x", p.End, base+uintptr(size))
		}
	})

	t.Run("aligned_base_consumes_page", func(t *testing.T) {
		base := uintptr(20 * page)
		size := ReservationSize(5000, 1000, page)
		p, err := Plan(base, size, 5000, 1000, page)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if p.RO != base+page {
			t.Errorf("aligned base: ro = %#x, want %#x", p.RO, base+page)
		}
	})

	// The worst case for the sizing formula: every alignment consumes a
	// full page. Region sizes that are exact page multiples trigger it.
	t.Run("worst_case_fits", func(t *testing.T) {
		ro, rw := 2*page, page
		base := uintptr(8 * page)
		size := ReservationSize(ro, rw, page)
		p, err := Plan(base, size, ro, rw, page)
		if err != nil {
			t.Fatalf("Plan worst case: %v", err)
		}
		if p.End != base+uintptr(size) {
			t.Errorf("worst case end = %#x, want exactly %#x", p.End, base+uintptr(size))
		}
	})

	t.Run("undersized_reservation", func(t *testing.T) {
		if _, err := Plan(uintptr(page), 5000+1000, 5000, 1000, page); err == nil {
			t.Error("Plan accepted a reservation with no alignment slack")
		}
	})
}

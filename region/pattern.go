package region

import (
	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
)

// Verification status codes. Any other value returned by Verify (or by the
// guest's verify-contents export, which runs the same scan) is the byte
// offset of the first interior mismatch.
const (
	VerifyOK             = 0
	VerifyPrefixMismatch = 1
	VerifySuffixMismatch = 2
)

// The interior of a region alternates between these two bytes, indexed by
// offset parity, with a 3-byte mode prefix and the suffix below as sentinels
// at both ends so off-by-one mapping errors are detectable.
var fillBytes = [2]byte{131, 173}

const (
	suffixToken = "buf"
	sentinelLen = 3
)

// Fill writes the deterministic pattern for mode into buf: mode prefix,
// alternating interior bytes, suffix sentinel.
func Fill(buf []byte, mode wasmshm.Mode) {
	copy(buf[:sentinelLen], mode.Prefix())
	copy(buf[len(buf)-sentinelLen:], suffixToken)
	for i := sentinelLen; i < len(buf)-sentinelLen; i++ {
		buf[i] = fillBytes[i%2]
	}
}

// Verify scans buf against the pattern Fill produces for mode. It returns
// VerifyOK, VerifyPrefixMismatch, VerifySuffixMismatch, or the offset of the
// first interior byte that differs.
func Verify(buf []byte, mode wasmshm.Mode) int {
	if string(buf[:sentinelLen]) != mode.Prefix() {
		return VerifyPrefixMismatch
	}
	if string(buf[len(buf)-sentinelLen:]) != suffixToken {
		return VerifySuffixMismatch
	}
	for i := sentinelLen; i < len(buf)-sentinelLen; i++ {
		if buf[i] != fillBytes[i%2] {
			return i
		}
	}
	return VerifyOK
}

// VerifyError converts a Verify status into an error, nil for VerifyOK.
func VerifyError(status int, mode wasmshm.Mode) error {
	switch status {
	case VerifyOK:
		return nil
	case VerifyPrefixMismatch:
		return errors.Mismatch("%s region: prefix token not matched", mode)
	case VerifySuffixMismatch:
		return errors.Mismatch("%s region: suffix token not matched", mode)
	default:
		return errors.Mismatch("%s region: incorrect value at offset %d", mode, status)
	}
}

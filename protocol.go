package wasmshm

import "fmt"

// Command is a single byte on the wire. The coordinator writes one command
// byte to a container's inbound pipe and blocks reading exactly one
// acknowledgment byte: the same byte on success, AckFailure on a recoverable
// failure. There is no framing, length prefix, or checksum.
type Command byte

const (
	// CmdInit compiles and instantiates the guest module and maps the
	// shared regions into its linear memory.
	CmdInit Command = 'i'
	// CmdVerify scans both shared regions through the guest's mappings.
	CmdVerify Command = 'v'
	// CmdStressAlloc allocates guest heap blocks until exhaustion or bound.
	CmdStressAlloc Command = 'm'
	// CmdWriteRW writes the fixed test pattern into the read-write region.
	CmdWriteRW Command = 'w'
	// CmdReadRW reads the fixed test pattern back from the read-write region.
	CmdReadRW Command = 'r'
	// CmdWriteRO writes through the read-only mapping. The container is
	// expected to die on a protection fault; this command is never acked.
	CmdWriteRO Command = 'q'
	// CmdForceError makes the guest dereference a wild address. Success is
	// reported when the engine traps, proving the fault stayed sandboxed.
	CmdForceError Command = 'e'
	// CmdExit acknowledges and terminates the container's command loop.
	CmdExit Command = 'x'

	// AckReady is sent once by a container at startup, before any command.
	AckReady Command = '@'
	// AckFailure reports a recoverable command failure.
	AckFailure Command = '*'
)

// Commands lists every coordinator-issued command in no particular order.
var Commands = []Command{
	CmdInit, CmdVerify, CmdStressAlloc, CmdWriteRW,
	CmdReadRW, CmdWriteRO, CmdForceError, CmdExit,
}

// Valid reports whether c is a coordinator-issued command byte.
func (c Command) Valid() bool {
	switch c {
	case CmdInit, CmdVerify, CmdStressAlloc, CmdWriteRW,
		CmdReadRW, CmdWriteRO, CmdForceError, CmdExit:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case CmdInit:
		return "init"
	case CmdVerify:
		return "verify"
	case CmdStressAlloc:
		return "stress-alloc"
	case CmdWriteRW:
		return "write-rw"
	case CmdReadRW:
		return "read-rw"
	case CmdWriteRO:
		return "write-ro"
	case CmdForceError:
		return "force-error"
	case CmdExit:
		return "exit"
	case AckReady:
		return "ready"
	case AckFailure:
		return "failure"
	}
	return fmt.Sprintf("unknown(%q)", byte(c))
}

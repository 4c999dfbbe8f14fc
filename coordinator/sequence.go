package coordinator

import (
	"context"
	stderrors "errors"
	"strings"

	"go.uber.org/zap"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
)

// Step is one dispatch in a scripted demonstration: a container label and
// the command to send it.
type Step struct {
	Label string
	Cmd   wasmshm.Command
}

func (s Step) String() string {
	return s.Label + ":" + string(byte(s.Cmd))
}

// DefaultSequence is the scripted demo: both containers attach and verify,
// A stresses its private heap and writes the pattern, B reads the pattern
// through its own mapping and runs its own stress pass, then both exit.
var DefaultSequence = []Step{
	{"A", wasmshm.CmdInit},
	{"A", wasmshm.CmdVerify},
	{"B", wasmshm.CmdInit},
	{"B", wasmshm.CmdVerify},
	{"A", wasmshm.CmdStressAlloc},
	{"A", wasmshm.CmdWriteRW},
	{"B", wasmshm.CmdReadRW},
	{"B", wasmshm.CmdStressAlloc},
	{"A", wasmshm.CmdExit},
	{"B", wasmshm.CmdExit},
}

// ParseSequence decodes a scripted sequence like "A:i A:v B:i B:x A:x".
// Tokens are separated by spaces or commas; the colon is optional. Labels
// are single characters, upper-cased.
func ParseSequence(s string) ([]Step, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, errors.Invalid(errors.PhaseProtocol, "empty sequence")
	}

	steps := make([]Step, 0, len(fields))
	for _, tok := range fields {
		raw := strings.ReplaceAll(tok, ":", "")
		if len(raw) != 2 {
			return nil, errors.Invalid(errors.PhaseProtocol, "bad step %q, want label:command", tok)
		}
		cmd := wasmshm.Command(raw[1])
		if !cmd.Valid() {
			return nil, errors.Invalid(errors.PhaseProtocol, "unknown command %q in step %q", raw[1], tok)
		}
		steps = append(steps, Step{Label: strings.ToUpper(raw[:1]), Cmd: cmd})
	}
	return steps, nil
}

// RunSequence dispatches steps in order, failing fast on the first
// unexpected outcome. A read-only write step expects its container to die;
// any other result for that step is the failure.
func (c *Coordinator) RunSequence(ctx context.Context, steps []Step) error {
	log := Logger()
	for _, step := range steps {
		err := c.Dispatch(step.Label, step.Cmd)

		if step.Cmd == wasmshm.CmdWriteRO {
			if stderrors.Is(err, ErrContainerGone) {
				log.Info("container terminated by protection fault",
					zap.String("label", step.Label))
				continue
			}
			return errors.Wrap(errors.PhaseProtocol, errors.KindFailed, err,
				"read-only write in "+step.Label+" did not fault")
		}

		if err != nil {
			return errors.Wrap(errors.PhaseProtocol, errors.KindFailed, err,
				"step "+step.String())
		}
		log.Info("step completed", zap.String("step", step.String()))
	}
	return nil
}

package container

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-shm/errors"
	"github.com/wippyai/wasm-shm/guestmod"
	"github.com/wippyai/wasm-shm/memmap"
)

// exportSig is the arity contract of one guest export. Every parameter and
// result is i32.
type exportSig struct {
	params  int
	results int
}

// callTable is the complete guest contract. Instantiation fails unless every
// entry is exported with exactly this shape, so command handlers never probe.
var callTable = map[string]exportSig{
	guestmod.ExportAllocate:    {1, 1},
	guestmod.ExportSetRegions:  {4, 0},
	guestmod.ExportVerify:      {0, 1},
	guestmod.ExportStressAlloc: {0, 1},
	guestmod.ExportClearAlloc:  {0, 0},
	guestmod.ExportWrite:       {3, 0},
	guestmod.ExportRead:        {3, 1},
	guestmod.ExportWriteRO:     {0, 0},
	guestmod.ExportForceFault:  {0, 1},
}

// Guest is one instantiated module whose linear memory is backed by a fixed
// address-space reservation, so region mappings placed inside it survive
// memory growth.
type Guest struct {
	runtime wazero.Runtime
	module  api.Module
	alloc   *memmap.Allocator
}

// NewGuest compiles and instantiates the module binary. The module must be
// self-contained (no imports), export its memory, and export every function
// in the call table with the expected i32 arity.
func NewGuest(ctx context.Context, binary []byte) (*Guest, error) {
	alloc := memmap.NewAllocator()
	ctx = experimental.WithMemoryAllocator(ctx, alloc)

	r := wazero.NewRuntime(ctx)

	compiled, err := r.CompileModule(ctx, binary)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseGuest, errors.KindInvalid, err, "compile module")
	}
	if err := checkContract(compiled); err != nil {
		r.Close(ctx)
		return nil, err
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest"))
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseGuest, errors.KindInvalid, err, "instantiate module")
	}

	return &Guest{runtime: r, module: mod, alloc: alloc}, nil
}

func checkContract(compiled wazero.CompiledModule) error {
	if n := len(compiled.ImportedFunctions()); n > 0 {
		return errors.Invalid(errors.PhaseGuest, "module imports %d functions, sandboxed guests import nothing", n)
	}
	if n := len(compiled.ImportedMemories()); n > 0 {
		return errors.Invalid(errors.PhaseGuest, "module imports its memory, sandboxed guests own theirs")
	}
	if _, ok := compiled.ExportedMemories()[guestmod.ExportMemory]; !ok {
		return errors.NotFound(errors.PhaseGuest, "export", guestmod.ExportMemory)
	}

	defs := compiled.ExportedFunctions()
	for name, want := range callTable {
		def, ok := defs[name]
		if !ok {
			return errors.NotFound(errors.PhaseGuest, "export", name)
		}
		if err := checkSig(name, def, want); err != nil {
			return err
		}
	}
	return nil
}

func checkSig(name string, def api.FunctionDefinition, want exportSig) error {
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != want.params || len(results) != want.results {
		return errors.Signature(name, fmt.Sprintf("have %d params %d results, want %d and %d",
			len(params), len(results), want.params, want.results))
	}
	for _, vt := range params {
		if vt != api.ValueTypeI32 {
			return errors.Signature(name, "non-i32 parameter")
		}
	}
	for _, vt := range results {
		if vt != api.ValueTypeI32 {
			return errors.Signature(name, "non-i32 result")
		}
	}
	return nil
}

// Call invokes a guest export and returns its single i32 result, 0 for void
// exports. A fault inside the sandbox comes back as a trap error; the
// instance stays usable.
func (g *Guest) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	fn := g.module.ExportedFunction(name)
	if fn == nil {
		return 0, errors.NotFound(errors.PhaseGuest, "export", name)
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, errors.Trap(name, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// Memory returns the guest's exported linear memory.
func (g *Guest) Memory() api.Memory {
	return g.module.Memory()
}

// Linear returns the reservation backing the guest memory, nil before
// instantiation produced one.
func (g *Guest) Linear() *memmap.LinearMemory {
	return g.alloc.Last()
}

// Close tears down the module and runtime. The linear memory reservation is
// released by the runtime through the allocator, fixed mappings included.
func (g *Guest) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

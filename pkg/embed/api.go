// Package funlua embeds the funlua runtime in Go programs.
//
// The low-level API is the index-based stack API of *State, re-exported
// here. Runtime wraps a State with a higher-level interface: binding Go
// functions, reading and writing globals, calling functions by name and
// running chunks under an instruction budget.
package funlua

import (
	"github.com/funvibe/funlua/internal/config"
	"github.com/funvibe/funlua/internal/vm"
)

type (
	State        = vm.State
	Status       = vm.Status
	Type         = vm.Type
	Function     = vm.Function
	KFunction    = vm.KFunction
	KContext     = vm.KContext
	Debug        = vm.Debug
	Hook         = vm.Hook
	HookEvent    = vm.HookEvent
	HookMask     = vm.HookMask
	AllocFunc    = vm.AllocFunc
	WarnFunction = vm.WarnFunction
	ArithOp      = vm.ArithOp
	CompareOp    = vm.CompareOp
	GCOption     = vm.GCOption
	GCStats      = vm.GCStats
	GCEvent      = vm.GCEvent
	APIError     = vm.APIError
	PanicError   = vm.PanicError

	// Options configures a runtime; see DefaultOptions and LoadOptions.
	Options   = config.Options
	GCOptions = config.GCOptions
)

const (
	StatusOK        = vm.StatusOK
	StatusYield     = vm.StatusYield
	StatusErrRun    = vm.StatusErrRun
	StatusErrSyntax = vm.StatusErrSyntax
	StatusErrMem    = vm.StatusErrMem
	StatusErrErr    = vm.StatusErrErr
)

const (
	TypeNone          = vm.TypeNone
	TypeNil           = vm.TypeNil
	TypeBoolean       = vm.TypeBoolean
	TypeLightUserdata = vm.TypeLightUserdata
	TypeNumber        = vm.TypeNumber
	TypeString        = vm.TypeString
	TypeTable         = vm.TypeTable
	TypeFunction      = vm.TypeFunction
	TypeUserdata      = vm.TypeUserdata
	TypeThread        = vm.TypeThread
)

const (
	MaskCall  = vm.MaskCall
	MaskRet   = vm.MaskRet
	MaskLine  = vm.MaskLine
	MaskCount = vm.MaskCount
)

const (
	GCStop       = vm.GCStop
	GCRestart    = vm.GCRestart
	GCCollect    = vm.GCCollect
	GCCount      = vm.GCCount
	GCCountB     = vm.GCCountB
	GCStep       = vm.GCStep
	GCSetPause   = vm.GCSetPause
	GCSetStepMul = vm.GCSetStepMul
	GCIsRunning  = vm.GCIsRunning
	GCGen        = vm.GCGen
	GCInc        = vm.GCInc
)

// MultRet asks a call for all results.
const MultRet = vm.MultRet

// RegistryIndex is the pseudo-index of the registry table.
const RegistryIndex = config.RegistryIndex

// Registry slots holding the main thread and the globals table
const (
	RegistryMainThread = config.RegistryMainThread
	RegistryGlobals    = config.RegistryGlobals
)

// UpvalueIndex is the pseudo-index of the i-th upvalue of the running Go
// closure, starting at 1.
func UpvalueIndex(i int) int { return vm.UpvalueIndex(i) }

// NewState creates a bare runtime. Most hosts want New instead.
func NewState(opts Options) *State { return vm.NewState(opts) }

// NewStateWithAlloc creates a bare runtime whose memory is gated by f.
func NewStateWithAlloc(opts Options, f AllocFunc, ud any) (*State, error) {
	return vm.NewStateWithAlloc(opts, f, ud)
}

// DefaultOptions returns the built-in runtime options.
func DefaultOptions() Options { return config.Default() }

// LoadOptions reads runtime options from a YAML or TOML file.
func LoadOptions(path string) (Options, error) { return config.Load(path) }

package config

// Stack limits
const (
	// MinStack is the number of free slots a Go function is guaranteed on entry.
	MinStack = 20

	// ExtraStack is the slack kept above the usable stack for metamethod
	// calls and error recovery.
	ExtraStack = 5

	// BasicStackSize is the initial stack size of a new thread.
	BasicStackSize = 2 * MinStack

	// DefaultMaxStack bounds the number of slots of a single thread.
	DefaultMaxStack = 1000000

	// ErrorStackExtra is granted past MaxStack while handling a stack overflow.
	ErrorStackExtra = 200

	// MaxCCalls bounds nested host calls (Go functions, metamethods, resumes).
	MaxCCalls = 200

	// MaxUpval is the maximum number of upvalues of a closure.
	MaxUpval = 255

	// MaxTagLoop bounds __index/__newindex chains.
	MaxTagLoop = 2000

	// MaxShortLen is the longest string that is interned.
	MaxShortLen = 40

	// IDSize bounds the length of source names in messages.
	IDSize = 60
)

// Pseudo-indices
const (
	// RegistryIndex addresses the registry table.
	RegistryIndex = -DefaultMaxStack - 1000
)

// Registry slots
const (
	RegistryMainThread = 1
	RegistryGlobals    = 2
	RegistryLast       = RegistryGlobals
)

// Collector defaults. Pause and multipliers are percentages.
const (
	DefaultGCPause    = 200
	DefaultGCStepMul  = 100
	DefaultGCStepSize = 13 // log2 of the step size in bytes (8 KB)
	DefaultGenMinor   = 20
	DefaultGenMajor   = 100
)

// Well-known names
const (
	EnvName       = "_ENV"
	MemErrMsg     = "not enough memory"
	ErrInErrMsg   = "error in error handling"
	MainChunkName = "main chunk"
)

package funlua

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/funvibe/funlua/internal/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var embedLog = commonlog.GetLogger("funlua.embed")

// DefaultBudget is the instruction budget of a new Runtime.
const DefaultBudget = 40960

// Runtime wraps a runtime state and provides a high-level embedding API.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	state      *State
	marshaller *Marshaller
	budget     int
}

// New creates a Runtime with the default options.
func New() *Runtime {
	r, err := NewWithOptions(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return r
}

// NewWithOptions creates a Runtime configured by opts.
func NewWithOptions(opts Options) (*Runtime, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	L, err := vm.NewStateWithAlloc(opts, nil, nil)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		state:      L,
		marshaller: NewMarshaller(),
		budget:     DefaultBudget,
	}
	embedLog.Debug("runtime ready", "id", L.ID().String())
	return r, nil
}

// State returns the underlying main thread for direct stack API use.
func (r *Runtime) State() *State { return r.state }

// ID identifies the runtime.
func (r *Runtime) ID() uuid.UUID { return r.state.ID() }

// Marshaller returns the converter used for bindings and results.
func (r *Runtime) Marshaller() *Marshaller { return r.marshaller }

// Close releases the runtime. It must not be used afterwards.
func (r *Runtime) Close() {
	embedLog.Debug("runtime closed", "id", r.ID().String())
	r.state.Close()
}

// SetBudget bounds the number of interpreted instructions of every Call,
// DoString and LoadFile. Exceeding it raises BudgetMessage; zero or less
// removes the bound.
func (r *Runtime) SetBudget(n int) { r.budget = n }

// Budget returns the current instruction budget.
func (r *Runtime) Budget() int { return r.budget }

// Bind registers a Go function or value as a global.
//
// Functions are called with their arguments converted to the parameter
// types. A leading *State parameter receives the calling thread, and a
// trailing error result is raised as a runtime error when not nil.
func (r *Runtime) Bind(name string, val any) error {
	return r.Set(name, val)
}

// Set sets a global variable.
func (r *Runtime) Set(name string, val any) error {
	if err := r.marshaller.ToValue(r.state, val); err != nil {
		return fmt.Errorf("cannot set '%s': %w", name, err)
	}
	r.state.SetGlobal(name)
	return nil
}

// Get retrieves a global variable.
func (r *Runtime) Get(name string) (any, error) {
	L := r.state
	defer L.SetTop(L.Top())
	if L.GetGlobal(name) == TypeNil {
		return nil, fmt.Errorf("variable '%s' not found", name)
	}
	return r.marshaller.FromValue(L, -1, nil)
}

// Call calls a global function by name and returns all its results.
func (r *Runtime) Call(funcName string, args ...any) ([]any, error) {
	L := r.state
	base := L.Top()
	if L.GetGlobal(funcName) != TypeFunction {
		L.SetTop(base)
		return nil, fmt.Errorf("function '%s' not found", funcName)
	}
	for i, arg := range args {
		if err := r.marshaller.ToValue(L, arg); err != nil {
			L.SetTop(base)
			return nil, fmt.Errorf("argument %d conversion failed: %w", i, err)
		}
	}
	return r.run(base, len(args))
}

// DoString loads and runs an assembly chunk, returning its results.
func (r *Runtime) DoString(code string) ([]any, error) {
	return r.Exec(strings.NewReader(code), "=<eval>")
}

// LoadFile loads and runs an assembly chunk from a file.
func (r *Runtime) LoadFile(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.Exec(f, "@"+path)
}

// Exec loads a text chunk from src under chunkname and runs it.
func (r *Runtime) Exec(src io.Reader, chunkname string) ([]any, error) {
	L := r.state
	base := L.Top()
	if status := L.Load(src, chunkname, "t"); status != StatusOK {
		err := StatusError(L, status)
		L.SetTop(base)
		return nil, err
	}
	return r.run(base, 0)
}

// run calls the function at base+1 with the nargs values above it under
// the budget, and converts the results.
func (r *Runtime) run(base, nargs int) ([]any, error) {
	L := r.state
	defer L.SetTop(base)
	if r.budget > 0 {
		L.SetHook(r.budgetHook, MaskCount, r.budget)
		defer L.SetHook(nil, 0, 0)
	}
	if status := L.PCall(nargs, MultRet, 0); status != StatusOK {
		err := StatusError(L, status)
		embedLog.Debugf("call failed: %s", err)
		return nil, err
	}
	results := make([]any, 0, L.Top()-base)
	for i := base + 1; i <= L.Top(); i++ {
		v, err := r.marshaller.FromValue(L, i, nil)
		if err != nil {
			return nil, fmt.Errorf("result %d conversion failed: %w", i-base, err)
		}
		results = append(results, v)
	}
	return results, nil
}

func (r *Runtime) budgetHook(L *State, ar *Debug) {
	embedLog.Warningf("instruction budget of %d exhausted", r.budget)
	L.Where(0)
	L.PushString(BudgetMessage)
	L.Concat(2)
	L.Error()
}

// goFunction wraps a Go function value as a host function.
func (m *Marshaller) goFunction(fn reflect.Value) Function {
	return func(L *State) int {
		return m.hostCallHandler(L, fn)
	}
}

func (m *Marshaller) hostCallHandler(L *State, fn reflect.Value) int {
	fnType := fn.Type()
	numIn := fnType.NumIn()
	isVariadic := fnType.IsVariadic()
	nargs := L.Top()

	var goArgs []reflect.Value
	first := 0
	if numIn > 0 && fnType.In(0) == stateType {
		goArgs = append(goArgs, reflect.ValueOf(L))
		first = 1
	}

	// Check arg count
	fixed := numIn - first
	if isVariadic {
		fixed--
		if nargs < fixed {
			return L.Errorf("expected at least %d arguments, got %d", fixed, nargs)
		}
	} else if nargs != fixed {
		return L.Errorf("expected %d arguments, got %d", fixed, nargs)
	}

	for i := 1; i <= nargs; i++ {
		// Determine target type
		var targetType reflect.Type
		if isVariadic && i > fixed {
			targetType = fnType.In(numIn - 1).Elem()
		} else {
			targetType = fnType.In(first + i - 1)
		}
		arg, err := m.assignFrom(L, i, targetType)
		if err != nil {
			return L.Errorf("bad argument #%d (%s)", i, err)
		}
		goArgs = append(goArgs, arg)
	}

	results := m.protectedCall(L, fn, goArgs)
	if n := len(results); n > 0 && fnType.Out(n-1) == errorType {
		if err, _ := results[n-1].Interface().(error); err != nil {
			return L.Errorf("%s", err.Error())
		}
		results = results[:n-1]
	}

	for i, res := range results {
		if err := m.ToValue(L, res.Interface()); err != nil {
			return L.Errorf("result %d conversion failed: %s", i+1, err)
		}
	}
	return len(results)
}

// protectedCall runs fn turning a Go panic into a runtime error. Errors
// unwinding through fn keep going.
func (m *Marshaller) protectedCall(L *State, fn reflect.Value, args []reflect.Value) []reflect.Value {
	defer func() {
		if p := recover(); p != nil {
			if vm.IsUnwind(p) {
				panic(p)
			}
			embedLog.Errorf("host function panicked: %v", p)
			L.Errorf("%v", p)
		}
	}()
	return fn.Call(args)
}

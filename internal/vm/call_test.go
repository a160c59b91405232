package vm

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func load(t *testing.T, L *State, src string) {
	t.Helper()
	if status := L.Load(strings.NewReader(src), "=test", "t"); status != StatusOK {
		msg, _ := L.ToString(-1)
		t.Fatalf("load: %v: %s", status, msg)
	}
}

// show renders the value at idx for comparisons.
func show(L *State, idx int) string {
	switch L.Type(idx) {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return strconv.FormatBool(L.ToBoolean(idx))
	}
	if s, ok := L.ToString(idx); ok {
		return s
	}
	return L.TypeName(L.Type(idx))
}

// run loads src and calls it with args, returning its results.
func run(t *testing.T, L *State, src string, args ...int64) []string {
	t.Helper()
	base := L.Top()
	load(t, L, src)
	pushInts(L, args...)
	if status := L.PCall(len(args), MultRet, 0); status != StatusOK {
		msg, _ := L.ToString(-1)
		t.Fatalf("run: %v: %s", status, msg)
	}
	var out []string
	for i := base + 1; i <= L.Top(); i++ {
		out = append(out, show(L, i))
	}
	L.SetTop(base)
	return out
}

// runError loads src, expects it to fail and returns the message.
func runError(t *testing.T, L *State, src string) (Status, string) {
	t.Helper()
	load(t, L, src)
	status := L.PCall(0, 0, 0)
	if status == StatusOK {
		t.Fatal("expected an error")
	}
	msg := show(L, -1)
	L.Pop(1)
	return status, msg
}

// =============================================================================
// Interpreter
// =============================================================================

func TestInterpreter(t *testing.T) {
	tests := []struct {
		name string
		src  string
		args []int64
		want []string
	}{
		{"loads", `LOADI 0 -3
LOADK 1 "s"
LOADK 2 #2.5
LOADTRUE 3
LOADNIL 4 0
RETURN 0 6`, nil, []string{"-3", "s", "2.5", "true", "nil"}},
		{"arith with constants", `LOADI 0 7
MUL 1 0 #6
SUB 1 1 #2
MOD 2 1 #5
POW 3 0 #2
UNM 4 0
RETURN 1 5`, nil, []string{"40", "0", "49.0", "-7"}},
		{"concat", `LOADK 0 "a"
LOADI 1 1
LOADK 2 "b"
CONCAT 0 3
RETURN 0 2`, nil, []string{"a1b"}},
		{"tables", `NEWTABLE 0 0 2
SETFIELD 0 "x" #10
LOADI 1 5
SETTABLE 0 1 "five"
GETFIELD 2 0 "x"
GETTABLE 3 0 1
LEN 4 3
RETURN 2 4`, nil, []string{"10", "five", "4"}},
		{"globals", `SETTABUP _ENV "g" #3
GETTABUP 0 _ENV "g"
RETURN 0 2`, nil, []string{"3"}},
		{"branches", `LOADI 0 1
LOADI 1 2
LT 0 1 1
JMP less
LOADK 2 "ge"
RETURN 2 2
less:
LOADK 2 "lt"
RETURN 2 2`, nil, []string{"lt"}},
		{"test and not", `LOADNIL 0 0
NOT 1 0
TEST 1 1
JMP done
LOADFALSE 1
done:
RETURN 1 2`, nil, []string{"true"}},
		{"equality", `LOADI 0 1
LOADK 1 #1.0
LOADFALSE 2
EQ 0 1 1
JMP equal
RETURN 2 2
equal:
LOADTRUE 2
RETURN 2 2`, nil, []string{"true"}},
		{"loop", `LOADI 0 1
LOADI 1 0
LOADI 2 10
loop:
ADD 1 1 0
ADD 0 0 #1
LE 0 2 1
JMP loop
RETURN 1 2`, nil, []string{"55"}},
		{"vararg main", `VARARG 0 0
RETURN 0 0`, []int64{4, 5, 6}, []string{"4", "5", "6"}},
		{"call", `function add 2
ADD 2 0 1
RETURN 2 2
end
CLOSURE 0 add
LOADI 1 2
LOADI 2 3
CALL 0 3 2
RETURN 0 2`, nil, []string{"5"}},
		{"vararg function", `function pick 1 vararg
VARARG 1 3
ADD 0 0 1
ADD 0 0 2
RETURN 0 2
end
CLOSURE 0 pick
LOADI 1 1
LOADI 2 2
LOADI 3 3
CALL 0 4 2
RETURN 0 2`, nil, []string{"6"}},
		{"missing arguments are nil", `function second 2
RETURN 1 2
end
CLOSURE 0 second
LOADI 1 1
CALL 0 2 0
RETURN 0 0`, nil, []string{"nil"}},
		{"implicit return", `LOADI 0 1`, nil, nil},
	}
	L := newTestState(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, L, tt.src, tt.args...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestClosures(t *testing.T) {
	L := newTestState(t)
	load(t, L, `function inc 0
upval n local 0
GETUPVAL 0 n
ADD 0 0 #1
SETUPVAL 0 n
RETURN 0 2
end
LOADI 0 0
CLOSURE 1 inc
CLOSURE 2 inc
RETURN 1 3`)
	if status := L.PCall(0, 2, 0); status != StatusOK {
		t.Fatalf("PCall: %v", status)
	}

	var got []string
	for _, f := range []int{1, 1, 2} {
		L.PushValue(f)
		L.Call(0, 1)
		got = append(got, show(L, -1))
		L.Pop(1)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, got); diff != "" {
		t.Errorf("closures must share the closed upvalue (-want +got):\n%s", diff)
	}
	if L.UpvalueID(1, 1) != L.UpvalueID(2, 1) {
		t.Error("shared upvalues must have equal ids")
	}
	name, ok := L.GetUpvalue(1, 1)
	if !ok || name != "n" || show(L, -1) != "3" {
		t.Errorf("GetUpvalue = %q, %v, %s", name, ok, show(L, -1))
	}
	L.Pop(1)

	// a fresh chunk closure has its own _ENV upvalue; joining makes inc see it
	load(t, L, `RETURN 0 1`)
	L.UpvalueJoin(1, 1, -1, 1)
	if L.UpvalueID(1, 1) == L.UpvalueID(2, 1) {
		t.Error("UpvalueJoin should detach the first closure")
	}
	if name, _ := L.GetUpvalue(1, 1); name != "n" {
		t.Errorf("the joined upvalue keeps the prototype name, got %q", name)
	}
}

func TestHostCalls(t *testing.T) {
	L := newTestState(t)
	L.PushGoFunction(func(L *State) int {
		n, _ := L.ToInteger(1)
		L.PushInteger(n * 2)
		return 1
	})
	L.SetGlobal("double")
	L.PushGoFunction(func(L *State) int {
		pushInts(L, 1, 2, 3)
		return 3
	})
	L.SetGlobal("three")

	got := run(t, L, `GETTABUP 0 _ENV "double"
LOADI 1 21
CALL 0 2 2
RETURN 0 2`)
	if diff := cmp.Diff([]string{"42"}, got); diff != "" {
		t.Errorf("double (-want +got):\n%s", diff)
	}
	got = run(t, L, `GETTABUP 0 _ENV "three"
CALL 0 1 0
RETURN 0 0`)
	if diff := cmp.Diff([]string{"1", "2", "3"}, got); diff != "" {
		t.Errorf("three (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"call nil global", `GETTABUP 0 _ENV "nofunc"
CALL 0 1 1`, "test:2: attempt to call a nil value (global 'nofunc')"},
		{"arith on nil", `GETTABUP 0 _ENV "x"
ADD 1 0 #1`, "test:2: attempt to perform arithmetic on a nil value (global 'x')"},
		{"index a number", `LOADI 0 1
local n 0
GETFIELD 1 0 "f"`, "test:3: attempt to index a number value (local 'n')"},
		{"compare", `LOADI 0 1
LOADK 1 "s"
LT 0 1 1`, "test:3: attempt to compare number with string"},
		{"host error", `GETTABUP 0 _ENV "fail"
CALL 0 1 1`, "test:2: bad 7"},
		{"non-closable", `LOADI 0 1
local x 0
TBC 0`, "test:3: variable 'x' got a non-closable value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newTestState(t)
			L.PushGoFunction(func(L *State) int { return L.Errorf("bad %d", 7) })
			L.SetGlobal("fail")
			status, msg := runError(t, L, tt.src)
			if status != StatusErrRun || msg != tt.want {
				t.Errorf("got %v %q, want %q", status, msg, tt.want)
			}
			if L.Top() != 0 {
				t.Errorf("top %d after the error", L.Top())
			}
		})
	}
}

func TestErrorObjects(t *testing.T) {
	L := newTestState(t)
	L.PushGoFunction(func(L *State) int {
		L.NewTable()
		L.PushInteger(5)
		L.SetField(-2, "code")
		return L.Error()
	})
	if status := L.PCall(0, 0, 0); status != StatusErrRun {
		t.Fatalf("status %v", status)
	}
	if !L.IsTable(-1) || L.GetField(-1, "code") != TypeNumber {
		t.Error("the error value should be the raised table")
	}
}

func TestMessageHandler(t *testing.T) {
	L := newTestState(t)
	L.PushGoFunction(func(L *State) int { return L.Errorf("bad %d", 7) })
	L.SetGlobal("fail")

	L.PushGoFunction(func(L *State) int {
		msg, _ := L.ToString(1)
		L.PushString("handled: " + msg)
		return 1
	})
	load(t, L, `GETTABUP 0 _ENV "fail"
CALL 0 1 1`)
	if status := L.PCall(0, 0, 1); status != StatusErrRun {
		t.Fatalf("status %v", status)
	}
	if got := show(L, -1); got != "handled: test:2: bad 7" {
		t.Errorf("message %q", got)
	}
	L.SetTop(0)

	// a handler that fails itself ends in "error in error handling"
	L.PushGoFunction(func(L *State) int {
		L.PushString("again")
		return L.Error()
	})
	L.PushGoFunction(func(L *State) int {
		L.PushString("first")
		return L.Error()
	})
	if status := L.PCall(0, 0, 1); status != StatusErrErr {
		t.Fatalf("status %v, want %v", status, StatusErrErr)
	}
	if got := show(L, -1); got != "error in error handling" {
		t.Errorf("message %q", got)
	}
}

func TestProtectedCallNesting(t *testing.T) {
	L := newTestState(t)
	inner := StatusOK
	status, msg := protect(L, func(L *State) int {
		L.PushGoFunction(func(L *State) int {
			L.PushString("inner")
			return L.Error()
		})
		inner = L.PCall(0, 0, 0)
		L.Pop(1)
		L.PushString("outer")
		return L.Error()
	})
	if inner != StatusErrRun || status != StatusErrRun || msg != "outer" {
		t.Errorf("inner %v, outer %v %q", inner, status, msg)
	}
}

func TestProtectedCallDepth(t *testing.T) {
	// deep(n) calls itself through Call until n is 0, then raises.
	var deep Function
	deep = func(L *State) int {
		n, _ := L.ToInteger(1)
		if n == 0 {
			L.PushString("deep")
			return L.Error()
		}
		L.PushGoFunction(deep)
		L.PushInteger(n - 1)
		L.Call(1, 0)
		return 0
	}
	for _, depth := range []int64{0, 1, 50} {
		t.Run(strconv.FormatInt(depth, 10), func(t *testing.T) {
			L := newTestState(t)
			pushInts(L, 7, 8, 9)
			L.PushGoFunction(deep)
			L.PushInteger(depth)
			if status := L.PCall(1, 0, 0); status != StatusErrRun {
				t.Fatalf("status %v", status)
			}
			if L.Top() != 4 || show(L, -1) != "deep" {
				t.Fatalf("top %d, message %s", L.Top(), show(L, -1))
			}
			L.Pop(1)
			if diff := cmp.Diff([]int64{7, 8, 9}, stackInts(L)); diff != "" {
				t.Errorf("stack below the call (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGoCallOverflow(t *testing.T) {
	L := newTestState(t)
	var rec Function
	rec = func(L *State) int {
		L.PushGoFunction(rec)
		L.Call(0, 0)
		return 0
	}
	status, msg := protect(L, rec)
	if status != StatusErrRun || msg != "C stack overflow" {
		t.Errorf("got %v %q", status, msg)
	}
	if L.Top() != 0 {
		t.Errorf("top %d after the overflow", L.Top())
	}
	if got := run(t, L, "LOADI 0 3\nRETURN 0 2"); !cmp.Equal(got, []string{"3"}) {
		t.Errorf("after the overflow: %v", got)
	}
}

// =============================================================================
// To-be-closed slots
// =============================================================================

func TestToBeClosed(t *testing.T) {
	L := newTestState(t)
	var closed []string
	// obj = setmetatable({}, {__close = record})
	L.NewTable()
	L.NewTable()
	L.PushGoFunction(func(L *State) int {
		closed = append(closed, show(L, 2))
		return 0
	})
	L.SetField(-2, "__close")
	L.SetMetatable(-2)
	L.SetGlobal("obj")

	got := run(t, L, `GETTABUP 0 _ENV "obj"
TBC 0
LOADI 1 5
RETURN 1 2`)
	if diff := cmp.Diff([]string{"5"}, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"nil"}, closed); diff != "" {
		t.Errorf("close on return (-want +got):\n%s", diff)
	}

	closed = nil
	_, msg := runError(t, L, `GETTABUP 0 _ENV "obj"
TBC 0
GETTABUP 1 _ENV "missing"
CALL 1 1 1`)
	want := "test:4: attempt to call a nil value (global 'missing')"
	if msg != want {
		t.Errorf("error %q, want %q", msg, want)
	}
	if diff := cmp.Diff([]string{want}, closed); diff != "" {
		t.Errorf("close on error (-want +got):\n%s", diff)
	}

	closed = nil
	run(t, L, `GETTABUP 0 _ENV "obj"
TBC 0
CLOSE 0
LOADFALSE 1
TBC 1`)
	if diff := cmp.Diff([]string{"nil"}, closed); diff != "" {
		t.Errorf("explicit close (-want +got):\n%s", diff)
	}
}

func TestGoToClose(t *testing.T) {
	L := newTestState(t)
	var closed int
	L.NewTable()
	L.NewTable()
	L.PushGoFunction(func(L *State) int {
		closed++
		return 0
	})
	L.SetField(-2, "__close")
	L.SetMetatable(-2)
	L.SetGlobal("obj")

	status, _ := protect(L, func(L *State) int {
		L.GetGlobal("obj")
		L.ToClose(-1)
		L.GetGlobal("obj")
		L.ToClose(-1)
		L.CloseSlot(-1)
		if closed != 1 || !L.IsNil(-1) {
			return L.Errorf("CloseSlot did not close")
		}
		return 0
	})
	if status != StatusOK || closed != 2 {
		t.Errorf("status %v, %d closes, want 2", status, closed)
	}
}

func TestToBeClosedOrder(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, L *State)
	}{
		{"interpreted", func(t *testing.T, L *State) {
			runError(t, L, `GETTABUP 0 _ENV "a"
TBC 0
GETTABUP 1 _ENV "b"
TBC 1
GETTABUP 2 _ENV "missing"
CALL 2 1 1`)
		}},
		{"go function", func(t *testing.T, L *State) {
			protect(L, func(L *State) int {
				L.GetGlobal("a")
				L.ToClose(-1)
				L.GetGlobal("b")
				L.ToClose(-1)
				return L.Errorf("between")
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newTestState(t)
			var closed []string
			// a and b share a metatable whose __close records their names
			L.NewTable()
			L.PushGoFunction(func(L *State) int {
				L.GetField(1, "name")
				closed = append(closed, show(L, -1))
				return 0
			})
			L.SetField(-2, "__close")
			for _, name := range []string{"a", "b"} {
				L.NewTable()
				L.PushString(name)
				L.SetField(-2, "name")
				L.PushValue(1)
				L.SetMetatable(-2)
				L.SetGlobal(name)
			}
			L.Pop(1)

			tt.run(t, L)
			if diff := cmp.Diff([]string{"b", "a"}, closed); diff != "" {
				t.Errorf("close order (-want +got):\n%s", diff)
			}
			if L.Top() != 0 {
				t.Errorf("top %d after the error", L.Top())
			}
		})
	}
}

// =============================================================================
// Coroutines
// =============================================================================

func TestCoroutineYieldFromLua(t *testing.T) {
	L := newTestState(t)
	yieldable := false
	L.PushGoFunction(func(L *State) int {
		yieldable = L.IsYieldable()
		return L.Yield(1)
	})
	L.SetGlobal("yield")

	co := L.NewThread()
	if status := co.Load(strings.NewReader(`GETTABUP 0 _ENV "yield"
LOADI 1 5
CALL 0 2 2
ADD 0 0 #1
RETURN 0 2`), "=co", "t"); status != StatusOK {
		t.Fatalf("load: %v", status)
	}

	status, n := co.Resume(L, 0)
	if status != StatusYield || n != 1 || show(co, -1) != "5" {
		t.Fatalf("first resume: %v %d %s", status, n, show(co, -1))
	}
	if co.Status() != StatusYield || !yieldable {
		t.Errorf("status %v, yieldable %v", co.Status(), yieldable)
	}
	co.Pop(1)

	co.PushInteger(41)
	status, n = co.Resume(L, 1)
	if status != StatusOK || n != 1 || show(co, -1) != "42" {
		t.Fatalf("second resume: %v %d %s", status, n, show(co, -1))
	}
	co.SetTop(0)

	status, _ = co.Resume(L, 0)
	if status != StatusErrRun || show(co, -1) != "cannot resume dead coroutine" {
		t.Errorf("resume of a finished coroutine: %v %s", status, show(co, -1))
	}
}

func TestCoroutineContinuation(t *testing.T) {
	L := newTestState(t)
	co := L.NewThread()
	co.PushGoFunction(func(L *State) int {
		L.PushString("ready")
		return L.YieldK(1, "ctx", func(L *State, status Status, ctx KContext) int {
			n, _ := L.ToInteger(-1)
			L.PushInteger(n * 2)
			L.PushString(ctx.(string) + " " + status.String())
			return 2
		})
	})

	status, n := co.Resume(L, 0)
	if status != StatusYield || n != 1 || show(co, -1) != "ready" {
		t.Fatalf("first resume: %v %d", status, n)
	}
	co.Pop(1)
	co.PushInteger(10)
	status, n = co.Resume(L, 1)
	if status != StatusOK || n != 2 {
		t.Fatalf("second resume: %v %d", status, n)
	}
	if got := []string{show(co, -2), show(co, -1)}; !cmp.Equal(got, []string{"20", "ctx yield"}) {
		t.Errorf("continuation results %v", got)
	}
}

func TestCoroutineErrors(t *testing.T) {
	L := newTestState(t)

	status, msg := protect(L, func(L *State) int { return L.Yield(0) })
	if status != StatusErrRun || msg != "attempt to yield from outside a coroutine" {
		t.Errorf("yield on the main thread: %v %q", status, msg)
	}

	co := L.NewThread()
	co.PushGoFunction(func(L *State) int {
		L.PushString("dead")
		return L.Error()
	})
	status, _ = co.Resume(L, 0)
	if status != StatusErrRun || co.Status() != StatusErrRun || show(co, -1) != "dead" {
		t.Errorf("failing coroutine: %v %v %s", status, co.Status(), show(co, -1))
	}
	status, _ = co.Resume(L, 0)
	if status != StatusErrRun || show(co, -1) != "cannot resume dead coroutine" {
		t.Errorf("resume after an error: %v %s", status, show(co, -1))
	}

	if st := co.CloseThread(L); st != StatusErrRun {
		t.Errorf("CloseThread = %v, want the error that killed it", st)
	}
	if co.Status() != StatusOK || co.Top() != 1 {
		t.Errorf("after CloseThread: status %v, top %d", co.Status(), co.Top())
	}
}

func TestYieldAcrossGoCall(t *testing.T) {
	L := newTestState(t)
	co := L.NewThread()
	co.PushGoFunction(func(L *State) int {
		L.PushGoFunction(func(L *State) int { return L.Yield(0) })
		L.Call(0, 0)
		return 0
	})
	status, _ := co.Resume(L, 0)
	if status != StatusErrRun || show(co, -1) != "attempt to yield across a C-call boundary" {
		t.Errorf("got %v %s", status, show(co, -1))
	}
}

// =============================================================================
// Hooks and debug information
// =============================================================================

func TestCountHook(t *testing.T) {
	L := newTestState(t)
	fired := 0
	L.SetHook(func(L *State, ar *Debug) {
		fired++
		if ar.Event != HookCount {
			t.Errorf("event %v", ar.Event)
		}
		L.PushString("stop")
		L.Error()
	}, MaskCount, 100)
	if _, mask, count := L.GetHook(); mask != MaskCount || count != 100 {
		t.Errorf("GetHook = %v %d", mask, count)
	}

	status, msg := runError(t, L, "loop:\nJMP loop")
	if status != StatusErrRun || msg != "stop" || fired != 1 {
		t.Errorf("got %v %q after %d hooks", status, msg, fired)
	}
	L.SetHook(nil, 0, 0)
	if h, mask, _ := L.GetHook(); h != nil || mask != 0 {
		t.Error("the hook should be removed")
	}
}

func TestLineHook(t *testing.T) {
	L := newTestState(t)
	var lines []int
	var sources []string
	L.SetHook(func(L *State, ar *Debug) {
		lines = append(lines, ar.CurrentLine)
		L.GetInfo("S", ar)
		sources = append(sources, ar.ShortSrc)
	}, MaskLine, 0)
	run(t, L, `LOADI 0 1
LOADI 1 2
ADD 2 0 1
RETURN 2 2`)
	L.SetHook(nil, 0, 0)
	if diff := cmp.Diff([]int{1, 2, 3, 4}, lines); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}
	if sources[0] != "test" {
		t.Errorf("source %q", sources[0])
	}
}

func TestCallHook(t *testing.T) {
	L := newTestState(t)
	L.PushGoFunction(func(L *State) int { return 0 })
	L.SetGlobal("nop")
	var events []string
	L.SetHook(func(L *State, ar *Debug) {
		L.GetInfo("S", ar)
		events = append(events, ar.Event.String()+" "+ar.What)
	}, MaskCall|MaskRet, 0)
	run(t, L, `GETTABUP 0 _ENV "nop"
CALL 0 1 1`)
	L.SetHook(nil, 0, 0)
	want := []string{"call main", "call Go", "return Go", "return main"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDebugInfo(t *testing.T) {
	L := newTestState(t)
	var caller, self Debug
	L.PushGoFunction(func(L *State) int {
		ar, ok := L.GetStack(0)
		if !ok {
			return L.Errorf("no level 0")
		}
		L.GetInfo("Snu", ar)
		self = *ar
		ar, ok = L.GetStack(1)
		if !ok {
			return L.Errorf("no level 1")
		}
		L.GetInfo("Sl", ar)
		caller = *ar
		if _, ok := L.GetStack(2); ok {
			return L.Errorf("unexpected level 2")
		}
		L.Where(1)
		return 1
	})
	L.SetGlobal("inspect")

	got := run(t, L, `LOADI 0 1
GETTABUP 0 _ENV "inspect"
CALL 0 1 2
RETURN 0 2`)
	if diff := cmp.Diff([]string{"test:3: "}, got); diff != "" {
		t.Errorf("Where (-want +got):\n%s", diff)
	}
	if self.What != "Go" || self.Name != "inspect" || self.NameWhat != "global" || !self.IsVararg {
		t.Errorf("self %+v", self)
	}
	if caller.What != "main" || caller.ShortSrc != "test" || caller.CurrentLine != 3 || caller.Source != "=test" {
		t.Errorf("caller %+v", caller)
	}

	// '>' inspects a function value
	load(t, L, "function f 2 vararg\nend\nCLOSURE 0 f\nRETURN 0 2")
	L.Call(0, 1)
	var ar Debug
	if !L.GetInfo(">Su", &ar) {
		t.Fatal("GetInfo failed")
	}
	if ar.What != "Lua" || ar.LineDefined != 1 || ar.LastLineDefined != 2 || ar.NParams != 2 || !ar.IsVararg {
		t.Errorf("function info %+v", ar)
	}
	if L.Top() != 0 {
		t.Errorf("'>' should pop the function, top %d", L.Top())
	}
}

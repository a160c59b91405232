package funlua_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	funlua "github.com/funvibe/funlua/pkg/embed"
)

// User represents a Go struct handed to scripts as a userdata.
type User struct {
	Name  string
	Score int
}

func (u *User) AddScore(points int) {
	u.Score += points
}

func (u *User) GetStatus() string {
	return fmt.Sprintf("User %s has %d points", u.Name, u.Score)
}

type Point struct {
	X, Y  int
	Label string `lua:"label"`
	skip  int
}

func newRuntime(t *testing.T) *funlua.Runtime {
	t.Helper()
	r := funlua.New()
	t.Cleanup(r.Close)
	return r
}

func mustRun(t *testing.T, r *funlua.Runtime, code string) []any {
	t.Helper()
	res, err := r.DoString(code)
	if err != nil {
		t.Fatalf("DoString failed: %v", err)
	}
	return res
}

const addChunk = `function add 2
ADD 2 0 1
RETURN 2 2
end
CLOSURE 0 add
SETTABUP _ENV "add" 0`

// =============================================================================
// Bindings
// =============================================================================

func TestEmbedAPI(t *testing.T) {
	r := newRuntime(t)

	if err := r.Bind("double", func(x int) int { return x * 2 }); err != nil {
		t.Fatal(err)
	}
	user := &User{Name: "Alice", Score: 10}
	if err := r.Set("player", user); err != nil {
		t.Fatal(err)
	}
	r.Bind("addScore", func(u *User, n int) { u.AddScore(n) })
	r.Bind("status", func(u *User) string { return u.GetStatus() })

	res := mustRun(t, r, `GETTABUP 0 _ENV "double"
LOADI 1 21
CALL 0 2 2
GETTABUP 1 _ENV "addScore"
GETTABUP 2 _ENV "player"
LOADI 3 5
CALL 1 3 1
GETTABUP 1 _ENV "status"
GETTABUP 2 _ENV "player"
CALL 1 2 2
RETURN 0 3`)

	want := []any{int64(42), "User Alice has 15 points"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if user.Score != 15 {
		t.Errorf("Go struct not updated! Score is %d, expected 15", user.Score)
	}
}

func TestBindSignatures(t *testing.T) {
	r := newRuntime(t)
	r.Bind("sum", func(xs ...int) int {
		total := 0
		for _, x := range xs {
			total += x
		}
		return total
	})
	r.Bind("nargs", func(L *funlua.State, _ int) int { return L.Top() })
	r.Bind("pair", func() (string, float64) { return "pi", 3.5 })

	tests := []struct {
		name string
		code string
		want []any
	}{
		{"variadic", `GETTABUP 0 _ENV "sum"
LOADI 1 1
LOADI 2 2
LOADI 3 3
CALL 0 4 2
RETURN 0 2`, []any{int64(6)}},
		{"variadic empty", `GETTABUP 0 _ENV "sum"
CALL 0 1 2
RETURN 0 2`, []any{int64(0)}},
		{"state parameter", `GETTABUP 0 _ENV "nargs"
LOADI 1 7
CALL 0 2 2
RETURN 0 2`, []any{int64(1)}},
		{"multiple results", `GETTABUP 0 _ENV "pair"
CALL 0 1 0
RETURN 0 0`, []any{"pi", 3.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRun(t, r, tt.code)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestHostErrors(t *testing.T) {
	r := newRuntime(t)
	r.Bind("fail", func() error { return errors.New("boom") })
	r.Bind("explode", func() { panic("kaput") })
	r.Bind("double", func(x int) int { return x * 2 })

	tests := []struct {
		name string
		code string
		want string
	}{
		{"returned error", `GETTABUP 0 _ENV "fail"
CALL 0 1 1`, "<eval>:2: boom"},
		{"panic", `GETTABUP 0 _ENV "explode"
CALL 0 1 1`, "kaput"},
		{"arity", `GETTABUP 0 _ENV "double"
LOADI 1 1
LOADI 2 2
CALL 0 3 1`, "expected 1 arguments, got 2"},
		{"bad argument", `GETTABUP 0 _ENV "double"
LOADK 1 "x"
CALL 0 2 1`, "bad argument #1"},
		{"fractional argument", `GETTABUP 0 _ENV "double"
LOADK 1 #1.5
CALL 0 2 1`, "no integer representation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.DoString(tt.code)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, funlua.ErrRuntime) {
				t.Errorf("error %v should match ErrRuntime", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err.Error(), tt.want)
			}
		})
	}

	// the runtime stays usable
	res := mustRun(t, r, `LOADI 0 1
RETURN 0 2`)
	if diff := cmp.Diff([]any{int64(1)}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

// =============================================================================
// Globals and calls
// =============================================================================

func TestCallByName(t *testing.T) {
	r := newRuntime(t)
	mustRun(t, r, addChunk)

	res, err := r.Call("add", 2, 3)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if diff := cmp.Diff([]any{int64(5)}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	res, err = r.Call("add", 1.5, 2)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if diff := cmp.Diff([]any{3.5}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := r.Call("missing"); err == nil || err.Error() != "function 'missing' not found" {
		t.Errorf("unexpected error %v", err)
	}

	_, err = r.Call("add", "a", 1)
	if !errors.Is(err, funlua.ErrRuntime) {
		t.Fatalf("expected a runtime error, got %v", err)
	}
	if !strings.Contains(err.Error(), "attempt to perform arithmetic") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if top := r.State().Top(); top != 0 {
		t.Errorf("stack not restored, top is %d", top)
	}
}

func TestSetGet(t *testing.T) {
	r := newRuntime(t)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 42, int64(42)},
		{"uint8", uint8(7), int64(7)},
		{"float", 2.5, 2.5},
		{"bool", true, true},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"slice", []int{1, 2, 3}, []any{int64(1), int64(2), int64(3)}},
		{"map", map[string]any{"name": "x", "n": 3}, map[any]any{"name": "x", "n": int64(3)}},
		{"nested", map[string][]string{"k": {"a"}}, map[any]any{"k": []any{"a"}}},
		{"struct", Point{X: 1, Y: 2, Label: "a"}, map[any]any{"X": int64(1), "Y": int64(2), "label": "a"}},
		{"empty map", map[string]int{}, map[any]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Set("v", tt.in); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := r.Get("v")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}

	if _, err := r.Get("undefined"); err == nil || err.Error() != "variable 'undefined' not found" {
		t.Errorf("unexpected error %v", err)
	}
	if err := r.Set("bad", map[any]int{nil: 1}); err == nil {
		t.Error("expected an error for a nil map key")
	}
	if top := r.State().Top(); top != 0 {
		t.Errorf("stack not restored, top is %d", top)
	}
}

func TestMarshallerTargetTypes(t *testing.T) {
	r := newRuntime(t)
	L := r.State()
	m := r.Marshaller()

	if err := m.ToValue(L, Point{X: 3, Y: 4, Label: "p"}); err != nil {
		t.Fatal(err)
	}
	got, err := m.FromValue(L, -1, reflect.TypeOf(Point{}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Point{X: 3, Y: 4, Label: "p"}, got, cmp.AllowUnexported(Point{})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	ptr, err := m.FromValue(L, -1, reflect.TypeOf(&Point{}))
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := ptr.(*Point); !ok || p.X != 3 {
		t.Errorf("expected *Point, got %#v", ptr)
	}
	L.Pop(1)

	m.ToValue(L, map[string]int{"a": 1, "b": 2})
	typed, err := m.FromValue(L, -1, reflect.TypeOf(map[string]int{}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"a": 1, "b": 2}, typed); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	L.Pop(1)

	L.PushInteger(300)
	if _, err := m.FromValue(L, -1, reflect.TypeOf(int8(0))); err == nil {
		t.Error("expected overflow error for int8")
	}
	if _, err := m.FromValue(L, -1, reflect.TypeOf(uint(0))); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	s, err := m.FromValue(L, -1, reflect.TypeOf(""))
	if err != nil || s != "300" {
		t.Errorf("got %v, %v; want 300", s, err)
	}
	if !L.IsInteger(-1) {
		t.Error("string conversion must not change the stack value")
	}
	L.Pop(1)

	if top := L.Top(); top != 0 {
		t.Errorf("stack not balanced, top is %d", top)
	}
}

// =============================================================================
// Errors and limits
// =============================================================================

func TestSyntaxError(t *testing.T) {
	r := newRuntime(t)
	_, err := r.DoString("LOADI 0 1\nBOGUS 1")
	if !errors.Is(err, funlua.ErrSyntax) {
		t.Fatalf("expected a syntax error, got %v", err)
	}
	if want := "<eval>:2: unknown instruction near 'BOGUS'"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if errors.Is(err, funlua.ErrRuntime) {
		t.Error("syntax error must not match ErrRuntime")
	}
}

func TestBudget(t *testing.T) {
	r := newRuntime(t)
	r.SetBudget(1000)
	_, err := r.DoString("loop:\nJMP loop")
	if !errors.Is(err, funlua.ErrBudget) {
		t.Fatalf("expected the budget error, got %v", err)
	}
	if !strings.Contains(err.Error(), funlua.BudgetMessage) {
		t.Errorf("unexpected message %q", err.Error())
	}

	// a short run fits
	res := mustRun(t, r, "LOADI 0 9\nRETURN 0 2")
	if diff := cmp.Diff([]any{int64(9)}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestStackOverflow(t *testing.T) {
	opts := funlua.DefaultOptions()
	opts.MaxStack = 2000
	r, err := funlua.NewWithOptions(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.SetBudget(0)

	_, err = r.DoString(`function rec 0
upval _ENV up _ENV
GETTABUP 0 _ENV "rec"
CALL 0 1 1
RETURN 0 1
end
CLOSURE 0 rec
SETTABUP _ENV "rec" 0
GETTABUP 0 _ENV "rec"
CALL 0 1 1`)
	if !errors.Is(err, funlua.ErrStackOverflow) {
		t.Fatalf("expected stack overflow, got %v", err)
	}
	if errors.Is(err, funlua.ErrBudget) {
		t.Error("stack overflow must not match ErrBudget")
	}

	// the stack recovers
	res := mustRun(t, r, "LOADI 0 1\nRETURN 0 2")
	if diff := cmp.Diff([]any{int64(1)}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestNestedCallOverflow(t *testing.T) {
	r := funlua.New()
	defer r.Close()
	L := r.State()

	var rec funlua.Function
	rec = func(L *funlua.State) int {
		L.PushGoFunction(rec)
		L.Call(0, 0)
		return 0
	}
	L.PushGoFunction(rec)
	err := funlua.StatusError(L, L.PCall(0, 0, 0))
	if !errors.Is(err, funlua.ErrStackOverflow) || err.Error() != "C stack overflow" {
		t.Fatalf("expected a C stack overflow, got %v", err)
	}
	if L.Top() != 0 {
		t.Errorf("top %d after the overflow", L.Top())
	}
}

func TestInvalidOptions(t *testing.T) {
	opts := funlua.DefaultOptions()
	opts.MaxStack = 1
	if _, err := funlua.NewWithOptions(opts); err == nil {
		t.Error("expected a validation error")
	}
}

// =============================================================================
// Files and identity
// =============================================================================

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "answer.lasm")
	if err := os.WriteFile(path, []byte("LOADI 0 42\nRETURN 0 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r := newRuntime(t)
	res, err := r.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if diff := cmp.Diff([]any{int64(42)}, res); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := r.LoadFile(filepath.Join(dir, "missing.lasm")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestRuntimeID(t *testing.T) {
	a, b := newRuntime(t), newRuntime(t)
	if a.ID() == uuid.Nil || a.ID() == b.ID() {
		t.Errorf("runtime ids must be set and distinct: %s %s", a.ID(), b.ID())
	}
}

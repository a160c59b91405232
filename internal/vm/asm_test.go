package vm

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

// loadError loads src and returns the status and the pushed message.
func loadError(t *testing.T, L *State, src, mode string) (Status, string) {
	t.Helper()
	status := L.Load(strings.NewReader(src), "=test", mode)
	if status == StatusOK {
		t.Fatalf("load of %q succeeded", src)
	}
	msg := show(L, -1)
	L.Pop(1)
	return status, msg
}

// =============================================================================
// Syntax
// =============================================================================

func TestAssemblerSyntax(t *testing.T) {
	L := newTestState(t)
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"comments and commas", "LOADI 0, 2 ; two\n; nothing here\nRETURN 0 2", []string{"2"}},
		{"lower case", "loadi 0 3\nreturn 0 2", []string{"3"}},
		{"numeric jump", "LOADI 0 1\nJMP 1\nLOADI 0 2\nRETURN 0 2", []string{"1"}},
		{"label on instruction", "JMP skip\nLOADI 0 2\nskip: LOADI 0 9\nRETURN 0 2", []string{"9"}},
		{"string escapes", `LOADK 0 "a\tb\"c"` + "\nRETURN 0 2", []string{"a\tb\"c"}},
		{"hex and float constants", "LOADK 0 #0x10\nLOADK 1 #1e2\nRETURN 0 3", []string{"16", "100.0"}},
		{"constant values", "SETTABUP _ENV \"flag\" true\nGETTABUP 0 _ENV \"flag\"\nRETURN 0 2", []string{"true"}},
		{"upvalue of upvalue", `function outer 0
upval env up _ENV
function inner 0
upval env up env
GETTABUP 0 env "v"
RETURN 0 2
end
CLOSURE 0 inner
CALL 0 1 2
RETURN 0 2
end
SETTABUP _ENV "v" #8
CLOSURE 0 outer
CALL 0 1 2
RETURN 0 2`, []string{"8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, L, tt.src)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssemblerErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown instruction", "FOO 1", "test:1: unknown instruction near 'FOO'"},
		{"operand count", "LOADI 0", "test:1: 'LOADI' expects 2 operands, got 1"},
		{"missing label", "LOADI 0 1\nJMP nowhere", "test:2: no visible label 'nowhere' for JMP"},
		{"unclosed function", "function f 0\nLOADI 0 1", "test:2: 'end' expected (to close 'function' at line 1) near <eof>"},
		{"stray end", "end", "test:1: 'end' without function"},
		{"unfinished string", `LOADK 0 "abc`, "test:1: unfinished string"},
		{"vararg", "function f 0\nVARARG 0 2\nend", "test:2: cannot use VARARG outside a vararg function"},
		{"label defined twice", "a:\na:", "test:2: label 'a' already defined on line 1"},
		{"undefined function", "CLOSURE 0 g", "test:1: function 'g' is not defined"},
		{"register", "LOADI x 1", "test:1: register expected near 'x'"},
		{"boolean operand", "EQ 0 1 2", "test:1: '0' or '1' expected near '2'"},
		{"main upvalues", "upval x local 0", "test:1: the main chunk only has the _ENV upvalue"},
		{"malformed number", "LOADK 0 #12abc", "test:1: malformed number near '#12abc'"},
		{"unknown upvalue", "function f 0\nupval x up nothing\nend", "test:2: unknown upvalue 'nothing'"},
		{"duplicate function", "function f 0\nend\nfunction f 0\nend", "test:3: function 'f' already defined"},
	}
	L := newTestState(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := loadError(t, L, tt.src, "t")
			if status != StatusErrSyntax || msg != tt.want {
				t.Errorf("got %v %q, want %q", status, msg, tt.want)
			}
			if L.Top() != 0 {
				t.Errorf("top %d after a failed load", L.Top())
			}
		})
	}
}

func TestLoadModes(t *testing.T) {
	L := newTestState(t)
	tests := []struct {
		name string
		src  string
		mode string
		want string
	}{
		{"text in binary mode", "LOADI 0 1", "b", "attempt to load a text chunk (mode is 'b')"},
		{"binary in text mode", "\x1bLua", "t", "attempt to load a binary chunk (mode is 't')"},
		{"binary", "\x1bLua", "bt", "test: binary chunks are not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := loadError(t, L, tt.src, tt.mode)
			if status != StatusErrSyntax || msg != tt.want {
				t.Errorf("got %v %q, want %q", status, msg, tt.want)
			}
		})
	}

	if status := L.Load(strings.NewReader("RETURN 0 1"), "=test", ""); status != StatusOK {
		t.Errorf("an empty mode should accept text, got %v", status)
	}
	L.Pop(1)

	status := L.Load(iotest.ErrReader(errors.New("boom")), "=test", "t")
	if status != StatusErrSyntax || show(L, -1) != "test: boom" {
		t.Errorf("reader error: %v %s", status, show(L, -1))
	}
}

// =============================================================================
// Disassembly
// =============================================================================

func TestDisassemble(t *testing.T) {
	L := newTestState(t)
	load(t, L, `function add 2
ADD 2 0 #3
RETURN 2 2
end
loop:
CLOSURE 0 add
LOADK 1 "s"
LOADK 1 "s"
JMP loop`)
	listing := L.Disassemble(-1)
	for _, want := range []string{
		"== main chunk <test:0,9> (5 instructions) ==\n",
		"0+ params, 2 slots, 1 upvalues, 0 locals, 1 constants, 1 functions\n",
		"loop:\n0000    6 CLOSURE",
		"; add\n",
		"; \"s\"\n",
		"; to 0\n",
		"0004    | RETURN",
		"== add <test:1,4> (2 instructions) ==\n",
		"2 params, 3 slots, 0 upvalues, 0 locals, 1 constants, 0 functions\n",
		"ADD ", "2 0 k0",
		"; 3\n",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}
	if i, j := strings.Index(listing, "== main chunk"), strings.Index(listing, "== add"); i < 0 || j < i {
		t.Error("nested functions should follow their parent")
	}

	L.PushInteger(1)
	if got := L.Disassemble(-1); got != "" {
		t.Errorf("Disassemble of a number = %q", got)
	}
}

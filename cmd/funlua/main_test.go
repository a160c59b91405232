package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	funlua "github.com/funvibe/funlua/pkg/embed"
)

const countChunk = `LOADI 0 0
LOADI 2 5000
loop:
NEWTABLE 1 0 0
ADD 0 0 #1
LT 0 2 1
JMP loop
RETURN 0 2
`

func writeChunk(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.lasm")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Argument parsing
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want cliOptions
	}{
		{"file only", []string{"a.lasm"}, cliOptions{file: "a.lasm", limit: funlua.DefaultBudget}},
		{"flags", []string{"-d", "-limit", "10", "-config", "c.yaml", "a.lasm"},
			cliOptions{file: "a.lasm", config: "c.yaml", limit: 10, disasm: true}},
		{"script args", []string{"-v", "a.lasm", "-x", "y"},
			cliOptions{file: "a.lasm", limit: funlua.DefaultBudget, verbosity: 1, scriptArgs: []string{"-x", "y"}}},
		{"stdin", []string{"-trace", "t.cbor", "-"},
			cliOptions{file: "-", trace: "t.cbor", limit: funlua.DefaultBudget}},
		{"no limit", []string{"-limit", "0", "-vv"}, cliOptions{verbosity: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if err != nil {
				t.Fatalf("parseArgs: %v", err)
			}
			if diff := cmp.Diff(tt.want, *got, cmp.AllowUnexported(cliOptions{})); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown", []string{"-x"}, "unknown flag -x"},
		{"missing value", []string{"-limit"}, "flag -limit needs a value"},
		{"bad limit", []string{"-limit", "lots"}, "invalid instruction limit"},
		{"negative limit", []string{"-limit", "-3"}, "invalid instruction limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want an error containing %q", err, tt.want)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "nil"},
		{true, "true"},
		{int64(-3), "-3"},
		{2.0, "2.0"},
		{0.1, "0.1"},
		{1e100, "1e+100"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
		{"s", "s"},
		{[]any{int64(1), "a"}, "{1, a}"},
		{map[any]any{"b": int64(2), "a": 1.5}, "{a = 1.5, b = 2}"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Running chunks
// =============================================================================

func TestRun(t *testing.T) {
	path := writeChunk(t, countChunk)
	var out bytes.Buffer
	if code := run(&cliOptions{file: path, limit: funlua.DefaultBudget}, &out); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if got := out.String(); got != "5000\n" {
		t.Errorf("output %q", got)
	}
}

func TestRunLimit(t *testing.T) {
	path := writeChunk(t, countChunk)
	var out bytes.Buffer
	if code := run(&cliOptions{file: path, limit: 100}, &out); code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunDisassemble(t *testing.T) {
	path := writeChunk(t, countChunk)
	var out bytes.Buffer
	if code := run(&cliOptions{file: path, disasm: true}, &out); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	listing := out.String()
	for _, want := range []string{"== main chunk", "loop:", "NEWTABLE", "JMP", "to 2"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}
}

func TestRunConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "funlua.toml")
	if err := os.WriteFile(cfg, []byte("[gc]\nmode = \"generational\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeChunk(t, "LOADI 0 1\nRETURN 0 2\n")
	var out bytes.Buffer
	if code := run(&cliOptions{file: path, config: cfg, limit: 0}, &out); code != 0 {
		t.Fatalf("exit code %d", code)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("max_stack: 1\n"), 0644)
	if code := run(&cliOptions{file: path, config: bad}, &out); code != 1 {
		t.Errorf("exit code %d for an invalid config, want 1", code)
	}
}

// =============================================================================
// GC trace
// =============================================================================

func TestTraceRecords(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	events := []funlua.GCEvent{
		{Kind: "full", Mode: "incremental", TotalBytes: 4096, Estimate: 4000, Live: 12, Freed: 100, At: at},
		{Kind: "minor", Mode: "generational", TotalBytes: 8192, Estimate: 8000, Live: 40, At: at.Add(time.Second)},
	}
	var buf bytes.Buffer
	tw := newTraceWriter(&buf)
	for _, ev := range events {
		tw.observe(ev)
	}
	if tw.err != nil || tw.events != 2 {
		t.Fatalf("writer state: %d events, err %v", tw.events, tw.err)
	}
	got, err := readTrace(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := readTrace(strings.NewReader("\xff\xff")); err == nil {
		t.Error("expected a decoding error")
	}
}

func TestRunTrace(t *testing.T) {
	path := writeChunk(t, countChunk)
	trace := filepath.Join(t.TempDir(), "gc.cbor")
	var out bytes.Buffer
	if code := run(&cliOptions{file: path, trace: trace, limit: funlua.DefaultBudget}, &out); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	f, err := os.Open(trace)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events, err := readTrace(f)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if ev.Mode != "incremental" || ev.TotalBytes <= 0 {
			t.Errorf("unexpected record %+v", ev)
		}
	}

	out.Reset()
	if code := run(&cliOptions{showTrace: trace}, &out); code != 0 {
		t.Fatalf("show-trace exit code %d", code)
	}
	if n := strings.Count(out.String(), "\n"); n != len(events) {
		t.Errorf("show-trace printed %d lines for %d records", n, len(events))
	}
}

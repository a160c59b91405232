package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	funlua "github.com/funvibe/funlua/pkg/embed"
)

const usage = `Usage: funlua [options] [file.lasm | -] [args...]

Runs an assembly chunk and prints its results. Without a file, or with
"-", the chunk is read from stdin.

Options:
  -config FILE   read runtime options from a .yaml, .yml or .toml file
  -limit N       stop after N interpreted instructions (0: no limit, default %d)
  -trace FILE    write a CBOR record for every garbage collection to FILE
  -show-trace F  print the records of a trace file and exit
  -d             print the disassembled chunk instead of running it
  -v             verbose logging (repeat for more)
  -h, --help     show this help
`

type cliOptions struct {
	file       string
	config     string
	trace      string
	showTrace  string
	limit      int
	disasm     bool
	help       bool
	verbosity  int
	scriptArgs []string
}

func parseArgs(args []string) (*cliOptions, error) {
	o := &cliOptions{limit: funlua.DefaultBudget}
	value := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", flag)
		}
		return args[i+1], nil
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if o.file != "" {
			o.scriptArgs = append(o.scriptArgs, arg)
			continue
		}
		var err error
		switch arg {
		case "-h", "-help", "--help":
			o.help = true
		case "-d":
			o.disasm = true
		case "-v":
			o.verbosity++
		case "-vv":
			o.verbosity += 2
		case "-config":
			o.config, err = value(i, arg)
			i++
		case "-trace":
			o.trace, err = value(i, arg)
			i++
		case "-show-trace":
			o.showTrace, err = value(i, arg)
			i++
		case "-limit":
			var s string
			if s, err = value(i, arg); err == nil {
				o.limit, err = strconv.Atoi(s)
				if err != nil || o.limit < 0 {
					err = fmt.Errorf("invalid instruction limit %q", s)
				}
			}
			i++
		case "-":
			o.file = arg
		default:
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("unknown flag %s", arg)
			}
			o.file = arg
		}
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// colorEnabled reports whether diagnostics on f may use ANSI colours.
func colorEnabled(f *os.File) bool {
	// NO_COLOR convention: https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func reportError(err error) {
	if colorEnabled(os.Stderr) {
		fmt.Fprintf(os.Stderr, "\x1b[1;31merror:\x1b[0m %s\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
}

func readInput(file string) ([]byte, string, error) {
	if file == "" || file == "-" {
		// Read from stdin
		stat, _ := os.Stdin.Stat()
		if file == "" && stat != nil && stat.Mode()&os.ModeCharDevice != 0 {
			return nil, "", fmt.Errorf("no input; pass a file or pipe a chunk on stdin")
		}
		src, err := io.ReadAll(os.Stdin)
		return src, "=stdin", err
	}
	src, err := os.ReadFile(file)
	return src, "@" + file, err
}

// formatValue renders a result the way the runtime's tostring would for
// scalars, and structurally for tables.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case float64:
		return formatFloat(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case map[any]any:
		parts := make([]string, 0, len(x))
		for k, e := range x {
			parts = append(parts, formatValue(k)+" = "+formatValue(e))
		}
		sort.Strings(parts)
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func run(o *cliOptions, stdout io.Writer) int {
	if o.showTrace != "" {
		if err := showTrace(o.showTrace, stdout); err != nil {
			reportError(err)
			return 1
		}
		return 0
	}

	opts := funlua.DefaultOptions()
	if o.config != "" {
		var err error
		if opts, err = funlua.LoadOptions(o.config); err != nil {
			reportError(err)
			return 1
		}
	}
	rt, err := funlua.NewWithOptions(opts)
	if err != nil {
		reportError(err)
		return 1
	}
	defer rt.Close()
	rt.SetBudget(o.limit)

	src, chunkname, err := readInput(o.file)
	if err != nil {
		reportError(err)
		return 1
	}

	if o.disasm {
		L := rt.State()
		if status := L.Load(bytes.NewReader(src), chunkname, "t"); status != funlua.StatusOK {
			reportError(funlua.StatusError(L, status))
			return 1
		}
		fmt.Fprint(stdout, L.Disassemble(-1))
		L.Pop(1)
		return 0
	}

	if o.trace != "" {
		f, err := os.Create(o.trace)
		if err != nil {
			reportError(err)
			return 1
		}
		defer f.Close()
		tw := newTraceWriter(f)
		rt.State().SetGCObserver(tw.observe)
		defer func() {
			if tw.err != nil {
				reportError(tw.err)
			}
			if o.verbosity > 0 {
				fmt.Fprintf(os.Stderr, "%d collections traced to %s\n", tw.events, o.trace)
			}
		}()
	}

	if err := rt.Set("arg", o.scriptArgs); err != nil {
		reportError(err)
		return 1
	}
	results, err := rt.Exec(bytes.NewReader(src), chunkname)
	if err != nil {
		reportError(err)
		return 1
	}
	for _, v := range results {
		fmt.Fprintln(stdout, formatValue(v))
	}

	if o.verbosity > 0 {
		L := rt.State()
		stats := L.GCStats()
		fmt.Fprintf(os.Stderr, "runtime %s: %d KB in use, %d objects, %d cycles (%d minor, %d major), %d freed\n",
			rt.ID(), L.GC(funlua.GCCount), L.Live(), stats.Cycles, stats.Minor, stats.Major, stats.Freed)
	}
	return 0
}

func main() {
	// Catch panics and show user-friendly error
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r) // Re-panic to get stack trace
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			os.Exit(1)
		}
	}()

	o, err := parseArgs(os.Args[1:])
	if err != nil {
		reportError(err)
		fmt.Fprintf(os.Stderr, usage, funlua.DefaultBudget)
		os.Exit(2)
	}
	if o.help {
		fmt.Printf(usage, funlua.DefaultBudget)
		return
	}
	commonlog.Configure(o.verbosity, nil)
	os.Exit(run(o, os.Stdout))
}

package vm

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/funvibe/funlua/internal/config"
)

// The loader reads an assembly text:
//
//	; comment
//	function name nparams [vararg]
//	  upval name local REG | upval name up IDX
//	  local name REG
//	label:
//	  OPCODE operand, operand ...
//	end
//
// Instructions outside any function block form the main chunk, a vararg
// function whose only upvalue is _ENV. Registers and counts are integers;
// constants are quoted strings, nil, true, false or #number.

type operandKind byte

const (
	opdReg operandKind = iota
	opdInt
	opdConst
	opdRK
	opdUpval
	opdJump
	opdBool
	opdProto
)

// opFormat lists the operand kinds of an opcode and the field each one
// goes to: A, B, C, k, x (Bx), s (sBx) or j (sJ).
type opFormat struct {
	fields string
	kinds  []operandKind
}

var opFormats = func() [numOpcodes]opFormat {
	f := [numOpcodes]opFormat{
		OP_MOVE:      {"AB", []operandKind{opdReg, opdReg}},
		OP_LOADI:     {"As", []operandKind{opdReg, opdInt}},
		OP_LOADK:     {"Ax", []operandKind{opdReg, opdConst}},
		OP_LOADFALSE: {"A", []operandKind{opdReg}},
		OP_LOADTRUE:  {"A", []operandKind{opdReg}},
		OP_LOADNIL:   {"AB", []operandKind{opdReg, opdInt}},
		OP_GETUPVAL:  {"AB", []operandKind{opdReg, opdUpval}},
		OP_SETUPVAL:  {"AB", []operandKind{opdReg, opdUpval}},
		OP_GETTABUP:  {"ABC", []operandKind{opdReg, opdUpval, opdConst}},
		OP_SETTABUP:  {"ABC", []operandKind{opdUpval, opdConst, opdRK}},
		OP_GETTABLE:  {"ABC", []operandKind{opdReg, opdReg, opdReg}},
		OP_SETTABLE:  {"ABC", []operandKind{opdReg, opdReg, opdRK}},
		OP_GETFIELD:  {"ABC", []operandKind{opdReg, opdReg, opdConst}},
		OP_SETFIELD:  {"ABC", []operandKind{opdReg, opdConst, opdRK}},
		OP_NEWTABLE:  {"ABC", []operandKind{opdReg, opdInt, opdInt}},
		OP_UNM:       {"AB", []operandKind{opdReg, opdReg}},
		OP_BNOT:      {"AB", []operandKind{opdReg, opdReg}},
		OP_NOT:       {"AB", []operandKind{opdReg, opdReg}},
		OP_LEN:       {"AB", []operandKind{opdReg, opdReg}},
		OP_CONCAT:    {"AB", []operandKind{opdReg, opdInt}},
		OP_CLOSE:     {"A", []operandKind{opdReg}},
		OP_TBC:       {"A", []operandKind{opdReg}},
		OP_JMP:       {"j", []operandKind{opdJump}},
		OP_EQ:        {"ABk", []operandKind{opdReg, opdReg, opdBool}},
		OP_LT:        {"ABk", []operandKind{opdReg, opdReg, opdBool}},
		OP_LE:        {"ABk", []operandKind{opdReg, opdReg, opdBool}},
		OP_TEST:      {"Ak", []operandKind{opdReg, opdBool}},
		OP_CALL:      {"ABC", []operandKind{opdReg, opdInt, opdInt}},
		OP_RETURN:    {"AB", []operandKind{opdReg, opdInt}},
		OP_CLOSURE:   {"Ax", []operandKind{opdReg, opdProto}},
		OP_VARARG:    {"AC", []operandKind{opdReg, opdInt}},
	}
	for op := OP_ADD; op <= OP_SHR; op++ {
		f[op] = opFormat{"ABC", []operandKind{opdReg, opdReg, opdRK}}
	}
	return f
}()

// asmConst is a constant before it is materialized.
type asmConst struct {
	tt Tag
	s  string
	n  uint64
}

type asmFixup struct {
	pc, line int
	label    string
}

// asmFunc is a function being assembled.
type asmFunc struct {
	parent    *asmFunc
	name      string
	line      int
	lastLine  int
	numParams int
	isVararg  bool
	maxStack  int

	code     []Instruction
	lines    []int32
	consts   []asmConst
	constIdx map[asmConst]int
	children []*asmFunc
	upvals   []upvalDesc
	locals   []locVar
	labels   map[string]int
	labelAt  map[string]int // label -> line
	fixups   []asmFixup
}

func newAsmFunc(parent *asmFunc, name string, line int) *asmFunc {
	return &asmFunc{
		parent:   parent,
		name:     name,
		line:     line,
		maxStack: 2,
		constIdx: make(map[asmConst]int),
		labels:   make(map[string]int),
		labelAt:  make(map[string]int),
	}
}

// asmError is a syntax error at a line of the chunk.
type asmError struct {
	line int
	msg  string
}

func (e *asmError) Error() string { return fmt.Sprintf("%d: %s", e.line, e.msg) }

type assembler struct {
	line int
	fn   *asmFunc
}

func (a *assembler) errorf(format string, args ...any) error {
	return &asmError{line: a.line, msg: fmt.Sprintf(format, args...)}
}

// assemble parses a whole chunk into its main function.
func assemble(src []byte) (*asmFunc, error) {
	main := newAsmFunc(nil, config.MainChunkName, 0)
	main.isVararg = true
	main.upvals = []upvalDesc{{name: config.EnvName, inStack: true, idx: 0}}
	a := &assembler{fn: main}
	lines := bytes.Split(src, []byte("\n"))
	for i, raw := range lines {
		a.line = i + 1
		fields, err := a.splitFields(string(raw))
		if err != nil {
			return nil, err
		}
		if err := a.statement(fields); err != nil {
			return nil, err
		}
	}
	if a.fn != main {
		return nil, a.errorf("'end' expected (to close 'function' at line %d) near <eof>", a.fn.line)
	}
	main.lastLine = a.line
	if err := a.finish(main); err != nil {
		return nil, err
	}
	return main, nil
}

func (a *assembler) splitFields(line string) ([]string, error) {
	var out []string
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == ';':
			return out, nil
		case c == ' ' || c == '\t' || c == '\r' || c == ',':
			i++
		case c == '"':
			q, err := strconv.QuotedPrefix(line[i:])
			if err != nil {
				return nil, a.errorf("unfinished string")
			}
			out = append(out, q)
			i += len(q)
		default:
			j := i
			for j < len(line) && !strings.ContainsRune(" \t\r,;\"", rune(line[j])) {
				j++
			}
			out = append(out, line[i:j])
			i = j
		}
	}
	return out, nil
}

func (a *assembler) statement(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	f := a.fn
	head := fields[0]
	if strings.HasSuffix(head, ":") {
		name := strings.TrimSuffix(head, ":")
		if !isName(name) {
			return a.errorf("malformed label near '%s'", head)
		}
		if prev, ok := f.labelAt[name]; ok {
			return a.errorf("label '%s' already defined on line %d", name, prev)
		}
		f.labels[name] = len(f.code)
		f.labelAt[name] = a.line
		return a.statement(fields[1:])
	}
	switch head {
	case "function":
		return a.function(fields[1:])
	case "end":
		if f.parent == nil {
			return a.errorf("'end' without function")
		}
		if len(fields) > 1 {
			return a.errorf("unexpected symbol near '%s'", fields[1])
		}
		f.lastLine = a.line
		if err := a.finish(f); err != nil {
			return err
		}
		a.fn = f.parent
		return nil
	case "upval":
		return a.upval(fields[1:])
	case "local":
		if len(fields) != 3 || !isName(fields[1]) {
			return a.errorf("malformed local declaration")
		}
		reg, err := a.register(fields[2])
		if err != nil {
			return err
		}
		f.locals = append(f.locals, locVar{name: fields[1], reg: reg, startpc: len(f.code), endpc: -1})
		return nil
	}
	op, ok := opcodeByName[strings.ToUpper(head)]
	if !ok {
		return a.errorf("unknown instruction near '%s'", head)
	}
	return a.instruction(op, fields[1:])
}

func (a *assembler) function(args []string) error {
	if len(args) < 2 || len(args) > 3 || !isName(args[0]) {
		return a.errorf("malformed function header")
	}
	nparams, err := strconv.Atoi(args[1])
	if err != nil || nparams < 0 || nparams > maxArgA {
		return a.errorf("invalid parameter count near '%s'", args[1])
	}
	parent := a.fn
	if _, dup := parent.childIndex(args[0]); dup {
		return a.errorf("function '%s' already defined", args[0])
	}
	f := newAsmFunc(parent, args[0], a.line)
	f.numParams = nparams
	f.touch(nparams)
	if len(args) == 3 {
		if args[2] != "vararg" {
			return a.errorf("'vararg' expected near '%s'", args[2])
		}
		f.isVararg = true
	}
	parent.children = append(parent.children, f)
	a.fn = f
	return nil
}

func (f *asmFunc) childIndex(name string) (int, bool) {
	for i, c := range f.children {
		if c.name == name {
			return i, true
		}
	}
	return 0, false
}

func (a *assembler) upval(args []string) error {
	f := a.fn
	if f.parent == nil {
		return a.errorf("the main chunk only has the %s upvalue", config.EnvName)
	}
	if len(args) != 3 || !isName(args[0]) {
		return a.errorf("malformed upvalue declaration")
	}
	if len(f.upvals) >= config.MaxUpval {
		return a.errorf("too many upvalues (limit is %d)", config.MaxUpval)
	}
	desc := upvalDesc{name: args[0]}
	switch args[1] {
	case "local":
		reg, err := a.register(args[2])
		if err != nil {
			return err
		}
		desc.inStack, desc.idx = true, reg
	case "up":
		idx, err := f.parent.upvalIndex(args[2])
		if err != nil {
			return a.errorf("%v", err)
		}
		desc.idx = idx
	default:
		return a.errorf("'local' or 'up' expected near '%s'", args[1])
	}
	f.upvals = append(f.upvals, desc)
	return nil
}

func (f *asmFunc) upvalIndex(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(f.upvals) {
			return 0, fmt.Errorf("upvalue %d out of range", n)
		}
		return n, nil
	}
	for i, uv := range f.upvals {
		if uv.name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown upvalue '%s'", s)
}

func (a *assembler) register(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, a.errorf("register expected near '%s'", s)
	}
	if n >= maxArgA {
		return 0, a.errorf("function or expression needs too many registers")
	}
	a.fn.touch(n + 1)
	return n, nil
}

// touch grows the frame so that n registers fit.
func (f *asmFunc) touch(n int) {
	if n > f.maxStack {
		f.maxStack = n
	}
}

func (a *assembler) integer(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, a.errorf("integer expected near '%s'", s)
	}
	return n, nil
}

func (a *assembler) constant(s string) (asmConst, error) {
	switch {
	case s == "nil":
		return asmConst{tt: tagNil}, nil
	case s == "true":
		return asmConst{tt: tagTrue}, nil
	case s == "false":
		return asmConst{tt: tagFalse}, nil
	case strings.HasPrefix(s, `"`):
		str, err := strconv.Unquote(s)
		if err != nil {
			return asmConst{}, a.errorf("invalid escape sequence near '%s'", s)
		}
		return asmConst{tt: tagShortStr, s: str}, nil
	case strings.HasPrefix(s, "#"):
		v, ok := str2num(s[1:])
		if !ok {
			return asmConst{}, a.errorf("malformed number near '%s'", s)
		}
		return asmConst{tt: v.tt, n: v.n}, nil
	}
	return asmConst{}, a.errorf("constant expected near '%s'", s)
}

func (f *asmFunc) addConst(c asmConst) int {
	if i, ok := f.constIdx[c]; ok {
		return i
	}
	i := len(f.consts)
	f.consts = append(f.consts, c)
	f.constIdx[c] = i
	return i
}

func isConstToken(s string) bool {
	return s == "nil" || s == "true" || s == "false" ||
		strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "#")
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		alpha := c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
		if !alpha && (i == 0 || c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func (a *assembler) instruction(op Opcode, args []string) error {
	f := a.fn
	form := opFormats[op]
	if len(args) != len(form.kinds) {
		return a.errorf("'%s' expects %d operands, got %d", op, len(form.kinds), len(args))
	}
	var fields [3]int // A, B, C
	var bx int
	kbit := false
	var label string
	for j, kind := range form.kinds {
		s := args[j]
		var v int
		var err error
		switch kind {
		case opdReg:
			v, err = a.register(s)
		case opdInt:
			v, err = a.integer(s)
		case opdConst:
			var c asmConst
			if c, err = a.constant(s); err == nil {
				v = f.addConst(c)
			}
		case opdRK:
			if isConstToken(s) {
				var c asmConst
				if c, err = a.constant(s); err == nil {
					v = f.addConst(c)
					kbit = true
				}
			} else {
				v, err = a.register(s)
			}
		case opdUpval:
			if v, err = f.upvalIndex(s); err != nil {
				err = a.errorf("%v", err)
			}
		case opdJump:
			if n, convErr := strconv.Atoi(s); convErr == nil {
				v = n
			} else if isName(s) {
				label = s
			} else {
				err = a.errorf("label expected near '%s'", s)
			}
		case opdBool:
			switch s {
			case "1", "true":
				v = 1
			case "0", "false":
			default:
				err = a.errorf("'0' or '1' expected near '%s'", s)
			}
		case opdProto:
			if n, convErr := strconv.Atoi(s); convErr == nil {
				v = n
				if n < 0 || n >= len(f.children) {
					err = a.errorf("function %d is not defined", n)
				}
			} else {
				var ok bool
				if v, ok = f.childIndex(s); !ok {
					err = a.errorf("function '%s' is not defined", s)
				}
			}
		}
		if err != nil {
			return err
		}
		switch form.fields[j] {
		case 'A':
			fields[0] = v
		case 'B':
			fields[1] = v
		case 'C':
			fields[2] = v
		case 'k':
			kbit = v != 0
		default:
			bx = v
		}
	}
	if err := a.checkRanges(op, form, fields, bx); err != nil {
		return err
	}
	a.touchOperands(op, fields)

	var i Instruction
	switch {
	case op == OP_LOADK || op == OP_CLOSURE:
		i = createABx(op, fields[0], bx)
	case op == OP_LOADI:
		i = createAsBx(op, fields[0], bx)
	case op == OP_JMP:
		i = createSJ(op, bx)
	default:
		i = createABCk(op, fields[0], fields[1], fields[2], kbit)
	}
	if label != "" {
		f.fixups = append(f.fixups, asmFixup{pc: len(f.code), line: a.line, label: label})
	}
	if op == OP_VARARG && !f.isVararg {
		return a.errorf("cannot use VARARG outside a vararg function")
	}
	f.code = append(f.code, i)
	f.lines = append(f.lines, int32(a.line))
	return nil
}

func (a *assembler) checkRanges(op Opcode, form opFormat, fields [3]int, bx int) error {
	for j, name := range form.fields {
		switch name {
		case 'B', 'C':
			v := fields[1]
			if name == 'C' {
				v = fields[2]
			}
			if v < 0 || v > maxArgB {
				if form.kinds[j] == opdConst || form.kinds[j] == opdRK {
					return a.errorf("too many constants for '%s'", op)
				}
				return a.errorf("operand %d of '%s' out of range", j+1, op)
			}
		case 'x':
			if bx < 0 || bx > maxArgBx {
				return a.errorf("too many constants")
			}
		case 's':
			if bx < -offsetSBx || bx > maxArgBx-offsetSBx {
				return a.errorf("integer %d does not fit in LOADI", bx)
			}
		case 'j':
			if bx < -offsetSJ || bx > maxArgSJ-offsetSJ {
				return a.errorf("jump too long")
			}
		}
	}
	return nil
}

// touchOperands grows the frame to cover register ranges given by counts.
func (a *assembler) touchOperands(op Opcode, fields [3]int) {
	f := a.fn
	ra, b, c := fields[0], fields[1], fields[2]
	switch op {
	case OP_LOADNIL:
		f.touch(ra + b + 1)
	case OP_CONCAT:
		f.touch(ra + b)
	case OP_CALL:
		f.touch(ra + b)
		f.touch(ra + c - 1)
	case OP_RETURN:
		f.touch(ra + b - 1)
	case OP_VARARG:
		f.touch(ra + c - 1)
	}
}

// finish resolves jumps, closes locals and appends the final return.
func (a *assembler) finish(f *asmFunc) error {
	for _, fx := range f.fixups {
		target, ok := f.labels[fx.label]
		if !ok {
			a.line = fx.line
			return a.errorf("no visible label '%s' for JMP", fx.label)
		}
		off := target - (fx.pc + 1)
		f.code[fx.pc] = createSJ(OP_JMP, off)
	}
	needReturn := len(f.code) == 0 || f.code[len(f.code)-1].op() != OP_RETURN
	for _, pc := range f.labels {
		if pc == len(f.code) {
			needReturn = true
		}
	}
	if needReturn {
		f.code = append(f.code, createABCk(OP_RETURN, 0, 1, 0, false))
		f.lines = append(f.lines, int32(f.lastLine))
	}
	for i := range f.locals {
		if f.locals[i].endpc < 0 {
			f.locals[i].endpc = len(f.code)
		}
	}
	if f.maxStack > maxArgA {
		a.line = f.line
		return a.errorf("function or expression needs too many registers")
	}
	return nil
}

// Materialization

func (L *State) buildProto(f *asmFunc, source string) *Proto {
	p := &Proto{
		name:        f.name,
		source:      source,
		numParams:   f.numParams,
		isVararg:    f.isVararg,
		maxStack:    f.maxStack,
		code:        f.code,
		lineInfo:    f.lines,
		k:           make([]Value, len(f.consts)),
		p:           make([]handle, len(f.children)),
		upvals:      f.upvals,
		locVars:     f.locals,
		lineDefined: f.line,
		lastLine:    f.lastLine,
	}
	if len(f.labels) > 0 {
		p.labels = make(map[int]string, len(f.labels))
		for name, pc := range f.labels {
			p.labels[pc] = name
		}
	}
	for i := range p.k {
		p.k[i] = nilValue
	}
	L.newProto(p)
	return p
}

// fillProto creates the string constants and the nested prototypes of p.
// Every new object is reachable from p before the next allocation.
func (L *State) fillProto(p *Proto, f *asmFunc) {
	g := L.g
	for i, c := range f.consts {
		v := Value{tt: c.tt, n: c.n}
		if c.tt == tagShortStr {
			v = L.newStringValue(c.s)
		}
		p.k[i] = v
		g.barrier(p, v)
	}
	for i, child := range f.children {
		cp := L.buildProto(child, p.source)
		p.p[i] = cp.self
		g.objBarrier(p, cp.self)
		L.fillProto(cp, child)
	}
}

// parseChunk reads and assembles a chunk, leaving its main closure on top.
func (L *State) parseChunk(r io.Reader, chunkname, mode string) {
	src, err := io.ReadAll(r)
	if err != nil {
		L.pushString(fmt.Sprintf("%s: %v", chunkID(chunkname), err))
		L.throw(StatusErrSyntax)
	}
	kind := "text"
	if len(src) > 0 && src[0] == 0x1b {
		kind = "binary"
	}
	if mode != "" && !strings.ContainsRune(mode, rune(kind[0])) {
		L.pushString(fmt.Sprintf("attempt to load a %s chunk (mode is '%s')", kind, mode))
		L.throw(StatusErrSyntax)
	}
	if kind == "binary" {
		L.pushString(fmt.Sprintf("%s: binary chunks are not supported", chunkID(chunkname)))
		L.throw(StatusErrSyntax)
	}
	main, err := assemble(src)
	if err != nil {
		L.pushString(fmt.Sprintf("%s:%v", chunkID(chunkname), err))
		L.throw(StatusErrSyntax)
	}
	L.checkStack(1)
	cl := L.g.newLuaClosure(L, 0, len(main.upvals))
	L.stack[L.top] = cl.value()
	L.top++
	L.initUpvals(cl)
	p := L.buildProto(main, chunkname)
	cl.p = p.self
	L.g.objBarrier(cl, p.self)
	L.fillProto(p, main)
}

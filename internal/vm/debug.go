package vm

import (
	"fmt"
	"strings"

	"github.com/funvibe/funlua/internal/config"
)

// Debug describes an active function or a hook event.
type Debug struct {
	Event           HookEvent
	Name            string // a reasonable name for the function, or ""
	NameWhat        string // "global", "local", "field", "upvalue", "method", "metamethod", "hook" or ""
	What            string // "Lua", "Go" or "main"
	Source          string
	ShortSrc        string
	CurrentLine     int
	LineDefined     int
	LastLineDefined int
	NUps            int
	NParams         int
	IsVararg        bool
	IsTailCall      bool
	FTransfer       int
	NTransfer       int

	ci *callInfo
}

// chunkID shortens a chunk name for messages. "=name" is used verbatim,
// "@file" is a file name, anything else is the source text itself.
func chunkID(source string) string {
	const bufLen = config.IDSize - 1
	switch {
	case strings.HasPrefix(source, "="):
		s := source[1:]
		if len(s) > bufLen {
			s = s[:bufLen]
		}
		return s
	case strings.HasPrefix(source, "@"):
		s := source[1:]
		if len(s) <= bufLen {
			return s
		}
		return "..." + s[len(s)-(bufLen-3):]
	}
	const pre, pos, dots = `[string "`, `"]`, "..."
	avail := bufLen - len(pre) - len(pos) - len(dots)
	line := source
	truncated := false
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
		truncated = true
	}
	if len(line) > avail {
		line = line[:avail]
		truncated = true
	}
	if truncated {
		return pre + line + dots + pos
	}
	return pre + line + pos
}

// Line information

func (p *Proto) lineAt(pc int) int {
	if pc < 0 || pc >= len(p.lineInfo) {
		return -1
	}
	return int(p.lineInfo[pc])
}

func (p *Proto) changedLine(oldpc, newpc int) bool {
	if len(p.lineInfo) == 0 {
		return false
	}
	return p.lineAt(oldpc) != p.lineAt(newpc)
}

func (L *State) frameProto(ci *callInfo) *Proto {
	return L.g.proto(L.g.lcl(L.stack[ci.fn].handle()).p)
}

// currentPC is the instruction being executed by an interpreted frame.
func currentPC(ci *callInfo) int {
	if ci.savedpc == 0 {
		return 0
	}
	return ci.savedpc - 1
}

func (L *State) currentLine(ci *callInfo) int {
	return L.frameProto(ci).lineAt(currentPC(ci))
}

// Names

// localNameAt returns the name of register reg active at pc.
func (p *Proto) localNameAt(reg, pc int) string {
	for _, lv := range p.locVars {
		if lv.reg == reg && lv.startpc <= pc && pc < lv.endpc {
			return lv.name
		}
	}
	return ""
}

// localName names slot n (1-based) of frame ci.
func (L *State) localName(ci *callInfo, n int) string {
	if ci.isLua() {
		if name := L.frameProto(ci).localNameAt(n-1, currentPC(ci)); name != "" {
			return name
		}
	}
	limit := L.top
	if ci != L.ci {
		limit = ci.next.fn
	}
	if n > 0 && limit-ci.fn > n {
		if ci.isLua() {
			return "(temporary)"
		}
		return "(Go temporary)"
	}
	return ""
}

func (p *Proto) upvalName(i int) string {
	if i < len(p.upvals) && p.upvals[i].name != "" {
		return p.upvals[i].name
	}
	return "?"
}

// findSetReg finds the last instruction before lastpc that sets reg,
// ignoring those made conditional by a forward jump.
func (p *Proto) findSetReg(lastpc, reg int) int {
	setreg := -1
	jmptarget := 0
	for pc := 0; pc < lastpc; pc++ {
		i := p.code[pc]
		a := i.a()
		change := false
		switch i.op() {
		case OP_LOADNIL:
			change = a <= reg && reg <= a+i.b()
		case OP_CALL:
			change = reg >= a
		case OP_JMP:
			dest := pc + 1 + i.sj()
			if dest <= lastpc && dest > jmptarget {
				jmptarget = dest
			}
		case OP_SETUPVAL, OP_SETTABUP, OP_SETTABLE, OP_SETFIELD, OP_EQ, OP_LT,
			OP_LE, OP_TEST, OP_RETURN, OP_CLOSE, OP_TBC:
		default:
			change = a == reg
		}
		if change {
			if pc < jmptarget {
				setreg = -1
			} else {
				setreg = pc
			}
		}
	}
	return setreg
}

func (g *global) constName(p *Proto, k int) string {
	if k < len(p.k) && p.k[k].isString() {
		return g.strValue(p.k[k])
	}
	return "?"
}

// objName describes what register reg holds at lastpc: its kind and name.
func (g *global) objName(p *Proto, lastpc, reg int) (string, string) {
	if name := p.localNameAt(reg, lastpc); name != "" {
		return "local", name
	}
	pc := p.findSetReg(lastpc, reg)
	if pc < 0 {
		return "", ""
	}
	i := p.code[pc]
	switch i.op() {
	case OP_MOVE:
		if b := i.b(); b < i.a() {
			return g.objName(p, pc, b)
		}
	case OP_GETTABUP:
		return g.indexedKind(p.upvalName(i.b())), g.constName(p, i.c())
	case OP_GETFIELD:
		_, t := g.objName(p, pc, i.b())
		return g.indexedKind(t), g.constName(p, i.c())
	case OP_GETTABLE:
		name := "?"
		if kind, n := g.objName(p, pc, i.c()); kind == "constant" {
			name = n
		}
		_, t := g.objName(p, pc, i.b())
		return g.indexedKind(t), name
	case OP_GETUPVAL:
		return "upvalue", p.upvalName(i.b())
	case OP_LOADK:
		if k := i.bx(); k < len(p.k) && p.k[k].isString() {
			return "constant", g.strValue(p.k[k])
		}
	}
	return "", ""
}

// indexedKind is "global" for fields of _ENV.
func (g *global) indexedKind(table string) string {
	if table == config.EnvName {
		return "global"
	}
	return "field"
}

func formatVarInfo(kind, name string) string {
	if kind == "" {
		return ""
	}
	return fmt.Sprintf(" (%s '%s')", kind, name)
}

func sameValue(a, b Value) bool {
	if a.tt != b.tt || a.n != b.n {
		return false
	}
	return a.tt != tagLightUserdata || a.p == b.p
}

// varInfo describes v when it is an operand of the running instruction.
func (L *State) varInfo(v Value) string {
	ci := L.ci
	if !ci.isLua() {
		return ""
	}
	g := L.g
	cl := g.lcl(L.stack[ci.fn].handle())
	p := g.proto(cl.p)
	pc := currentPC(ci)
	if pc >= len(p.code) {
		return ""
	}
	i := p.code[pc]
	base := ci.fn + 1
	var regs []int
	upval := -1
	switch op := i.op(); {
	case op == OP_GETTABUP:
		upval = i.b()
	case op == OP_SETTABUP:
		upval = i.a()
	case op == OP_GETTABLE:
		regs = []int{i.b(), i.c()}
	case op == OP_EQ, op == OP_LT, op == OP_LE:
		regs = []int{i.a(), i.b()}
	case op == OP_GETFIELD, op == OP_UNM, op == OP_BNOT, op == OP_LEN:
		regs = []int{i.b()}
	case op.isArith():
		regs = []int{i.b()}
		if !i.k() {
			regs = append(regs, i.c())
		}
	case op == OP_SETTABLE, op == OP_SETFIELD, op == OP_CALL:
		regs = []int{i.a()}
	case op == OP_CONCAT:
		for r := i.a(); r < i.a()+i.b(); r++ {
			regs = append(regs, r)
		}
	}
	if upval >= 0 && upval < len(cl.upvals) && sameValue(g.upval(cl.upvals[upval]).get(), v) {
		return formatVarInfo("upvalue", p.upvalName(upval))
	}
	for _, r := range regs {
		if base+r < len(L.stack) && sameValue(L.stack[base+r], v) {
			return formatVarInfo(g.objName(p, pc, r))
		}
	}
	return ""
}

// funcNameFromCode names the function called by instruction pc: the
// called register for CALL, the metamethod event for everything else.
func (g *global) funcNameFromCode(p *Proto, pc int) (string, string) {
	var e tm
	i := p.code[pc]
	switch op := i.op(); {
	case op == OP_CALL:
		return g.objName(p, pc, i.a())
	case op == OP_GETTABUP, op == OP_GETTABLE, op == OP_GETFIELD:
		e = tmIndex
	case op == OP_SETTABUP, op == OP_SETTABLE, op == OP_SETFIELD:
		e = tmNewindex
	case op.isArith():
		e = tmAdd + tm(op-OP_ADD)
	case op == OP_UNM:
		e = tmUnm
	case op == OP_BNOT:
		e = tmBNot
	case op == OP_LEN:
		e = tmLen
	case op == OP_CONCAT:
		e = tmConcat
	case op == OP_EQ:
		e = tmEq
	case op == OP_LT:
		e = tmLt
	case op == OP_LE:
		e = tmLe
	case op == OP_CLOSE, op == OP_RETURN:
		e = tmClose
	default:
		return "", ""
	}
	return "metamethod", tmNames[e][2:]
}

// funcNameFromCall names the function being called by frame ci.
func (L *State) funcNameFromCall(ci *callInfo) (string, string) {
	switch {
	case ci.callstatus&cistHooked != 0:
		return "hook", "?"
	case ci.callstatus&cistFin != 0:
		return "metamethod", "__gc"
	case ci.isLua():
		return L.g.funcNameFromCode(L.frameProto(ci), currentPC(ci))
	}
	return "", ""
}

// funcNameInfo describes the value at slot fn about to be called.
func (L *State) funcNameInfo(fn int) string {
	if kind, name := L.funcNameFromCall(L.ci); kind != "" {
		return formatVarInfo(kind, name)
	}
	return L.varInfo(L.stack[fn])
}

// Stack inspection

// GetStack returns the activation record of the function running at the
// given level: 0 is the current function, 1 its caller and so on.
func (L *State) GetStack(level int) (*Debug, bool) {
	L.lock()
	defer L.unlock()
	if level < 0 {
		return nil, false
	}
	ci := L.ci
	for ; level > 0 && ci != &L.baseCI; ci = ci.previous {
		level--
	}
	if level != 0 || ci == &L.baseCI {
		return nil, false
	}
	return &Debug{ci: ci}, true
}

// GetInfo fills ar according to what: 'S' source, 'l' current line, 'u'
// upvalues and parameters, 'n' name, 't' tail call, 'r' transfer; 'f'
// pushes the function and 'L' a table of its valid lines. With a leading
// '>' the function is taken from the top of the stack instead of ar.
func (L *State) GetInfo(what string, ar *Debug) bool {
	L.lock()
	defer L.unlock()
	var ci *callInfo
	var fn Value
	if strings.HasPrefix(what, ">") {
		fn = L.stack[L.top-1]
		L.apiCheck(fn.isFunction(), "getinfo", "function expected")
		what = what[1:]
		L.top--
	} else {
		ci = ar.ci
		fn = L.stack[ci.fn]
	}
	ok := L.auxGetInfo(what, ar, fn, ci)
	if strings.IndexByte(what, 'f') >= 0 {
		L.stack[L.top] = fn
		L.apiIncrTop()
	}
	if strings.IndexByte(what, 'L') >= 0 {
		L.collectValidLines(fn)
	}
	return ok
}

func (L *State) auxGetInfo(what string, ar *Debug, fn Value, ci *callInfo) bool {
	g := L.g
	var p *Proto
	var nups int
	switch fn.tt {
	case tagLuaClosure:
		cl := g.lcl(fn.handle())
		p = g.proto(cl.p)
		nups = len(cl.upvals)
	case tagGoClosure:
		nups = len(g.gcl(fn.handle()).upvalue)
	}
	ok := true
	for _, c := range what {
		switch c {
		case 'S':
			if p == nil {
				ar.Source = "=[Go]"
				ar.LineDefined, ar.LastLineDefined = -1, -1
				ar.What = "Go"
			} else {
				ar.Source = p.source
				ar.LineDefined, ar.LastLineDefined = p.lineDefined, p.lastLine
				ar.What = "Lua"
				if p.lineDefined == 0 {
					ar.What = "main"
				}
			}
			ar.ShortSrc = chunkID(ar.Source)
		case 'l':
			ar.CurrentLine = -1
			if ci != nil && ci.isLua() {
				ar.CurrentLine = L.currentLine(ci)
			}
		case 'u':
			ar.NUps = nups
			if p == nil {
				ar.IsVararg, ar.NParams = true, 0
			} else {
				ar.IsVararg, ar.NParams = p.isVararg, p.numParams
			}
		case 't':
			ar.IsTailCall = ci != nil && ci.callstatus&cistTail != 0
		case 'n':
			ar.NameWhat, ar.Name = "", ""
			if ci != nil && ci.callstatus&cistTail == 0 && ci.previous != nil {
				ar.NameWhat, ar.Name = L.funcNameFromCall(ci.previous)
			}
		case 'r':
			if ci == nil || ci.callstatus&cistTran == 0 {
				ar.FTransfer, ar.NTransfer = 0, 0
			} else {
				ar.FTransfer, ar.NTransfer = ci.ftransfer, ci.ntransfer
			}
		case 'L', 'f':
		default:
			ok = false
		}
	}
	return ok
}

// collectValidLines pushes a table whose keys are the lines with code, or
// nil for a Go function.
func (L *State) collectValidLines(fn Value) {
	if !fn.isLuaClosure() {
		L.stack[L.top] = nilValue
		L.apiIncrTop()
		return
	}
	p := L.g.proto(L.g.lcl(fn.handle()).p)
	t := L.newTable()
	L.stack[L.top] = t.value()
	L.apiIncrTop()
	for _, line := range p.lineInfo {
		L.tableSetInt(t, int64(line), trueValue)
	}
}

// Where pushes "chunk:line: " for the function at the given level, or an
// empty string when it has no line information.
func (L *State) Where(level int) {
	if ar, ok := L.GetStack(level); ok {
		L.GetInfo("Sl", ar)
		if ar.CurrentLine > 0 {
			L.PushString(fmt.Sprintf("%s:%d: ", ar.ShortSrc, ar.CurrentLine))
			return
		}
	}
	L.PushString("")
}

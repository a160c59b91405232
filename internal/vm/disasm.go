package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a listing of the interpreted function at idx and of
// the functions nested in it, or "" when the value is not one.
func (L *State) Disassemble(idx int) string {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	if !v.isLuaClosure() {
		return ""
	}
	var sb strings.Builder
	L.g.disassemble(&sb, L.g.lcl(v.handle()).p)
	return sb.String()
}

func (g *global) disassemble(sb *strings.Builder, ph handle) {
	p := g.proto(ph)
	vararg := ""
	if p.isVararg {
		vararg = "+"
	}
	sb.WriteString(fmt.Sprintf("== %s <%s:%d,%d> (%d instructions) ==\n",
		p.name, chunkID(p.source), p.lineDefined, p.lastLine, len(p.code)))
	sb.WriteString(fmt.Sprintf("%d%s params, %d slots, %d upvalues, %d locals, %d constants, %d functions\n",
		p.numParams, vararg, p.maxStack, len(p.upvals), len(p.locVars), len(p.k), len(p.p)))
	for pc := range p.code {
		if name, ok := p.labels[pc]; ok {
			sb.WriteString(name + ":\n")
		}
		g.disassembleInstruction(sb, p, pc)
	}
	for _, child := range p.p {
		sb.WriteString("\n")
		g.disassemble(sb, child)
	}
}

func (g *global) disassembleInstruction(sb *strings.Builder, p *Proto, pc int) {
	i := p.code[pc]
	op := i.op()
	sb.WriteString(fmt.Sprintf("%04d ", pc))
	if pc > 0 && p.lineAt(pc) == p.lineAt(pc-1) {
		sb.WriteString("   | ")
	} else {
		sb.WriteString(fmt.Sprintf("%4d ", p.lineAt(pc)))
	}
	if op >= numOpcodes {
		sb.WriteString(fmt.Sprintf("%-10s %d\n", "UNKNOWN", uint32(i)))
		return
	}
	form := opFormats[op]
	args := make([]string, 0, len(form.kinds))
	var notes []string
	for j, kind := range form.kinds {
		var v int
		switch form.fields[j] {
		case 'A':
			v = i.a()
		case 'B':
			v = i.b()
		case 'C':
			v = i.c()
		case 'k':
			v = boolInt(i.k())
		case 'x':
			v = i.bx()
		case 's':
			v = i.sbx()
		case 'j':
			v = i.sj()
		}
		switch kind {
		case opdConst:
			notes = append(notes, g.constString(p, v))
		case opdRK:
			if i.k() {
				notes = append(notes, g.constString(p, v))
				args = append(args, "k"+strconv.Itoa(v))
				continue
			}
		case opdUpval:
			notes = append(notes, p.upvalName(v))
		case opdJump:
			notes = append(notes, fmt.Sprintf("to %d", pc+1+v))
		case opdProto:
			notes = append(notes, g.proto(p.p[v]).name)
		}
		args = append(args, strconv.Itoa(v))
	}
	line := fmt.Sprintf("%-10s %s", op, strings.Join(args, " "))
	if len(notes) > 0 {
		line = fmt.Sprintf("%-24s ; %s", line, strings.Join(notes, " "))
	}
	sb.WriteString(line + "\n")
}

func (g *global) constString(p *Proto, k int) string {
	if k >= len(p.k) {
		return "?"
	}
	v := p.k[k]
	switch {
	case v.isString():
		return strconv.Quote(g.strValue(v))
	case v.isNumber():
		return numberToString(v)
	case v.isNil():
		return "nil"
	case v.isFalse():
		return "false"
	default:
		return "true"
	}
}

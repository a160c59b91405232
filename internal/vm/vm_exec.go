package vm

// execute runs interpreted frames starting at ci until a frame marked
// fresh returns. Calls to interpreted functions reuse the loop; Go
// functions run inside precall.
func (L *State) execute(ci *callInfo) {
	g := L.g
startfunc:
	if L.hookMask != 0 && ci.savedpc == 0 {
		L.hookCall(ci)
	}
returning:
	cl := g.lcl(L.stack[ci.fn].handle())
	p := g.proto(cl.p)
	k := p.k
	base := ci.fn + 1
	pc := ci.savedpc
	for {
		if L.hookMask&(MaskLine|MaskCount) != 0 {
			L.traceExec(ci, pc)
		}
		i := p.code[pc]
		pc++
		ci.savedpc = pc
		if !i.isIT() {
			L.top = ci.top
		}
		ra := base + i.a()
		rkc := func() Value {
			if i.k() {
				return k[i.c()]
			}
			return L.stack[base+i.c()]
		}

		switch op := i.op(); op {
		case OP_MOVE:
			L.stack[ra] = L.stack[base+i.b()]
		case OP_LOADI:
			L.stack[ra] = intValue(int64(i.sbx()))
		case OP_LOADK:
			L.stack[ra] = k[i.bx()]
		case OP_LOADFALSE:
			L.stack[ra] = falseValue
		case OP_LOADTRUE:
			L.stack[ra] = trueValue
		case OP_LOADNIL:
			for j := 0; j <= i.b(); j++ {
				L.stack[ra+j] = nilValue
			}

		case OP_GETUPVAL:
			L.stack[ra] = g.upval(cl.upvals[i.b()]).get()
		case OP_SETUPVAL:
			uv := g.upval(cl.upvals[i.b()])
			v := L.stack[ra]
			uv.set(v)
			g.barrier(uv, v)
		case OP_GETTABUP:
			t := g.upval(cl.upvals[i.b()]).get()
			v := L.getValue(t, k[i.c()])
			L.stack[ra] = v
		case OP_SETTABUP:
			t := g.upval(cl.upvals[i.a()]).get()
			L.setValue(t, k[i.b()], rkc())
		case OP_GETTABLE:
			v := L.getValue(L.stack[base+i.b()], L.stack[base+i.c()])
			L.stack[ra] = v
		case OP_SETTABLE:
			L.setValue(L.stack[ra], L.stack[base+i.b()], rkc())
		case OP_GETFIELD:
			v := L.getValue(L.stack[base+i.b()], k[i.c()])
			L.stack[ra] = v
		case OP_SETFIELD:
			L.setValue(L.stack[ra], k[i.b()], rkc())
		case OP_NEWTABLE:
			t := L.createTable(i.b(), i.c())
			L.stack[ra] = t.value()
			L.checkGC()

		case OP_ADD, OP_SUB, OP_MUL, OP_MOD, OP_POW, OP_DIV, OP_IDIV,
			OP_BAND, OP_BOR, OP_BXOR, OP_SHL, OP_SHR:
			v := L.arith(ArithOp(op-OP_ADD), L.stack[base+i.b()], rkc())
			L.stack[ra] = v
		case OP_UNM:
			rb := L.stack[base+i.b()]
			v := L.arith(OpUnm, rb, rb)
			L.stack[ra] = v
		case OP_BNOT:
			rb := L.stack[base+i.b()]
			v := L.arith(OpBNot, rb, rb)
			L.stack[ra] = v
		case OP_NOT:
			L.stack[ra] = boolValue(L.stack[base+i.b()].isFalsy())
		case OP_LEN:
			v := L.objLen(L.stack[base+i.b()])
			L.stack[ra] = v
		case OP_CONCAT:
			n := i.b()
			L.top = ra + n
			L.concat(n)
			L.top = ci.top
			L.checkGC()

		case OP_CLOSE:
			L.closeFrom(ra, StatusOK, true)
		case OP_TBC:
			L.newTBC(ra)

		case OP_JMP:
			pc += i.sj()
		case OP_EQ:
			if L.equalObj(L.stack[ra], L.stack[base+i.b()], false) != i.k() {
				pc++
			}
		case OP_LT:
			if L.lessThan(L.stack[ra], L.stack[base+i.b()]) != i.k() {
				pc++
			}
		case OP_LE:
			if L.lessEqual(L.stack[ra], L.stack[base+i.b()]) != i.k() {
				pc++
			}
		case OP_TEST:
			if !L.stack[ra].isFalsy() != i.k() {
				pc++
			}

		case OP_CALL:
			if b := i.b(); b != 0 {
				L.top = ra + b
			}
			if newci := L.precall(ra, i.c()-1); newci != nil {
				ci = newci
				goto startfunc
			}
		case OP_RETURN:
			n := i.b() - 1
			if n < 0 {
				n = L.top - ra
			}
			if len(L.tbclist) > 0 && L.tbclist[len(L.tbclist)-1] >= base || L.hasOpenUpvals(base) {
				ci.nres = n
				if L.top < ci.top {
					L.top = ci.top
				}
				L.closeFrom(base, closeKTop, true)
			}
			if p.isVararg {
				ci.fn -= ci.nextraargs + p.numParams + 1
			}
			L.top = ra + n
			L.posCall(ci, n)
			if ci.callstatus&cistFresh != 0 {
				return
			}
			ci = ci.previous
			goto returning
		case OP_CLOSURE:
			L.pushClosure(p.p[i.bx()], cl, base, ra)
			L.checkGC()
		case OP_VARARG:
			L.getVarargs(ci, ra, i.c()-1)

		default:
			L.runError("invalid opcode %d", int(op))
		}
	}
}

// hasOpenUpvals reports whether some open upvalue refers to a slot at or
// above level.
func (L *State) hasOpenUpvals(level int) bool {
	return L.openupval != 0 && L.g.upval(L.openupval).idx >= level
}

// pushClosure creates a closure of prototype ph in slot ra, capturing
// locals of the running frame or the upvalues of enc.
func (L *State) pushClosure(ph handle, enc *LuaClosure, base, ra int) {
	g := L.g
	p := g.proto(ph)
	ncl := g.newLuaClosure(L, ph, len(p.upvals))
	L.stack[ra] = ncl.value()
	for j, uv := range p.upvals {
		if uv.inStack {
			ncl.upvals[j] = L.findUpval(base + uv.idx)
		} else {
			ncl.upvals[j] = enc.upvals[uv.idx]
		}
		g.objBarrier(ncl, ncl.upvals[j])
	}
}

// getVarargs copies wanted extra arguments of ci to slot where; a negative
// wanted copies all of them and sets the top after the last.
func (L *State) getVarargs(ci *callInfo, where, wanted int) {
	nextra := ci.nextraargs
	if wanted < 0 {
		wanted = nextra
		L.checkStackGC(nextra)
		L.top = where + nextra
	}
	j := 0
	for ; j < wanted && j < nextra; j++ {
		L.stack[where+j] = L.stack[ci.fn-nextra+j]
	}
	for ; j < wanted; j++ {
		L.stack[where+j] = nilValue
	}
}

// finishOp completes the instruction of the running interpreted frame
// that was interrupted by a yield inside a metamethod or a close.
func (L *State) finishOp() {
	ci := L.ci
	base := ci.fn + 1
	p := L.frameProto(ci)
	i := p.code[ci.savedpc-1]
	switch op := i.op(); {
	case op.isArith(), op == OP_UNM, op == OP_BNOT, op == OP_LEN,
		op == OP_GETTABUP, op == OP_GETTABLE, op == OP_GETFIELD:
		L.top--
		L.stack[base+i.a()] = L.stack[L.top]
	case op == OP_EQ, op == OP_LT, op == OP_LE:
		res := !L.stack[L.top-1].isFalsy()
		L.top--
		if res != i.k() {
			ci.savedpc++
		}
	case op == OP_CONCAT:
		top := L.top - 1
		total := top - 1 - (base + i.a())
		L.stack[top-2] = L.stack[top]
		L.top = top - 1
		L.concat(total)
	case op == OP_CLOSE:
		ci.savedpc-- // redo it to close the remaining slots
	case op == OP_RETURN:
		L.top = base + i.a() + ci.nres
		ci.savedpc--
	}
}

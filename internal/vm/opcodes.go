// Package vm implements the funlua runtime core: tagged values, the object
// heap and its collector, thread stacks, protected calls, and the
// index-based API used by embedding code.
package vm

// Opcode represents a single VM instruction.
type Opcode byte

// Instructions are 32 bits:
//
//	iABC:  op(7) A(8) k(1) B(8) C(8)
//	iABx:  op(7) A(8) Bx(17)
//	iAsBx: op(7) A(8) sBx(17)
//	isJ:   op(7) sJ(25)
type Instruction uint32

const (
	// Registers and constants
	OP_MOVE      Opcode = iota // R[A] := R[B]
	OP_LOADI                   // R[A] := sBx
	OP_LOADK                   // R[A] := K[Bx]
	OP_LOADFALSE               // R[A] := false
	OP_LOADTRUE                // R[A] := true
	OP_LOADNIL                 // R[A], ..., R[A+B] := nil

	// Upvalues and tables
	OP_GETUPVAL // R[A] := Up[B]
	OP_SETUPVAL // Up[B] := R[A]
	OP_GETTABUP // R[A] := Up[B][K[C]]
	OP_SETTABUP // Up[A][K[B]] := RK(C)
	OP_GETTABLE // R[A] := R[B][R[C]]
	OP_SETTABLE // R[A][R[B]] := RK(C)
	OP_GETFIELD // R[A] := R[B][K[C]]
	OP_SETFIELD // R[A][K[B]] := RK(C)
	OP_NEWTABLE // R[A] := {} sized for B array and C hash entries

	// Arithmetic: R[A] := R[B] op RK(C), in ArithOp order
	OP_ADD
	OP_SUB
	OP_MUL
	OP_MOD
	OP_POW
	OP_DIV
	OP_IDIV
	OP_BAND
	OP_BOR
	OP_BXOR
	OP_SHL
	OP_SHR

	// Unary
	OP_UNM  // R[A] := -R[B]
	OP_BNOT // R[A] := ~R[B]
	OP_NOT  // R[A] := not R[B]
	OP_LEN  // R[A] := #R[B]

	OP_CONCAT // R[A] := R[A] .. ... .. R[A+B-1]

	// Scopes
	OP_CLOSE // close upvalues and to-be-closed slots >= R[A]
	OP_TBC   // mark R[A] to be closed

	// Control flow
	OP_JMP  // pc += sJ
	OP_EQ   // if ((R[A] == R[B]) ~= k) then pc++
	OP_LT   // if ((R[A] <  R[B]) ~= k) then pc++
	OP_LE   // if ((R[A] <= R[B]) ~= k) then pc++
	OP_TEST // if (not R[A] == k) then pc++

	// Functions
	OP_CALL    // R[A], ..., R[A+C-2] := R[A](R[A+1], ..., R[A+B-1])
	OP_RETURN  // return R[A], ..., R[A+B-2]
	OP_CLOSURE // R[A] := closure(KPROTO[Bx])
	OP_VARARG  // R[A], ..., R[A+C-2] = vararg

	numOpcodes
)

// OpcodeNames maps opcodes to their assembler mnemonics.
var OpcodeNames = [numOpcodes]string{
	OP_MOVE:      "MOVE",
	OP_LOADI:     "LOADI",
	OP_LOADK:     "LOADK",
	OP_LOADFALSE: "LOADFALSE",
	OP_LOADTRUE:  "LOADTRUE",
	OP_LOADNIL:   "LOADNIL",

	OP_GETUPVAL: "GETUPVAL",
	OP_SETUPVAL: "SETUPVAL",
	OP_GETTABUP: "GETTABUP",
	OP_SETTABUP: "SETTABUP",
	OP_GETTABLE: "GETTABLE",
	OP_SETTABLE: "SETTABLE",
	OP_GETFIELD: "GETFIELD",
	OP_SETFIELD: "SETFIELD",
	OP_NEWTABLE: "NEWTABLE",

	OP_ADD:  "ADD",
	OP_SUB:  "SUB",
	OP_MUL:  "MUL",
	OP_MOD:  "MOD",
	OP_POW:  "POW",
	OP_DIV:  "DIV",
	OP_IDIV: "IDIV",
	OP_BAND: "BAND",
	OP_BOR:  "BOR",
	OP_BXOR: "BXOR",
	OP_SHL:  "SHL",
	OP_SHR:  "SHR",

	OP_UNM:  "UNM",
	OP_BNOT: "BNOT",
	OP_NOT:  "NOT",
	OP_LEN:  "LEN",

	OP_CONCAT: "CONCAT",
	OP_CLOSE:  "CLOSE",
	OP_TBC:    "TBC",

	OP_JMP:  "JMP",
	OP_EQ:   "EQ",
	OP_LT:   "LT",
	OP_LE:   "LE",
	OP_TEST: "TEST",

	OP_CALL:    "CALL",
	OP_RETURN:  "RETURN",
	OP_CLOSURE: "CLOSURE",
	OP_VARARG:  "VARARG",
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return OpcodeNames[op]
	}
	return "UNKNOWN"
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op, name := range OpcodeNames {
		m[name] = Opcode(op)
	}
	return m
}()

// Field layout
const (
	sizeOp = 7
	sizeA  = 8
	sizeB  = 8
	sizeC  = 8
	sizeBx = sizeC + sizeB + 1
	sizeSJ = sizeBx + sizeA

	posA  = sizeOp
	posK  = posA + sizeA
	posB  = posK + 1
	posC  = posB + sizeB
	posBx = posK
	posSJ = posA

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1
	maxArgSJ = 1<<sizeSJ - 1

	offsetSBx = maxArgBx >> 1
	offsetSJ  = maxArgSJ >> 1
)

func (i Instruction) op() Opcode { return Opcode(i & (1<<sizeOp - 1)) }
func (i Instruction) a() int     { return int(i>>posA) & maxArgA }
func (i Instruction) b() int     { return int(i>>posB) & maxArgB }
func (i Instruction) c() int     { return int(i>>posC) & maxArgC }
func (i Instruction) k() bool    { return i&(1<<posK) != 0 }
func (i Instruction) bx() int    { return int(i>>posBx) & maxArgBx }
func (i Instruction) sbx() int   { return i.bx() - offsetSBx }
func (i Instruction) sj() int    { return int(i>>posSJ)&maxArgSJ - offsetSJ }

func createABCk(op Opcode, a, b, c int, k bool) Instruction {
	i := Instruction(op) | Instruction(a)<<posA | Instruction(b)<<posB | Instruction(c)<<posC
	if k {
		i |= 1 << posK
	}
	return i
}

func createABx(op Opcode, a, bx int) Instruction {
	return Instruction(op) | Instruction(a)<<posA | Instruction(bx)<<posBx
}

func createAsBx(op Opcode, a, sbx int) Instruction {
	return createABx(op, a, sbx+offsetSBx)
}

func createSJ(op Opcode, sj int) Instruction {
	return Instruction(op) | Instruction(sj+offsetSJ)<<posSJ
}

// isIT reports whether the instruction takes its operand count from the
// stack top set by the previous instruction.
func (i Instruction) isIT() bool {
	switch i.op() {
	case OP_CALL, OP_RETURN:
		return i.b() == 0
	}
	return false
}

// isArith covers the binary arithmetic and bitwise opcodes.
func (op Opcode) isArith() bool { return op >= OP_ADD && op <= OP_SHR }

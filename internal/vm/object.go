package vm

// handle addresses an object in the arena: the low 32 bits are the slot
// index, the high 32 bits the slot's generation when the object was stored.
// The zero handle never names an object.
type handle uint64

func makeHandle(idx, gen uint32) handle {
	return handle(uint64(gen)<<32 | uint64(idx))
}

func (h handle) index() uint32 { return uint32(h) }
func (h handle) gen() uint32   { return uint32(h >> 32) }

// object is anything stored in the arena.
type object interface {
	gcHeader() *header
}

// header is shared by all collectable objects.
type header struct {
	next   handle // link in allgc, finobj, tobefnz or fixedgc
	gclist handle // link in one of the gray lists
	self   handle
	tt     Tag
	marked uint8
}

func (h *header) gcHeader() *header { return h }

// Bits of header.marked
const (
	ageBits      = 7 // bits 0-2
	bitWhite0    = 3
	bitWhite1    = 4
	bitBlack     = 5
	bitFinalized = 6

	whiteBits  uint8 = 1<<bitWhite0 | 1<<bitWhite1
	maskColors uint8 = whiteBits | 1<<bitBlack
	maskGCBits uint8 = maskColors | ageBits
)

// Object ages in generational mode
const (
	ageNew      = 0 // created in current cycle
	ageSurvival = 1 // created in previous cycle
	ageOld0     = 2 // marked old by forward barrier in this cycle
	ageOld1     = 3 // first full cycle as old
	ageOld      = 4 // really old object (not to be visited)
	ageTouched1 = 5 // old object touched this cycle
	ageTouched2 = 6 // old object touched in previous cycle
)

func (h *header) isWhite() bool   { return h.marked&whiteBits != 0 }
func (h *header) isBlack() bool   { return h.marked&(1<<bitBlack) != 0 }
func (h *header) isGray() bool    { return h.marked&(whiteBits|1<<bitBlack) == 0 }
func (h *header) toFinalize() bool { return h.marked&(1<<bitFinalized) != 0 }

func (h *header) age() uint8     { return h.marked & ageBits }
func (h *header) setAge(a uint8) { h.marked = h.marked&^ageBits | a }
func (h *header) isOld() bool    { return h.age() > ageSurvival }

func (h *header) changeAge(from, to uint8) {
	h.marked ^= from ^ to
}

// set2gray clears all color bits.
func (h *header) set2gray() { h.marked &^= maskColors }

// set2black makes a (non-white) object black.
func (h *header) set2black() { h.marked = h.marked&^whiteBits | 1<<bitBlack }

// nw2black makes a gray object black; the object must not be white.
func (h *header) nw2black() { h.marked |= 1 << bitBlack }

// heapSlot is one arena cell. gen changes every time the cell is freed,
// which turns every outstanding handle to it stale.
type heapSlot struct {
	gen uint32
	obj object
}

// heap is the object arena. All collectable objects of one runtime live
// here and reference each other only by handle.
type heap struct {
	slots []heapSlot
	free  []uint32
	live  int
}

func newHeap() heap {
	return heap{slots: make([]heapSlot, 1, 256)}
}

func (hp *heap) add(o object) handle {
	var idx uint32
	if n := len(hp.free); n > 0 {
		idx = hp.free[n-1]
		hp.free = hp.free[:n-1]
	} else {
		idx = uint32(len(hp.slots))
		hp.slots = append(hp.slots, heapSlot{gen: 1})
	}
	s := &hp.slots[idx]
	s.obj = o
	hp.live++
	h := makeHandle(idx, s.gen)
	o.gcHeader().self = h
	return h
}

// get returns the object named by h, or nil if h is stale.
func (hp *heap) get(h handle) object {
	idx := h.index()
	if idx == 0 || int(idx) >= len(hp.slots) {
		return nil
	}
	s := &hp.slots[idx]
	if s.gen != h.gen() {
		return nil
	}
	return s.obj
}

func (hp *heap) contains(h handle) bool {
	return hp.get(h) != nil
}

func (hp *heap) remove(h handle) {
	idx := h.index()
	s := &hp.slots[idx]
	s.obj = nil
	s.gen++
	hp.free = append(hp.free, idx)
	hp.live--
}

// Approximate object sizes in bytes, used for memory accounting
const (
	sizeValue      = 16
	sizeNode       = 40
	sizeString     = 24
	sizeTable      = 56
	sizeUserdata   = 40
	sizeLuaClosure = 32
	sizeGoClosure  = 32
	sizeUpval      = 40
	sizeProto      = 120
	sizeThread     = 200
	sizeCallInfo   = 72
	sizeGlobal     = 1000
)

// Userdata is a block of host memory, or a host Go value, with an optional
// metatable and user values.
type Userdata struct {
	header
	meta  handle
	uv    []Value
	data  []byte
	value any
}

func userdataSize(nuv, size int) int {
	return sizeUserdata + nuv*sizeValue + size
}

// objectSize returns the accounted size of o.
func objectSize(o object) int {
	switch x := o.(type) {
	case *String:
		return stringSize(len(x.s))
	case *Table:
		return x.memSize()
	case *Userdata:
		return userdataSize(len(x.uv), len(x.data))
	case *LuaClosure:
		return luaClosureSize(len(x.upvals))
	case *GoClosure:
		return goClosureSize(len(x.upvalue))
	case *Upval:
		return sizeUpval
	case *Proto:
		return x.memSize()
	case *State:
		return x.memSize()
	}
	return 0
}

// Typed access to arena objects. The caller knows the tag.

func (g *global) obj(h handle) object { return g.heap.get(h) }

func (g *global) hdr(h handle) *header { return g.heap.get(h).gcHeader() }

func (g *global) str(h handle) *String { return g.heap.get(h).(*String) }

func (g *global) tbl(h handle) *Table { return g.heap.get(h).(*Table) }

func (g *global) udata(h handle) *Userdata { return g.heap.get(h).(*Userdata) }

func (g *global) lcl(h handle) *LuaClosure { return g.heap.get(h).(*LuaClosure) }

func (g *global) gcl(h handle) *GoClosure { return g.heap.get(h).(*GoClosure) }

func (g *global) upval(h handle) *Upval { return g.heap.get(h).(*Upval) }

func (g *global) proto(h handle) *Proto { return g.heap.get(h).(*Proto) }

func (g *global) thread(h handle) *State { return g.heap.get(h).(*State) }

// tagOf returns the stored tag of the object named by h.
func (g *global) tagOf(h handle) Tag { return g.hdr(h).tt }

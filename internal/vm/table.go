package vm

import (
	"math"
	"math/bits"
)

// Table is the associative array type: an array part for keys 1..n and a
// hash part for everything else. Entries whose value was cleared keep their
// key until the next rehash so that traversal with Next stays valid.
type Table struct {
	header
	flags uint8 // bit set means the metamethod is known to be absent
	meta  handle
	array []Value
	nodes []node
	index map[tkey]int32
	hsize int // hash capacity, zero or a power of 2
}

type node struct {
	key Value
	val Value
}

// tkey is the comparable form of a table key.
type tkey struct {
	tt Tag
	n  uint64
	p  any
}

// maxABits bounds the array part to 2^maxABits entries.
const maxABits = 31

func (t *Table) memSize() int {
	return sizeTable + len(t.array)*sizeValue + t.hsize*sizeNode
}

func ceilLog2(x int) int {
	if x <= 1 {
		return 0
	}
	return bits.Len(uint(x - 1))
}

// keyOf builds the lookup key. Floats with an integral value must already
// have been turned into integers.
func (g *global) keyOf(k Value) tkey {
	switch k.tt {
	case tagLongStr:
		return tkey{tt: tagLongStr, p: g.str(k.handle()).s}
	case tagLightUserdata:
		return tkey{tt: tagLightUserdata, p: k.p}
	}
	return tkey{tt: k.tt, n: k.n}
}

func intKey(i int64) tkey {
	return tkey{tt: tagInt, n: uint64(i)}
}

// normKey converts floats with integral values to integers.
func normKey(k Value) Value {
	if k.isFloat() {
		if i, ok := floatToInt(k.fval(), f2iEq); ok {
			return intValue(i)
		}
	}
	return k
}

// Lookup

func (t *Table) getInt(k int64) Value {
	if uint64(k)-1 < uint64(len(t.array)) {
		return t.array[k-1]
	}
	if t.index != nil {
		if i, ok := t.index[intKey(k)]; ok {
			return t.nodes[i].val
		}
	}
	return absentValue
}

func (t *Table) getShortStr(h handle) Value {
	if t.index != nil {
		if i, ok := t.index[tkey{tt: tagShortStr, n: uint64(h)}]; ok {
			return t.nodes[i].val
		}
	}
	return absentValue
}

// tableGet is the raw lookup. A missing key yields the absent value.
func (g *global) tableGet(t *Table, k Value) Value {
	switch k.tt {
	case tagInt:
		return t.getInt(k.ival())
	case tagShortStr:
		return t.getShortStr(k.handle())
	case tagNil, tagEmpty, tagAbsentKey:
		return absentValue
	case tagFloat:
		if i, ok := floatToInt(k.fval(), f2iEq); ok {
			return t.getInt(i)
		}
	}
	if t.index != nil {
		if i, ok := t.index[g.keyOf(k)]; ok {
			return t.nodes[i].val
		}
	}
	return absentValue
}

// Store

// tableSet stores v under k, creating the key if needed. The caller is
// responsible for the backward barrier on v.
func (L *State) tableSet(t *Table, k, v Value) {
	t.flags = 0
	k = normKey(k)
	if k.isInt() && uint64(k.ival())-1 < uint64(len(t.array)) {
		t.array[k.ival()-1] = v
		return
	}
	if !k.isNil() && t.index != nil {
		if i, ok := t.index[L.g.keyOf(k)]; ok {
			n := &t.nodes[i]
			if n.val.isEmpty() {
				// the stored key may be a collected object
				if v.isNil() {
					return
				}
				n.key = k
				L.g.barrierBack(t, k)
			}
			n.val = v
			return
		}
	}
	L.tableNewKey(t, k, v)
}

func (L *State) tableSetInt(t *Table, k int64, v Value) {
	t.flags = 0
	if uint64(k)-1 < uint64(len(t.array)) {
		t.array[k-1] = v
		return
	}
	L.tableSet(t, intValue(k), v)
}

func (L *State) tableNewKey(t *Table, k, v Value) {
	switch {
	case k.isNil():
		L.runError("index is nil")
	case k.isFloat():
		f := k.fval()
		if i, ok := floatToInt(f, f2iEq); ok {
			k = intValue(i)
		} else if math.IsNaN(f) {
			L.runError("index is NaN")
		}
	}
	if v.isNil() {
		return // nil values are not inserted
	}
	if len(t.nodes) >= t.hsize {
		L.rehash(t, k)
		L.tableSet(t, k, v)
		return
	}
	t.insertNode(L.g.keyOf(k), k, v)
	L.g.barrierBack(t, k)
}

func (t *Table) insertNode(tk tkey, k, v Value) {
	if t.index == nil {
		t.index = make(map[tkey]int32, t.hsize)
	}
	t.index[tk] = int32(len(t.nodes))
	t.nodes = append(t.nodes, node{key: k, val: v})
}

// Rehash

func arrayIndex(k int64) int {
	if uint64(k)-1 < 1<<maxABits {
		return int(k)
	}
	return 0
}

func countInt(k int64, nums []int) int {
	if i := arrayIndex(k); i != 0 {
		nums[ceilLog2(i)]++
		return 1
	}
	return 0
}

// numUseArray counts the keys in the array part, slicing by powers of 2.
func (t *Table) numUseArray(nums []int) int {
	ause := 0
	i := 1
	asize := len(t.array)
	for lg, ttlg := 0, 1; lg <= maxABits; lg, ttlg = lg+1, ttlg*2 {
		lc := 0
		lim := ttlg
		if lim > asize {
			lim = asize
			if i > lim {
				break
			}
		}
		for ; i <= lim; i++ {
			if !t.array[i-1].isEmpty() {
				lc++
			}
		}
		nums[lg] += lc
		ause += lc
	}
	return ause
}

func (t *Table) numUseHash(nums []int, na *int) int {
	total := 0
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.isEmpty() {
			continue
		}
		if n.key.isInt() {
			*na += countInt(n.key.ival(), nums)
		}
		total++
	}
	return total
}

// computeSizes picks the largest n such that more than half of the slots
// 1..n would be in use.
func computeSizes(nums []int, pna *int) int {
	a, na, optimal := 0, 0, 0
	for i, twotoi := 0, 1; twotoi > 0 && *pna > twotoi/2; i, twotoi = i+1, twotoi*2 {
		a += nums[i]
		if a > twotoi/2 {
			optimal = twotoi
			na = a
		}
	}
	*pna = na
	return optimal
}

func (L *State) rehash(t *Table, ek Value) {
	var nums [maxABits + 1]int
	na := t.numUseArray(nums[:])
	total := na
	total += t.numUseHash(nums[:], &na)
	if ek.isInt() {
		na += countInt(ek.ival(), nums[:])
	}
	total++
	asize := computeSizes(nums[:], &na)
	L.resizeTable(t, asize, total-na)
}

// resizeTable rebuilds both parts. Memory is accounted before the table is
// touched, so an allocation error leaves it intact.
func (L *State) resizeTable(t *Table, nasize, nhsize int) {
	hsize := 0
	if nhsize > 0 {
		hsize = 1 << ceilLog2(nhsize)
	}
	L.g.realloc(L, t.memSize(), sizeTable+nasize*sizeValue+hsize*sizeNode)

	oldArray, oldNodes := t.array, t.nodes
	t.array = make([]Value, nasize)
	n := copy(t.array, oldArray)
	for i := n; i < nasize; i++ {
		t.array[i] = emptyValue
	}
	t.nodes = make([]node, 0, hsize)
	t.index = nil
	t.hsize = hsize

	g := L.g
	for i := nasize; i < len(oldArray); i++ {
		if !oldArray[i].isEmpty() {
			t.insertNode(intKey(int64(i+1)), intValue(int64(i+1)), oldArray[i])
		}
	}
	for i := range oldNodes {
		nd := &oldNodes[i]
		if nd.val.isEmpty() {
			continue
		}
		if nd.key.isInt() && uint64(nd.key.ival())-1 < uint64(nasize) {
			t.array[nd.key.ival()-1] = nd.val
			continue
		}
		t.insertNode(g.keyOf(nd.key), nd.key, nd.val)
	}
}

// Length

// tableLength returns a border: an index n with t[n] present and t[n+1]
// absent, or 0 if t[1] is absent.
func (t *Table) tableLength() int64 {
	n := len(t.array)
	if n > 0 && t.array[n-1].isEmpty() {
		i, j := 0, n
		for j-i > 1 {
			m := (i + j) / 2
			if t.array[m-1].isEmpty() {
				j = m
			} else {
				i = m
			}
		}
		return int64(i)
	}
	if len(t.nodes) == 0 || t.getInt(int64(n)+1).isEmpty() {
		return int64(n)
	}
	return t.hashSearch(uint64(n))
}

func (t *Table) hashSearch(j uint64) int64 {
	var i uint64
	if j == 0 {
		j++
	}
	for {
		i = j
		if j <= uint64(math.MaxInt64)/2 {
			j *= 2
		} else {
			j = math.MaxInt64
			if t.getInt(int64(j)).isEmpty() {
				break
			}
			return int64(j)
		}
		if t.getInt(int64(j)).isEmpty() {
			break
		}
	}
	for j-i > 1 {
		m := (i + j) / 2
		if t.getInt(int64(m)).isEmpty() {
			j = m
		} else {
			i = m
		}
	}
	return int64(i)
}

// Traversal

// tableNext finds the entry following key. It reports false at the end.
func (L *State) tableNext(t *Table, key Value) (Value, Value, bool) {
	i := L.findIndex(t, key)
	for ; i < len(t.array); i++ {
		if !t.array[i].isEmpty() {
			return intValue(int64(i + 1)), t.array[i], true
		}
	}
	for i -= len(t.array); i < len(t.nodes); i++ {
		if n := &t.nodes[i]; !n.val.isEmpty() {
			return n.key, n.val, true
		}
	}
	return nilValue, nilValue, false
}

// findIndex returns the traversal position just after key.
func (L *State) findIndex(t *Table, key Value) int {
	if key.isNil() {
		return 0
	}
	key = normKey(key)
	if key.isInt() && uint64(key.ival())-1 < uint64(len(t.array)) {
		return int(key.ival())
	}
	if t.index != nil {
		if i, ok := t.index[L.g.keyOf(key)]; ok {
			return len(t.array) + int(i) + 1
		}
	}
	L.runError("invalid key to 'next'")
	return 0
}

// Creation

func (L *State) newTable() *Table {
	t := &Table{}
	L.newObject(t, tagTable, sizeTable)
	return t
}

func (L *State) createTable(narr, nrec int) *Table {
	t := L.newTable()
	if narr > 0 || nrec > 0 {
		L.resizeTable(t, narr, nrec)
	}
	return t
}

func (t *Table) value() Value {
	return gcValue(tagTable, t.self)
}

package upload

// chunkSet is a fixed-size bitmap over chunk indices [0, n). Membership
// insertion and the completeness check are O(1), idempotent re-insertion is
// a no-op.
type chunkSet struct {
	n     int
	count int
	words []uint64
}

func newChunkSet(n int) *chunkSet {
	return &chunkSet{n: n, words: make([]uint64, (n+63)/64)}
}

// add records idx, reporting whether it was newly set.
func (c *chunkSet) add(idx int) bool {
	w, b := idx/64, uint(idx%64)
	if c.words[w]&(1<<b) != 0 {
		return false
	}
	c.words[w] |= 1 << b
	c.count++
	return true
}

func (c *chunkSet) has(idx int) bool {
	return c.words[idx/64]&(1<<uint(idx%64)) != 0
}

// missing returns the unrecorded indices in ascending order.
func (c *chunkSet) missing() []int {
	out := make([]int, 0, c.n-c.count)
	for i := range c.n {
		if !c.has(i) {
			out = append(out, i)
		}
	}
	return out
}

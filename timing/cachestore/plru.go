package cachestore

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// TreePLRU is a binary-tree pseudo-LRU replacement policy. Each set keeps
// ways-1 direction bits arranged as a heap: bit k steers node k toward the
// half of the ways that was touched less recently. With at most 8 ways the
// per-set state fits in one byte.
//
// It implements the Akita cache VictimFinder interface so it can be plugged
// directly into a cache directory.
type TreePLRU struct {
	ways int
	bits []uint8
}

// NewTreePLRU creates the replacement state for a sets x ways array, with
// way 0 of every set as the initial victim.
func NewTreePLRU(sets, ways int) *TreePLRU {
	return &TreePLRU{
		ways: ways,
		bits: make([]uint8, sets),
	}
}

// Touch marks a way as most recently used: every tree node on the path to
// the way is flipped to point at the other half.
func (p *TreePLRU) Touch(set, way int) {
	node := 1
	lo, hi := 0, p.ways
	b := p.bits[set]

	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if way < mid {
			b |= 1 << uint(node)
			node = node * 2
			hi = mid
		} else {
			b &^= 1 << uint(node)
			node = node*2 + 1
			lo = mid
		}
	}

	p.bits[set] = b
}

// Victim walks the direction bits of a set and returns the way they select.
func (p *TreePLRU) Victim(set int) int {
	node := 1
	lo, hi := 0, p.ways
	b := p.bits[set]

	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if b&(1<<uint(node)) == 0 {
			node = node * 2
			hi = mid
		} else {
			node = node*2 + 1
			lo = mid
		}
	}

	return lo
}

// FindVictim picks the block to evict from a set: an invalid way when one
// exists, otherwise the way the tree bits point at.
func (p *TreePLRU) FindVictim(set *akitacache.Set) *akitacache.Block {
	for _, block := range set.Blocks {
		if !block.IsValid {
			return block
		}
	}

	setID := set.Blocks[0].SetID
	return set.Blocks[p.Victim(setID)]
}

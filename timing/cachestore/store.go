// Package cachestore provides the set-associative tag and data arrays shared
// by the instruction and data cache controllers. Tags are kept in an Akita
// cache directory; replacement uses a binary-tree pseudo-LRU policy.
package cachestore

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Geometry limits. The number of sets, ways and words per line must each be
// a power of two within these bounds; anything else is a construction error.
const (
	MaxSets  = 1024
	MaxWays  = 8
	MaxWords = 32
)

// CheckGeometry validates a (sets, ways, words-per-line) triple.
func CheckGeometry(sets, ways, words int) error {
	if sets < 1 || sets > MaxSets || !isPowerOfTwo(sets) {
		return fmt.Errorf(
			"sets must be a power of two in [1,%d], got %d", MaxSets, sets)
	}
	if ways < 1 || ways > MaxWays || !isPowerOfTwo(ways) {
		return fmt.Errorf(
			"ways must be a power of two in [1,%d], got %d", MaxWays, ways)
	}
	if words < 1 || words > MaxWords || !isPowerOfTwo(words) {
		return fmt.Errorf(
			"words per line must be a power of two in [1,%d], got %d",
			MaxWords, words)
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Store is one set-associative cache array: valid/tag state in an Akita
// directory, word data in a flat per-block slice, and a tree pseudo-LRU
// replacement state per set.
type Store struct {
	sets      int
	ways      int
	words     int
	lineBytes uint32

	directory *akitacache.DirectoryImpl
	plru      *TreePLRU
	data      [][]uint32
}

// New creates a zeroed, all-invalid Store with the given geometry.
func New(sets, ways, words int) (*Store, error) {
	if err := CheckGeometry(sets, ways, words); err != nil {
		return nil, err
	}

	plru := NewTreePLRU(sets, ways)
	s := &Store{
		sets:      sets,
		ways:      ways,
		words:     words,
		lineBytes: uint32(words) * 4,
		plru:      plru,
		directory: akitacache.NewDirectory(sets, ways, words*4, plru),
		data:      make([][]uint32, sets*ways),
	}
	for i := range s.data {
		s.data[i] = make([]uint32, words)
	}

	return s, nil
}

// Sets returns the number of sets.
func (s *Store) Sets() int { return s.sets }

// Ways returns the associativity.
func (s *Store) Ways() int { return s.ways }

// WordsPerLine returns the number of 32-bit words in a line.
func (s *Store) WordsPerLine() int { return s.words }

// LineBytes returns the line size in bytes.
func (s *Store) LineBytes() uint32 { return s.lineBytes }

// SetIndex extracts the set index from an address.
func (s *Store) SetIndex(addr uint32) int {
	return int(addr / s.lineBytes % uint32(s.sets))
}

// WordOffset extracts the word-in-line offset from an address.
func (s *Store) WordOffset(addr uint32) int {
	return int(addr >> 2 % uint32(s.words))
}

// LineAddr returns the line-aligned address.
func (s *Store) LineAddr(addr uint32) uint32 {
	return addr &^ (s.lineBytes - 1)
}

// Tag returns the tag bits of an address.
func (s *Store) Tag(addr uint32) uint32 {
	return addr / s.lineBytes / uint32(s.sets)
}

func (s *Store) blockIndex(set, way int) int {
	return set*s.ways + way
}

func (s *Store) blockAt(set, way int) *akitacache.Block {
	return s.directory.GetSets()[set].Blocks[way]
}

// Lookup tests the addressed word against the store. On hit it returns the
// word and refreshes the pseudo-LRU state of the set.
func (s *Store) Lookup(addr uint32) (hit bool, way int, data uint32) {
	block := s.directory.Lookup(0, uint64(s.LineAddr(addr)))
	if block == nil {
		return false, 0, 0
	}

	s.directory.Visit(block)
	s.plru.Touch(block.SetID, block.WayID)

	word := s.data[s.blockIndex(block.SetID, block.WayID)][s.WordOffset(addr)]
	return true, block.WayID, word
}

// Probe tests an address without disturbing replacement state. The snoop
// path uses it so that external traffic does not look like a local access.
func (s *Store) Probe(addr uint32) (set, way int, hit bool) {
	block := s.directory.Lookup(0, uint64(s.LineAddr(addr)))
	if block == nil {
		return s.SetIndex(addr), 0, false
	}
	return block.SetID, block.WayID, true
}

// WriteWord merges data into the addressed word under the given byte enable.
// It returns false without touching anything when the line is not present;
// write-through never allocates on a write miss.
func (s *Store) WriteWord(addr uint32, data uint32, be uint8) bool {
	block := s.directory.Lookup(0, uint64(s.LineAddr(addr)))
	if block == nil {
		return false
	}

	s.directory.Visit(block)
	s.plru.Touch(block.SetID, block.WayID)

	mask := beMask(be)
	word := &s.data[s.blockIndex(block.SetID, block.WayID)][s.WordOffset(addr)]
	*word = *word&^mask | data&mask
	return true
}

// SelectVictim returns the replacement candidate for the line holding addr,
// and whether that way currently holds a valid line that must be
// invalidated before the refill.
func (s *Store) SelectVictim(addr uint32) (way int, valid bool) {
	block := s.directory.FindVictim(uint64(s.LineAddr(addr)))
	return block.WayID, block.IsValid
}

// Fill installs a full line for addr into the given way, marks it valid and
// most recently used.
func (s *Store) Fill(addr uint32, way int, line []uint32) {
	set := s.SetIndex(addr)
	block := s.blockAt(set, way)
	block.Tag = uint64(s.LineAddr(addr))
	block.IsValid = true

	copy(s.data[s.blockIndex(set, way)], line)

	s.directory.Visit(block)
	s.plru.Touch(set, way)
}

// Invalidate clears the valid bit of one way.
func (s *Store) Invalidate(set, way int) {
	s.blockAt(set, way).IsValid = false
}

// Flush clears every valid bit in the store.
func (s *Store) Flush() {
	for _, set := range s.directory.GetSets() {
		for _, block := range set.Blocks {
			block.IsValid = false
		}
	}
}

func beMask(be uint8) uint32 {
	var mask uint32
	for i := 0; i < 4; i++ {
		if be&(1<<i) != 0 {
			mask |= 0xFF << (8 * i)
		}
	}
	return mask
}

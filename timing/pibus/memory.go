// Package pibus models the system side of the bus: a word-addressed memory
// target, the bus arbiter and response path, and a System harness that
// closes the loop between a cache subsystem and the bus cycle by cycle.
package pibus

// AddrRange is a half-open address interval [Base, Base+Size).
type AddrRange struct {
	Base uint32
	Size uint32
}

// Contains reports whether addr falls inside the range.
func (r AddrRange) Contains(addr uint32) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

// Memory is a sparse word-addressed memory target. Addresses inside an
// error range terminate transactions with a bus error; addresses inside a
// timeout range never respond at all.
type Memory struct {
	words map[uint32]uint32

	errorRanges   []AddrRange
	timeoutRanges []AddrRange
}

// NewMemory creates an empty memory. Unwritten words read as zero.
func NewMemory() *Memory {
	return &Memory{words: make(map[uint32]uint32)}
}

// AddErrorRange declares a range whose accesses fail with a bus error.
func (m *Memory) AddErrorRange(base, size uint32) {
	m.errorRanges = append(m.errorRanges, AddrRange{Base: base, Size: size})
}

// AddTimeoutRange declares a range whose accesses never complete.
func (m *Memory) AddTimeoutRange(base, size uint32) {
	m.timeoutRanges = append(m.timeoutRanges, AddrRange{Base: base, Size: size})
}

// IsError reports whether addr falls in an error range.
func (m *Memory) IsError(addr uint32) bool {
	for _, r := range m.errorRanges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether addr falls in a timeout range.
func (m *Memory) IsTimeout(addr uint32) bool {
	for _, r := range m.timeoutRanges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Read32 returns the word holding addr.
func (m *Memory) Read32(addr uint32) uint32 {
	return m.words[addr&^3]
}

// Write32 replaces the word holding addr.
func (m *Memory) Write32(addr, data uint32) {
	m.words[addr&^3] = data
}

// WriteBE merges data into the word holding addr under the byte-enable
// mask, one bit per byte, bit 0 enabling the least significant byte.
func (m *Memory) WriteBE(addr, data uint32, be uint8) {
	var mask uint32
	for i := 0; i < 4; i++ {
		if be&(1<<uint(i)) != 0 {
			mask |= 0xff << uint(8*i)
		}
	}
	w := addr &^ 3
	m.words[w] = m.words[w]&^mask | data&mask
}

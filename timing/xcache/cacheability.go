package xcache

// Cacheability reports whether an address belongs to a cacheable segment.
// The table is constructed externally, from the platform's segment map; the
// controllers only consume the per-address bit.
type Cacheability interface {
	IsCacheable(addr uint32) bool
}

// MSBTable is a cacheability lookup keyed by the high-order address bits,
// one bool per address slice.
type MSBTable struct {
	shift uint
	table []bool
}

// NewMSBTable creates a table decoding the top msbBits of every address.
// All addresses start out non-cacheable.
func NewMSBTable(msbBits int) *MSBTable {
	return &MSBTable{
		shift: uint(32 - msbBits),
		table: make([]bool, 1<<uint(msbBits)),
	}
}

// MarkCacheable flags every address slice overlapping [base, base+size) as
// cacheable.
func (t *MSBTable) MarkCacheable(base, size uint32) {
	first := base >> t.shift
	last := (base + size - 1) >> t.shift
	for i := first; i <= last; i++ {
		t.table[i] = true
	}
}

// IsCacheable looks up the slice holding addr.
func (t *MSBTable) IsCacheable(addr uint32) bool {
	return t.table[addr>>t.shift]
}

// AllCacheable marks every address cacheable.
type AllCacheable struct{}

// IsCacheable always reports true.
func (AllCacheable) IsCacheable(uint32) bool { return true }

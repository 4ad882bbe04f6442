// Package traffic drives a cache subsystem with pseudo-random processor
// requests and checks every response against a functional shadow of memory.
// Since the platform has a single requesting core, every data read must
// return the value of the program's own latest write, whatever the cache
// and write buffer are doing underneath.
package traffic

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/xcachesim/timing/pibus"
)

// Config describes one traffic run. Data accesses stay inside DataWindow
// words starting at DataBase; fetches stay inside FetchWindow words at
// FetchBase. The two regions must not overlap: the subsystem does not
// snoop its own writes, so a store landing on a cached instruction line
// would legitimately go stale.
type Config struct {
	Seed     int64
	Requests int

	DataBase    uint32
	DataWindow  int
	FetchBase   uint32
	FetchWindow int
}

// DefaultConfig returns a run of 10000 requests over a footprint small
// enough to produce plenty of cache reuse.
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		Requests:    10000,
		DataBase:    0x1000_0000,
		DataWindow:  256,
		FetchBase:   0x2000_0000,
		FetchWindow: 128,
	}
}

// Generator owns a run in progress.
type Generator struct {
	cfg Config
	sys *pibus.System
	rng *rand.Rand

	// shadow is the functional model: word address to last written value.
	shadow map[uint32]uint32

	loads   int
	stores  int
	fetches int
	llsc    int
}

// NewGenerator prepares a run against sys.
func NewGenerator(sys *pibus.System, cfg Config) *Generator {
	return &Generator{
		cfg:    cfg,
		sys:    sys,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		shadow: make(map[uint32]uint32),
	}
}

// Run issues the configured number of requests, checking each response as
// it completes, then drains the subsystem and audits the whole data
// footprint against the shadow. The first mismatch aborts the run.
func (g *Generator) Run() error {
	for i := 0; i < g.cfg.Requests; i++ {
		if err := g.step(); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}

	if err := g.sys.Drain(); err != nil {
		return err
	}
	return g.audit()
}

func (g *Generator) step() error {
	switch g.rng.Intn(10) {
	case 0, 1, 2, 3:
		return g.load()
	case 4, 5, 6:
		return g.store()
	case 7, 8:
		return g.fetch()
	default:
		return g.llscPair()
	}
}

func (g *Generator) dataAddr() uint32 {
	return g.cfg.DataBase + uint32(g.rng.Intn(g.cfg.DataWindow))*4
}

func (g *Generator) load() error {
	g.loads++
	addr := g.dataAddr()
	got, err := g.sys.Load(addr)
	if err != nil {
		return err
	}
	if want := g.shadow[addr]; got != want {
		return fmt.Errorf("load 0x%08x: got 0x%08x, want 0x%08x", addr, got, want)
	}
	return nil
}

func (g *Generator) store() error {
	g.stores++
	addr := g.dataAddr()
	data := g.rng.Uint32()
	be := uint8(0xf)
	if g.rng.Intn(4) == 0 {
		// Occasional partial write; never all-zero enables.
		be = uint8(g.rng.Intn(15) + 1)
	}

	if err := g.sys.Store(addr, data, be); err != nil {
		return err
	}
	g.shadowWrite(addr, data, be)
	return nil
}

func (g *Generator) fetch() error {
	g.fetches++
	addr := g.cfg.FetchBase + uint32(g.rng.Intn(g.cfg.FetchWindow))*4
	got, err := g.sys.Fetch(addr)
	if err != nil {
		return err
	}
	if want := g.sys.Mem.Read32(addr); got != want {
		return fmt.Errorf("fetch 0x%08x: got 0x%08x, want 0x%08x", addr, got, want)
	}
	return nil
}

// llscPair runs a reserving read immediately followed by the conditional
// write. With no competing master in between, the write must succeed.
func (g *Generator) llscPair() error {
	g.llsc++
	addr := g.dataAddr()

	got, err := g.sys.LoadLinked(addr)
	if err != nil {
		return err
	}
	if want := g.shadow[addr]; got != want {
		return fmt.Errorf("ll 0x%08x: got 0x%08x, want 0x%08x", addr, got, want)
	}

	data := got + 1
	ok, err := g.sys.StoreCond(addr, data, 0xf)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sc 0x%08x: reservation lost with no competing master", addr)
	}
	g.shadowWrite(addr, data, 0xf)
	return nil
}

func (g *Generator) shadowWrite(addr, data uint32, be uint8) {
	var mask uint32
	for i := 0; i < 4; i++ {
		if be&(1<<uint(i)) != 0 {
			mask |= 0xff << uint(8*i)
		}
	}
	w := addr &^ 3
	g.shadow[w] = g.shadow[w]&^mask | data&mask
}

// audit compares the drained memory against the shadow, word by word.
func (g *Generator) audit() error {
	for i := 0; i < g.cfg.DataWindow; i++ {
		addr := g.cfg.DataBase + uint32(i)*4
		if got, want := g.sys.Mem.Read32(addr), g.shadow[addr]; got != want {
			return fmt.Errorf("memory 0x%08x: got 0x%08x, want 0x%08x after drain",
				addr, got, want)
		}
	}
	return nil
}

// Summary reports the per-kind request counts of a finished run.
func (g *Generator) Summary() string {
	return fmt.Sprintf("loads %d  stores %d  fetches %d  ll/sc pairs %d",
		g.loads, g.stores, g.fetches, g.llsc)
}

package pibus_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/xcachesim/timing/pibus"
	"github.com/sarchlab/xcachesim/timing/xcache"
)

const (
	// cBase is inside the cacheable segment, uBase outside it.
	cBase = uint32(0x1000_0000)
	uBase = uint32(0x2000_0000)
)

// newSystem builds a small platform: 4-set 2-way caches with 16-byte
// lines, so misses, evictions and snoop hits are easy to provoke.
func newSystem(mod func(*xcache.Config)) *pibus.System {
	cfg := xcache.DefaultConfig()
	cfg.ICacheSets, cfg.ICacheWays, cfg.ICacheWords = 4, 2, 4
	cfg.DCacheSets, cfg.DCacheWays, cfg.DCacheWords = 4, 2, 4
	if mod != nil {
		mod(&cfg)
	}

	ct := xcache.NewMSBTable(4)
	ct.MarkCacheable(cBase, 0x1000_0000)

	sys, err := pibus.NewSystem(cfg, ct)
	Expect(err).NotTo(HaveOccurred())
	return sys
}

var _ = Describe("System", func() {
	Describe("data reads", func() {
		It("should miss cold and hit warm", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x100, 0xAB)

			got, err := sys.Load(cBase + 0x100)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xAB)))
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(1)))

			got, err = sys.Load(cBase + 0x100)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xAB)))

			stats := sys.Cache.Stats()
			Expect(stats.DMissCount).To(Equal(uint64(1)))
			Expect(stats.DReadCount).To(Equal(uint64(2)))
		})

		It("should fill whole lines", func() {
			sys := newSystem(nil)
			for w := uint32(0); w < 4; w++ {
				sys.Mem.Write32(cBase+0x100+w*4, 0xA0+w)
			}

			_, err := sys.Load(cBase + 0x100)
			Expect(err).NotTo(HaveOccurred())

			// The other words of the line hit without new transactions.
			for w := uint32(1); w < 4; w++ {
				got, err := sys.Load(cBase + 0x100 + w*4)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal(0xA0 + w))
			}
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(1)))
		})

		It("should evict the least recently used line when a set overflows", func() {
			sys := newSystem(nil)

			// 2 ways, 4 sets, 16-byte lines: stride 0x40 stays in set 0.
			lineA := cBase + 0x000
			lineB := cBase + 0x040
			lineC := cBase + 0x080

			for _, addr := range []uint32{lineA, lineB} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(2)))

			// B is most recently used; filling C must evict A.
			_, err := sys.Load(lineC)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(3)))

			_, err = sys.Load(lineB)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(3)))

			_, err = sys.Load(lineA)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(4)))
		})

		It("should survive memory wait states and slow grants", func() {
			sys := newSystem(nil)
			sys.Bus.Latency = 3
			sys.Bus.GrantLatency = 2
			sys.Mem.Write32(cBase+0x40, 0x1234_5678)

			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x1234_5678)))

			got, err = sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x1234_5678)))
		})
	})

	Describe("writes", func() {
		It("should post the write and read the new value back", func() {
			sys := newSystem(nil)

			Expect(sys.Store(cBase+0x80, 0xFEED_F00D, 0xF)).To(Succeed())

			got, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xFEED_F00D)))

			Expect(sys.Drain()).To(Succeed())
			Expect(sys.Mem.Read32(cBase + 0x80)).To(Equal(uint32(0xFEED_F00D)))
		})

		It("should update a hit line in place", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x80, 0x1111_1111)

			_, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())
			missesBefore := sys.Cache.Stats().DMissCount

			Expect(sys.Store(cBase+0x80, 0x2222_2222, 0xF)).To(Succeed())

			got, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x2222_2222)))
			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore))
		})

		It("should merge partial writes by byte enable", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x80, 0x1111_1111)

			_, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())

			Expect(sys.Store(cBase+0x80, 0xAABB_CCDD, 0x3)).To(Succeed())

			got, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x1111_CCDD)))

			Expect(sys.Drain()).To(Succeed())
			Expect(sys.Mem.Read32(cBase + 0x80)).To(Equal(uint32(0x1111_CCDD)))
		})

		It("should not allocate a line on a write miss", func() {
			sys := newSystem(nil)

			Expect(sys.Store(cBase+0x80, 0x5555_5555, 0xF)).To(Succeed())
			Expect(sys.Drain()).To(Succeed())

			_, err := sys.Load(cBase + 0x80)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(1)))
		})

		It("should stall the processor on a full write buffer, then recover", func() {
			sys := newSystem(func(cfg *xcache.Config) {
				cfg.WBufDepth = 2
			})
			sys.Bus.GrantLatency = 20

			for i := uint32(0); i < 4; i++ {
				Expect(sys.Store(cBase+i*4, i+1, 0xF)).To(Succeed())
			}

			stats := sys.Cache.Stats()
			Expect(stats.WriteCount).To(Equal(uint64(4)))
			Expect(stats.WriteFrz).To(BeNumerically(">", 0))

			Expect(sys.Drain()).To(Succeed())
			for i := uint32(0); i < 4; i++ {
				Expect(sys.Mem.Read32(cBase + i*4)).To(Equal(i + 1))
			}
		})

		It("should drain writes in program order", func() {
			sys := newSystem(nil)
			sys.Bus.GrantLatency = 5

			Expect(sys.Store(cBase+0x40, 0xAAAA_AAAA, 0xF)).To(Succeed())
			Expect(sys.Store(cBase+0x40, 0xBBBB_BBBB, 0xF)).To(Succeed())

			Expect(sys.Drain()).To(Succeed())
			Expect(sys.Mem.Read32(cBase + 0x40)).To(Equal(uint32(0xBBBB_BBBB)))
		})
	})

	Describe("uncacheable accesses", func() {
		It("should read memory directly every time", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(uBase+0x40, 0x77)

			for i := 0; i < 2; i++ {
				got, err := sys.Load(uBase + 0x40)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal(uint32(0x77)))
			}

			stats := sys.Cache.Stats()
			Expect(stats.DUncCount).To(Equal(uint64(2)))
			Expect(stats.DReadCount).To(Equal(uint64(0)))
			Expect(stats.DMissCount).To(Equal(uint64(0)))
		})

		It("should order an uncached read behind its own pending write", func() {
			sys := newSystem(nil)
			sys.Bus.GrantLatency = 10

			Expect(sys.Store(uBase+0x40, 0x99, 0xF)).To(Succeed())

			got, err := sys.Load(uBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x99)))
		})
	})

	Describe("LL/SC", func() {
		It("should complete an uncontended pair", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 5)

			got, err := sys.LoadLinked(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(5)))

			ok, err := sys.StoreCond(cBase+0x40, 6, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(sys.Drain()).To(Succeed())
			Expect(sys.Mem.Read32(cBase + 0x40)).To(Equal(uint32(6)))
			Expect(sys.Cache.Stats().SCOkCount).To(Equal(uint64(1)))
		})

		It("should fail a conditional store with no reservation", func() {
			sys := newSystem(nil)

			ok, err := sys.StoreCond(cBase+0x40, 6, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			Expect(sys.Drain()).To(Succeed())
			Expect(sys.Mem.Read32(cBase + 0x40)).To(Equal(uint32(0)))
			Expect(sys.Cache.Stats().SCKoCount).To(Equal(uint64(1)))
		})

		It("should fail a conditional store to a different address", func() {
			sys := newSystem(nil)

			_, err := sys.LoadLinked(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			ok, err := sys.StoreCond(cBase+0x44, 6, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should consume the reservation on success", func() {
			sys := newSystem(nil)

			_, err := sys.LoadLinked(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			ok, _ := sys.StoreCond(cBase+0x40, 1, 0xF)
			Expect(ok).To(BeTrue())
			ok, _ = sys.StoreCond(cBase+0x40, 2, 0xF)
			Expect(ok).To(BeFalse())
		})

		It("should lose the reservation to an external write", func() {
			sys := newSystem(nil)

			_, err := sys.LoadLinked(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			sys.Bus.InjectWrite(cBase+0x40, 0xDEAD)
			sys.StepIdle(10)

			ok, err := sys.StoreCond(cBase+0x40, 6, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should keep the reservation across unrelated external writes", func() {
			sys := newSystem(nil)

			_, err := sys.LoadLinked(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			sys.Bus.InjectWrite(cBase+0x980, 0xDEAD)
			sys.StepIdle(10)

			ok, err := sys.StoreCond(cBase+0x40, 6, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("snoop coherence", func() {
		It("should invalidate a line written by another master", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 0x1)

			_, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			missesBefore := sys.Cache.Stats().DMissCount

			sys.Bus.InjectWrite(cBase+0x40, 0x2)
			sys.StepIdle(10)

			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x2)))
			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore + 1))
		})

		It("should not invalidate on its own write-through traffic", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 0x1)

			_, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			missesBefore := sys.Cache.Stats().DMissCount

			Expect(sys.Store(cBase+0x40, 0x2, 0xF)).To(Succeed())
			Expect(sys.Drain()).To(Succeed())

			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x2)))
			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore))
		})

		It("should invalidate both lines written on consecutive cycles", func() {
			sys := newSystem(nil)
			lineA := cBase + 0x000
			lineB := cBase + 0x010
			sys.Mem.Write32(lineA, 0x11)
			sys.Mem.Write32(lineB, 0x22)

			for _, addr := range []uint32{lineA, lineB} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Drain()).To(Succeed())
			missesBefore := sys.Cache.Stats().DMissCount

			// Queued together, the bus places these back to back; the
			// second address cycle lands while the first invalidation is
			// still pending.
			sys.Bus.InjectWrite(lineA, 0xAA)
			sys.Bus.InjectWrite(lineB, 0xBB)
			sys.StepIdle(20)

			got, err := sys.Load(lineB)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xBB)))

			got, err = sys.Load(lineA)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xAA)))

			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore + 2))
		})

		It("should lose the reservation to a write behind a pending invalidation", func() {
			sys := newSystem(nil)
			lineX := cBase + 0x000
			lineR := cBase + 0x010

			_, err := sys.Load(lineX)
			Expect(err).NotTo(HaveOccurred())
			_, err = sys.LoadLinked(lineR)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Drain()).To(Succeed())

			// The write to the reserved address arrives while the
			// controller is still invalidating the first line.
			sys.Bus.InjectWrite(lineX, 0x1)
			sys.Bus.InjectWrite(lineR, 0x2)
			sys.StepIdle(20)

			ok, err := sys.StoreCond(lineR, 9, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should serve stale data with snooping disabled", func() {
			sys := newSystem(func(cfg *xcache.Config) {
				cfg.SnoopActive = false
			})
			sys.Mem.Write32(cBase+0x40, 0x1)

			_, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			sys.Bus.InjectWrite(cBase+0x40, 0x2)
			sys.StepIdle(10)

			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x1)))
		})

		It("should escalate a run of external hits to a full flush", func() {
			sys := newSystem(func(cfg *xcache.Config) {
				cfg.SnoopFlushThreshold = 2
			})

			lineA := cBase + 0x000
			lineB := cBase + 0x010
			lineC := cBase + 0x020
			for _, addr := range []uint32{lineA, lineB, lineC} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Drain()).To(Succeed())
			missesBefore := sys.Cache.Stats().DMissCount

			sys.Bus.InjectWrite(lineA, 0xAA)
			sys.StepIdle(10)
			sys.Bus.InjectWrite(lineB, 0xBB)
			sys.StepIdle(10)

			// lineC was never written externally; only the flush can
			// explain a miss on it.
			for _, addr := range []uint32{lineA, lineB, lineC} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore + 3))
		})

		It("should clear the reservation on a flush", func() {
			sys := newSystem(func(cfg *xcache.Config) {
				cfg.SnoopFlushThreshold = 2
			})

			lineA := cBase + 0x000
			lineB := cBase + 0x010
			lineC := cBase + 0x020
			for _, addr := range []uint32{lineA, lineB} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := sys.LoadLinked(lineC)
			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Drain()).To(Succeed())

			// lineC itself is never written externally; the reservation
			// dies with the flush.
			sys.Bus.InjectWrite(lineA, 0xAA)
			sys.StepIdle(10)
			sys.Bus.InjectWrite(lineB, 0xBB)
			sys.StepIdle(10)

			ok, err := sys.StoreCond(lineC, 9, 0xF)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should keep invalidating line by line below the threshold", func() {
			sys := newSystem(nil) // threshold 8

			lineA := cBase + 0x000
			lineC := cBase + 0x020
			for _, addr := range []uint32{lineA, lineC} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Drain()).To(Succeed())
			missesBefore := sys.Cache.Stats().DMissCount

			sys.Bus.InjectWrite(lineA, 0xAA)
			sys.StepIdle(10)

			for _, addr := range []uint32{lineA, lineC} {
				_, err := sys.Load(addr)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(sys.Cache.Stats().DMissCount).To(Equal(missesBefore + 1))
		})
	})

	Describe("line invalidation", func() {
		It("should force the next read to memory", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 0x1)

			_, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			// Change memory behind the cache's back, snoop aside.
			sys.Mem.Write32(cBase+0x40, 0x2)
			Expect(sys.LineInval(cBase + 0x40)).To(Succeed())

			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x2)))
		})

		It("should complete immediately on an absent line", func() {
			sys := newSystem(nil)
			Expect(sys.LineInval(cBase + 0x40)).To(Succeed())
		})
	})

	Describe("bus errors", func() {
		It("should report a precise error on a failing data read", func() {
			sys := newSystem(nil)
			sys.Mem.AddErrorRange(cBase+0x800, 0x100)

			_, err := sys.Load(cBase + 0x840)
			Expect(errors.Is(err, pibus.ErrBus)).To(BeTrue())

			// Nothing was filled: the next attempt misses and fails again.
			_, err = sys.Load(cBase + 0x840)
			Expect(errors.Is(err, pibus.ErrBus)).To(BeTrue())
			Expect(sys.Cache.Stats().DMissCount).To(Equal(uint64(2)))

			// A good read afterwards is unaffected.
			_, err = sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report a timeout as a read error", func() {
			sys := newSystem(nil)
			sys.Mem.AddTimeoutRange(cBase+0x800, 0x100)

			_, err := sys.Load(cBase + 0x840)
			Expect(errors.Is(err, pibus.ErrBus)).To(BeTrue())
		})

		It("should defer a posted write error to the next data read", func() {
			sys := newSystem(nil)
			sys.Mem.AddErrorRange(cBase+0x800, 0x100)
			sys.Mem.Write32(cBase+0x40, 0x1)

			// The store itself is accepted; the failure happens later on
			// the bus.
			Expect(sys.Store(cBase+0x840, 0x5, 0xF)).To(Succeed())
			Expect(sys.Drain()).To(Succeed())

			_, err := sys.Load(cBase + 0x40)
			Expect(errors.Is(err, pibus.ErrBus)).To(BeTrue())

			// Reported once; the flag is consumed.
			got, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0x1)))
		})
	})

	Describe("instruction fetches", func() {
		It("should miss cold and hit warm", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 0xE320F000)

			got, err := sys.Fetch(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xE320F000)))

			got, err = sys.Fetch(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(uint32(0xE320F000)))

			stats := sys.Cache.Stats()
			Expect(stats.IFetchCount).To(Equal(uint64(2)))
			Expect(stats.IMissCount).To(Equal(uint64(1)))
		})

		It("should fetch uncacheable addresses from memory every time", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(uBase+0x40, 0x13)

			for i := 0; i < 2; i++ {
				got, err := sys.Fetch(uBase + 0x40)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal(uint32(0x13)))
			}
			Expect(sys.Cache.Stats().IUncCount).To(Equal(uint64(2)))
		})

		It("should report a precise error on a failing fetch", func() {
			sys := newSystem(nil)
			sys.Mem.AddErrorRange(cBase+0x800, 0x100)

			_, err := sys.Fetch(cBase + 0x840)
			Expect(errors.Is(err, pibus.ErrBus)).To(BeTrue())
		})

		It("should serve a fetch and a data read presented together", func() {
			sys := newSystem(nil)
			sys.Mem.Write32(cBase+0x40, 0x11)
			sys.Mem.Write32(cBase+0x80, 0x22)

			fr := xcache.FetchReq{Valid: true, Addr: cBase + 0x40}
			dr := xcache.DataReq{Valid: true, Op: xcache.OpLoad, Addr: cBase + 0x80}

			var fetched, loaded bool
			for i := 0; i < 200 && !(fetched && loaded); i++ {
				irsp, drsp := sys.Tick(fr, dr)
				if irsp.Valid {
					Expect(irsp.Data).To(Equal(uint32(0x11)))
					fetched = true
					fr.Valid = false
				}
				if drsp.Valid {
					Expect(drsp.Data).To(Equal(uint32(0x22)))
					loaded = true
					dr.Valid = false
				}
			}
			Expect(fetched).To(BeTrue())
			Expect(loaded).To(BeTrue())
		})
	})

	Describe("accounting", func() {
		It("should count frozen cycles while the processor waits", func() {
			sys := newSystem(nil)
			sys.Bus.Latency = 4

			_, err := sys.Load(cBase + 0x40)
			Expect(err).NotTo(HaveOccurred())

			stats := sys.Cache.Stats()
			Expect(stats.FrzCycles).To(BeNumerically(">", 0))
			Expect(stats.TotalCycles).To(BeNumerically(">", stats.FrzCycles))
			Expect(stats.DMissFrz).To(BeNumerically(">", 0))
		})
	})
})

package xcache

import (
	"fmt"

	"github.com/sarchlab/xcachesim/timing/cachestore"
	"github.com/sarchlab/xcachesim/timing/wbuf"
)

// regFile groups every register of the subsystem. Tick copies it, lets each
// state machine compute its slice of the next value from the committed one,
// and commits the copy at the end of the cycle: no transition ever observes
// another transition's same-cycle result.
type regFile struct {
	ic icacheRegs
	dc dcacheRegs
	pb pibusRegs
	sn snoopRegs
}

// Cache is the full subsystem: instruction and data cache controllers, the
// bus transaction engine and the snoop controller, stepped together once
// per clock cycle.
type Cache struct {
	cfg Config
	ct  Cacheability

	istore *cachestore.Store
	dstore *cachestore.Store
	wbuf   *wbuf.Buffer

	regs  regFile
	stats Stats
}

// New builds the subsystem. Illegal geometry is fatal: the error is
// returned here and there is no runtime recovery.
func New(cfg Config, ct Cacheability) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("xcache config: %w", err)
	}

	istore, err := cachestore.New(cfg.ICacheSets, cfg.ICacheWays, cfg.ICacheWords)
	if err != nil {
		return nil, fmt.Errorf("icache: %w", err)
	}
	dstore, err := cachestore.New(cfg.DCacheSets, cfg.DCacheWays, cfg.DCacheWords)
	if err != nil {
		return nil, fmt.Errorf("dcache: %w", err)
	}
	wb, err := wbuf.New("WBuf", cfg.WBufDepth)
	if err != nil {
		return nil, err
	}

	return &Cache{
		cfg:    cfg,
		ct:     ct,
		istore: istore,
		dstore: dstore,
		wbuf:   wb,
	}, nil
}

// Config returns the construction parameters.
func (c *Cache) Config() Config { return c.cfg }

// Stats returns a copy of the instrumentation counters.
func (c *Cache) Stats() Stats { return c.stats }

// Tick advances the subsystem by one clock cycle. The processor-side
// requests and the sampled bus inputs are the inputs of the cycle; the
// responses and the driven bus signals are its outputs. A response with
// Valid=false means the request was not serviced and must be re-presented.
//
// The snoop controller runs first so that its cache probe observes the
// pre-cycle array contents; the engine's write-buffer pop is bounded by the
// pre-cycle occupancy for the same reason.
func (c *Cache) Tick(fr FetchReq, dr DataReq, bus BusIn) (FetchRsp, DataRsp, BusOut) {
	cur := c.regs
	next := cur
	wbufLen := c.wbuf.Len()

	c.snoopTransition(&cur, &next, bus)
	drsp := c.dcacheTransition(&cur, &next, dr)
	irsp := c.icacheTransition(&cur, &next, fr)
	c.pibusTransition(&cur, &next, bus, wbufLen)

	c.regs = next

	c.stats.TotalCycles++
	if (fr.Valid && !irsp.Valid) || (dr.Valid && !drsp.Valid) {
		c.stats.FrzCycles++
	}

	return irsp, drsp, c.busOutputs()
}

// Idle reports whether every controller has returned to its idle state and
// the write buffer has drained. Drivers use it to know when posted writes
// have actually reached memory.
func (c *Cache) Idle() bool {
	return c.regs.dc.state == dcacheIdle &&
		c.regs.ic.state == icacheIdle &&
		c.regs.pb.state == pibusIdle &&
		c.regs.sn.state == snoopIdle &&
		c.wbuf.Empty()
}

// busOutputs derives the bus signals from the committed engine state; they
// are driven for the whole of the next cycle.
func (c *Cache) busOutputs() BusOut {
	p := &c.regs.pb
	out := BusOut{}

	switch p.state {
	case pibusReadReq, pibusWriteReq:
		out.Req = true
	case pibusReadAd:
		out.AddrValid = true
		out.Read = true
		out.Addr = p.addr
		out.Opc = uint8(p.burst)
		out.Lock = p.burst > 1
	case pibusReadDtad:
		out.AddrValid = true
		out.Read = true
		out.Addr = p.addr + uint32(p.wcount)*4
		out.Opc = uint8(p.burst)
		out.Lock = p.wcount < p.burst-1
	case pibusWriteAd:
		out.AddrValid = true
		out.Addr = p.addr
		out.Opc = 1
	case pibusWriteDt:
		out.DataValid = true
		out.Data = p.data
		out.BE = p.be
	}

	return out
}

// TraceString reports the current state of all four controllers, one line
// per cycle when tracing is enabled in the driver.
func (c *Cache) TraceString() string {
	return fmt.Sprintf("DCACHE %-11s ICACHE %-11s PIBUS %-9s SNOOP %-5s wbuf %d/%d",
		c.regs.dc.state, c.regs.ic.state, c.regs.pb.state, c.regs.sn.state,
		c.wbuf.Len(), c.wbuf.Cap())
}

package xcache

import (
	"github.com/sarchlab/xcachesim/timing/wbuf"
)

// pibusState is the bus transaction engine state.
type pibusState int

const (
	pibusIdle pibusState = iota
	pibusReadReq
	pibusReadAd
	pibusReadDtad
	pibusReadDt
	pibusWriteReq
	pibusWriteAd
	pibusWriteDt
)

var pibusStateNames = [...]string{
	"IDLE", "READ_REQ", "READ_AD", "READ_DTAD", "READ_DT",
	"WRITE_REQ", "WRITE_AD", "WRITE_DT",
}

func (s pibusState) String() string { return pibusStateNames[s] }

// pibusRegs holds the bus transaction engine registers. The engine owns the
// single outstanding-transaction slot: addr/data/kind describe the
// transaction in flight, buf collects returned read data, and the rsp
// flags pulse for one cycle to report completion to the owning controller.
type pibusRegs struct {
	state pibusState

	ins   bool
	addr  uint32
	data  uint32
	be    uint8
	kind  wbuf.Kind
	burst int
	// wcount is the number of read words received so far.
	wcount int
	buf    [32]uint32

	rspIValid bool
	rspIErr   bool
	rspDValid bool
	rspDErr   bool

	// writeErr pulses when a posted write transaction fails; the data
	// cache controller folds it into its sticky error flag.
	writeErr bool
}

// readAfterWriteHazard reports whether the pending data read overlaps a
// write still sitting in the buffer. Starting the read first would return
// pre-write memory contents, so the engine drains the buffer instead.
func (c *Cache) readAfterWriteHazard(cur *regFile) bool {
	if cur.dc.state == dcacheMissWait {
		return c.wbuf.ContainsAddr(cur.dc.saveAddr, ^(c.dstore.LineBytes() - 1))
	}
	return c.wbuf.ContainsAddr(cur.dc.saveAddr, ^uint32(3))
}

func (c *Cache) pibusTransition(cur, next *regFile, bus BusIn, wbufLen int) {
	p := &next.pb
	p.rspIValid, p.rspIErr = false, false
	p.rspDValid, p.rspDErr = false, false
	p.writeErr = false

	fail := bus.Tout || bus.Ack == AckError

	switch cur.pb.state {
	case pibusIdle:
		dWait := cur.dc.state == dcacheMissWait || cur.dc.state == dcacheUncWait
		iWait := cur.ic.state == icacheMissWait || cur.ic.state == icacheUncWait

		// Reads stall the processor, so they win over write drain; the
		// data side wins over the instruction side because it holds the
		// older instruction. A data read behind a matching buffered write
		// waits until the write has drained.
		switch {
		case dWait && !cur.pb.rspDValid && !c.readAfterWriteHazard(cur):
			p.ins = false
			if cur.dc.state == dcacheMissWait {
				p.addr = c.dstore.LineAddr(cur.dc.saveAddr)
				p.burst = c.dstore.WordsPerLine()
			} else {
				p.addr = cur.dc.saveAddr &^ 3
				p.burst = 1
			}
			p.wcount = 0
			p.state = pibusReadReq

		case iWait && !cur.pb.rspIValid:
			p.ins = true
			if cur.ic.state == icacheMissWait {
				p.addr = c.istore.LineAddr(cur.ic.saveAddr)
				p.burst = c.istore.WordsPerLine()
			} else {
				p.addr = cur.ic.saveAddr &^ 3
				p.burst = 1
			}
			p.wcount = 0
			p.state = pibusReadReq

		case wbufLen > 0:
			e, ok := c.wbuf.Pop()
			if ok {
				p.addr = e.Addr &^ 3
				p.data = e.Data
				p.be = e.BE
				p.kind = e.Kind
				p.state = pibusWriteReq
			}
		}

	case pibusReadReq:
		if bus.Gnt {
			p.state = pibusReadAd
		}

	case pibusReadAd:
		// The response to the first address arrives while this state's
		// output is on the bus.
		switch {
		case fail:
			c.readError(cur, p)
		case bus.Ack == AckReady:
			p.buf[0] = bus.Data
			p.wcount = 1
			if cur.pb.burst == 1 {
				p.state = pibusReadDt
			} else {
				p.state = pibusReadDtad
			}
		}

	case pibusReadDtad:
		// The response lags the address by one cycle: the word for this
		// slot arrives while the next address is already on the bus.
		switch {
		case fail:
			c.readError(cur, p)
		case bus.Ack == AckReady:
			p.buf[cur.pb.wcount] = bus.Data
			p.wcount = cur.pb.wcount + 1
			if p.wcount == cur.pb.burst {
				p.state = pibusReadDt
			}
		}

	case pibusReadDt:
		// All words received; report completion to the owning side.
		if cur.pb.ins {
			p.rspIValid = true
		} else {
			p.rspDValid = true
		}
		p.state = pibusIdle

	case pibusWriteReq:
		if bus.Gnt {
			p.state = pibusWriteAd
		}

	case pibusWriteAd:
		p.state = pibusWriteDt

	case pibusWriteDt:
		switch {
		case fail:
			// Imprecise by construction: the requester finished cycles
			// ago. Record the failure; it is surfaced on the next read.
			p.writeErr = true
			p.state = pibusIdle
		case bus.Ack == AckReady:
			p.state = pibusIdle
		}
	}
}

// readError terminates the in-flight read with an error report. No cache
// fill happens on the error path.
func (c *Cache) readError(cur *regFile, p *pibusRegs) {
	if cur.pb.ins {
		p.rspIValid = true
		p.rspIErr = true
	} else {
		p.rspDValid = true
		p.rspDErr = true
	}
	p.state = pibusIdle
}

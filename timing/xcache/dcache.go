package xcache

import (
	"github.com/sarchlab/xcachesim/timing/wbuf"
)

// dcacheState is the data cache controller state.
type dcacheState int

const (
	dcacheIdle dcacheState = iota
	dcacheWriteUpdt
	dcacheWriteReq
	dcacheMissSelect
	dcacheMissInval
	dcacheMissWait
	dcacheMissUpdt
	dcacheUncWait
	dcacheUncGo
	dcacheError
	dcacheInval
	dcacheScWait
)

var dcacheStateNames = [...]string{
	"IDLE", "WRITE_UPDT", "WRITE_REQ", "MISS_SELECT", "MISS_INVAL",
	"MISS_WAIT", "MISS_UPDT", "UNC_WAIT", "UNC_GO", "ERROR", "INVAL",
	"SC_WAIT",
}

func (s dcacheState) String() string { return dcacheStateNames[s] }

// dcacheRegs holds the data cache controller registers.
type dcacheRegs struct {
	state dcacheState

	saveAddr uint32
	saveData uint32
	saveBE   uint8
	saveOp   DataOp
	saveSet  int
	saveWay  int

	// LL/SC reservation.
	llscPending bool
	llscAddr    uint32

	// berr is the sticky imprecise write-error flag: set when the engine
	// reports a failed posted write, surfaced on the next data read
	// response and cleared once reported.
	berr bool

	// snoopInvalAck and snoopFlushAck pulse for one cycle when the
	// corresponding snoop request has been honored. They are separate so
	// that a flush raised while an invalidation ack is in flight does not
	// mistake that ack for its own.
	snoopInvalAck bool
	snoopFlushAck bool
	// served pulses for one cycle when a processor data request was
	// serviced; the snoop controller resets its external-hit run on it.
	served bool
}

func (c *Cache) dcacheTransition(cur, next *regFile, req DataReq) DataRsp {
	rsp := DataRsp{}
	d := &next.dc
	d.snoopInvalAck = false
	d.snoopFlushAck = false
	d.served = false

	if cur.pb.writeErr {
		d.berr = true
	}

	// surfaceBerr attaches the sticky write error to a data read response
	// and clears the flag, unless a new failure arrived this very cycle.
	surfaceBerr := func(r *DataRsp) {
		if cur.dc.berr {
			r.Error = true
			d.berr = cur.pb.writeErr
		}
	}

	switch cur.dc.state {
	case dcacheIdle:
		// Snoop invalidations are honored before any new access.
		if cur.sn.state == snoopInval && !cur.dc.snoopInvalAck {
			c.dstore.Invalidate(cur.sn.invalSet, cur.sn.invalWay)
			d.snoopInvalAck = true
			break
		}
		if cur.sn.state == snoopFlush && !cur.dc.snoopFlushAck {
			c.dstore.Flush()
			d.llscPending = false
			d.snoopFlushAck = true
			break
		}
		if !req.Valid {
			break
		}

		switch req.Op {
		case OpLoad, OpLoadLinked:
			if !c.ct.IsCacheable(req.Addr) {
				c.stats.DUncCount++
				d.saveAddr = req.Addr
				d.saveOp = req.Op
				d.state = dcacheUncWait
				break
			}
			c.stats.DReadCount++
			hit, _, data := c.dstore.Lookup(req.Addr)
			if hit {
				rsp = DataRsp{Valid: true, Data: data}
				surfaceBerr(&rsp)
				if req.Op == OpLoadLinked {
					d.llscPending = true
					d.llscAddr = req.Addr
				}
				break
			}
			c.stats.DMissCount++
			d.saveAddr = req.Addr
			d.saveOp = req.Op
			d.state = dcacheMissSelect

		case OpStore:
			d.saveAddr = req.Addr
			d.saveData = req.Data
			d.saveBE = req.BE
			if _, _, hit := c.dstore.Probe(req.Addr); hit {
				d.state = dcacheWriteUpdt
			} else {
				d.state = dcacheWriteReq
			}

		case OpStoreCond:
			if cur.dc.llscPending && cur.dc.llscAddr == req.Addr {
				d.saveAddr = req.Addr
				d.saveData = req.Data
				d.saveBE = req.BE
				d.state = dcacheScWait
			} else {
				c.stats.SCKoCount++
				rsp = DataRsp{Valid: true, SCOk: false}
			}

		case OpLineInval:
			if set, way, hit := c.dstore.Probe(req.Addr); hit {
				d.saveSet = set
				d.saveWay = way
				d.state = dcacheInval
			} else {
				rsp = DataRsp{Valid: true}
			}
		}

	case dcacheWriteUpdt:
		// Write-through: the in-place update is advisory; memory is
		// written from the buffer either way.
		c.stats.WriteFrz++
		c.dstore.WriteWord(cur.dc.saveAddr, cur.dc.saveData, cur.dc.saveBE)
		d.state = dcacheWriteReq

	case dcacheWriteReq:
		ok := c.wbuf.Push(wbuf.Entry{
			Addr: cur.dc.saveAddr,
			Data: cur.dc.saveData,
			BE:   cur.dc.saveBE,
			Kind: wbuf.KindWrite,
		})
		if ok {
			c.stats.WriteCount++
			rsp = DataRsp{Valid: true}
			d.state = dcacheIdle
		} else {
			c.stats.WriteFrz++
		}

	case dcacheScWait:
		ok := c.wbuf.Push(wbuf.Entry{
			Addr: cur.dc.saveAddr,
			Data: cur.dc.saveData,
			BE:   cur.dc.saveBE,
			Kind: wbuf.KindStoreCond,
		})
		if ok {
			c.stats.SCOkCount++
			c.dstore.WriteWord(cur.dc.saveAddr, cur.dc.saveData, cur.dc.saveBE)
			rsp = DataRsp{Valid: true, SCOk: true}
			d.llscPending = false
			d.state = dcacheIdle
		} else {
			c.stats.WriteFrz++
		}

	case dcacheMissSelect:
		c.stats.DMissFrz++
		way, valid := c.dstore.SelectVictim(cur.dc.saveAddr)
		d.saveWay = way
		d.saveSet = c.dstore.SetIndex(cur.dc.saveAddr)
		if valid {
			d.state = dcacheMissInval
		} else {
			d.state = dcacheMissWait
		}

	case dcacheMissInval:
		c.stats.DMissFrz++
		c.dstore.Invalidate(cur.dc.saveSet, cur.dc.saveWay)
		d.state = dcacheMissWait

	case dcacheMissWait:
		c.stats.DMissFrz++
		if cur.pb.rspDValid {
			if cur.pb.rspDErr {
				d.state = dcacheError
			} else {
				d.state = dcacheMissUpdt
			}
		}

	case dcacheMissUpdt:
		line := cur.pb.buf[:c.dstore.WordsPerLine()]
		c.dstore.Fill(cur.dc.saveAddr, cur.dc.saveWay, line)
		_, _, data := c.dstore.Lookup(cur.dc.saveAddr)
		rsp = DataRsp{Valid: true, Data: data}
		surfaceBerr(&rsp)
		if cur.dc.saveOp == OpLoadLinked {
			d.llscPending = true
			d.llscAddr = cur.dc.saveAddr
		}
		d.state = dcacheIdle

	case dcacheUncWait:
		c.stats.DUncFrz++
		if cur.pb.rspDValid {
			if cur.pb.rspDErr {
				d.state = dcacheError
			} else {
				d.state = dcacheUncGo
			}
		}

	case dcacheUncGo:
		rsp = DataRsp{Valid: true, Data: cur.pb.buf[0]}
		surfaceBerr(&rsp)
		if cur.dc.saveOp == OpLoadLinked {
			d.llscPending = true
			d.llscAddr = cur.dc.saveAddr
		}
		d.state = dcacheIdle

	case dcacheError:
		// Precise error: the failing read itself carries the indication.
		rsp = DataRsp{Valid: true, Error: true}
		d.state = dcacheIdle

	case dcacheInval:
		c.dstore.Invalidate(cur.dc.saveSet, cur.dc.saveWay)
		rsp = DataRsp{Valid: true}
		d.state = dcacheIdle
	}

	// An external write that matched the reservation clears it, whatever
	// state the controller is in.
	if cur.sn.llscClr {
		d.llscPending = false
	}

	if rsp.Valid {
		d.served = true
	}

	return rsp
}

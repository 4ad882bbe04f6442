package xcache

// icacheState is the instruction cache controller state.
type icacheState int

const (
	icacheIdle icacheState = iota
	icacheMissSelect
	icacheMissInval
	icacheMissWait
	icacheMissUpdt
	icacheUncWait
	icacheUncGo
	icacheError
)

var icacheStateNames = [...]string{
	"IDLE", "MISS_SELECT", "MISS_INVAL", "MISS_WAIT", "MISS_UPDT",
	"UNC_WAIT", "UNC_GO", "ERROR",
}

func (s icacheState) String() string { return icacheStateNames[s] }

// icacheRegs holds the instruction cache controller registers. The
// instruction side is read only, so this is the data path stripped down to
// the miss and uncached flows.
type icacheRegs struct {
	state    icacheState
	saveAddr uint32
	saveSet  int
	saveWay  int
}

func (c *Cache) icacheTransition(cur, next *regFile, req FetchReq) FetchRsp {
	rsp := FetchRsp{}
	i := &next.ic

	switch cur.ic.state {
	case icacheIdle:
		if !req.Valid {
			break
		}
		if !c.ct.IsCacheable(req.Addr) {
			c.stats.IUncCount++
			i.saveAddr = req.Addr
			i.state = icacheUncWait
			break
		}
		c.stats.IFetchCount++
		hit, _, data := c.istore.Lookup(req.Addr)
		if hit {
			rsp = FetchRsp{Valid: true, Data: data}
			break
		}
		c.stats.IMissCount++
		i.saveAddr = req.Addr
		i.state = icacheMissSelect

	case icacheMissSelect:
		c.stats.IMissFrz++
		way, valid := c.istore.SelectVictim(cur.ic.saveAddr)
		i.saveWay = way
		i.saveSet = c.istore.SetIndex(cur.ic.saveAddr)
		if valid {
			i.state = icacheMissInval
		} else {
			i.state = icacheMissWait
		}

	case icacheMissInval:
		c.stats.IMissFrz++
		c.istore.Invalidate(cur.ic.saveSet, cur.ic.saveWay)
		i.state = icacheMissWait

	case icacheMissWait:
		c.stats.IMissFrz++
		if cur.pb.rspIValid {
			if cur.pb.rspIErr {
				i.state = icacheError
			} else {
				i.state = icacheMissUpdt
			}
		}

	case icacheMissUpdt:
		line := cur.pb.buf[:c.istore.WordsPerLine()]
		c.istore.Fill(cur.ic.saveAddr, cur.ic.saveWay, line)
		_, _, data := c.istore.Lookup(cur.ic.saveAddr)
		rsp = FetchRsp{Valid: true, Data: data}
		i.state = icacheIdle

	case icacheUncWait:
		c.stats.IUncFrz++
		if cur.pb.rspIValid {
			if cur.pb.rspIErr {
				i.state = icacheError
			} else {
				i.state = icacheUncGo
			}
		}

	case icacheUncGo:
		rsp = FetchRsp{Valid: true, Data: cur.pb.buf[0]}
		i.state = icacheIdle

	case icacheError:
		// Fetch errors are always precise: nothing on the instruction
		// side is ever buffered.
		rsp = FetchRsp{Valid: true, Error: true}
		i.state = icacheIdle
	}

	return rsp
}

package xcache

// snoopState is the snoop controller state.
type snoopState int

const (
	snoopIdle snoopState = iota
	snoopInval
	snoopFlush
)

var snoopStateNames = [...]string{"IDLE", "INVAL", "FLUSH"}

func (s snoopState) String() string { return snoopStateNames[s] }

// snoopRegs holds the snoop controller registers. The controller watches
// every write address cycle on the bus; invalidation and flush requests are
// handed to the data cache controller, which acknowledges them with a
// one-cycle pulse.
type snoopRegs struct {
	state    snoopState
	invalSet int
	invalWay int

	// llscClr pulses when an external write matched the reservation.
	llscClr bool

	// lastAddr/lastValid remember the previous external hit; hitRun counts
	// consecutive distinct external hits since the last local data access.
	lastAddr  uint32
	lastValid bool
	hitRun    int
}

// The write feed is watched every cycle, whatever state the controller is
// in: an external write arriving while an invalidation is still pending
// must not slip past unseen.
func (c *Cache) snoopTransition(cur, next *regFile, bus BusIn) {
	s := &next.sn
	s.llscClr = false

	if !c.cfg.SnoopActive {
		return
	}

	extWrite := bus.AValid && bus.AWrite && !c.ownWrite(cur, bus.AAddr)

	if extWrite && cur.dc.llscPending && cur.dc.llscAddr&^3 == bus.AAddr&^3 {
		s.llscClr = true
	}

	switch cur.sn.state {
	case snoopIdle:
		if cur.dc.served {
			s.hitRun = 0
			s.lastValid = false
		}
		if !extWrite {
			break
		}

		set, way, hit := c.dstore.Probe(bus.AAddr)
		if !hit {
			break
		}
		s.noteHit(bus.AAddr)

		if s.hitRun >= c.cfg.SnoopFlushThreshold {
			s.state = snoopFlush
		} else {
			s.invalSet = set
			s.invalWay = way
			s.state = snoopInval
		}

	case snoopInval:
		if extWrite {
			if set, way, hit := c.dstore.Probe(bus.AAddr); hit {
				s.noteHit(bus.AAddr)
				if cur.dc.snoopInvalAck && s.hitRun < c.cfg.SnoopFlushThreshold {
					// The previous invalidation just completed; take the
					// new hit as a fresh one.
					s.invalSet = set
					s.invalWay = way
				} else {
					// One invalidation slot, two pending lines: give up
					// on per-line precision and flush.
					s.state = snoopFlush
				}
				break
			}
		}
		if cur.dc.snoopInvalAck {
			s.state = snoopIdle
		}

	case snoopFlush:
		// Further external hits need no action: the pending flush wipes
		// every line anyway.
		if cur.dc.snoopFlushAck {
			s.hitRun = 0
			s.lastValid = false
			s.state = snoopIdle
		}
	}
}

// noteHit advances the consecutive-hit run, counting only distinct
// successive external addresses.
func (s *snoopRegs) noteHit(addr uint32) {
	if !s.lastValid || s.lastAddr != addr {
		s.hitRun++
	}
	s.lastAddr = addr
	s.lastValid = true
}

// ownWrite filters the subsystem's own write transactions out of the snoop
// feed; invalidating a line the local processor just updated would defeat
// the write-through update.
func (c *Cache) ownWrite(cur *regFile, addr uint32) bool {
	writing := cur.pb.state == pibusWriteAd || cur.pb.state == pibusWriteDt
	return writing && cur.pb.addr == addr
}

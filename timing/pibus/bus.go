package pibus

import (
	"github.com/sarchlab/xcachesim/timing/xcache"
)

// Injected is a write placed on the bus by another master. The memory takes
// the data; the cache subsystem only observes the address cycle through its
// snoop port.
type Injected struct {
	Addr uint32
	Data uint32
	BE   uint8
}

// Bus couples one cache subsystem to one memory target. Tick consumes the
// signals the subsystem drives during a cycle and returns the signals it
// will sample during the next one.
//
// GrantLatency is the number of cycles a request must be held before the
// grant; Latency is the number of wait states inserted before each read
// word. Both default to zero, the fastest legal target.
type Bus struct {
	mem *Memory

	GrantLatency int
	Latency      int

	gntHeld   int
	waitAddr  uint32
	waitLive  bool
	waitCount int
	waddr     uint32

	injects []Injected
}

// NewBus creates a zero-latency bus in front of mem.
func NewBus(mem *Memory) *Bus {
	return &Bus{mem: mem}
}

// InjectWrite queues a full-word write from another master. It reaches the
// memory, and the snoop feed, on the first cycle the subsystem leaves the
// bus idle.
func (b *Bus) InjectWrite(addr, data uint32) {
	b.injects = append(b.injects, Injected{Addr: addr, Data: data, BE: 0xf})
}

// Pending reports how many injected writes have not been placed yet.
func (b *Bus) Pending() int { return len(b.injects) }

// Tick runs one bus cycle.
func (b *Bus) Tick(out xcache.BusOut) xcache.BusIn {
	in := xcache.BusIn{}

	if out.Req {
		if b.gntHeld >= b.GrantLatency {
			in.Gnt = true
			b.gntHeld = 0
		} else {
			b.gntHeld++
		}
	} else {
		b.gntHeld = 0
	}

	switch {
	case out.AddrValid && out.Read:
		in.AValid, in.AAddr, in.AWrite = true, out.Addr, false
		b.respondRead(out.Addr, &in)

	case out.AddrValid:
		in.AValid, in.AAddr, in.AWrite = true, out.Addr, true
		b.waddr = out.Addr

	case out.DataValid:
		switch {
		case b.mem.IsTimeout(b.waddr):
			in.Tout = true
		case b.mem.IsError(b.waddr):
			in.Ack = xcache.AckError
		default:
			b.mem.WriteBE(b.waddr, out.Data, out.BE)
			in.Ack = xcache.AckReady
		}

	case !out.Req && len(b.injects) > 0:
		// The subsystem is off the bus; another master takes a turn.
		w := b.injects[0]
		b.injects = b.injects[1:]
		b.mem.WriteBE(w.Addr, w.Data, w.BE)
		in.AValid, in.AAddr, in.AWrite = true, w.Addr, true
	}

	return in
}

// respondRead answers one read address cycle. Wait states are counted per
// address: the master holds the same address through AckWait, and a new
// address restarts the count.
func (b *Bus) respondRead(addr uint32, in *xcache.BusIn) {
	switch {
	case b.mem.IsTimeout(addr):
		in.Tout = true
		b.waitLive = false

	case b.mem.IsError(addr):
		in.Ack = xcache.AckError
		b.waitLive = false

	default:
		if !b.waitLive || b.waitAddr != addr {
			b.waitAddr = addr
			b.waitLive = true
			b.waitCount = 0
		}
		if b.waitCount < b.Latency {
			b.waitCount++
			in.Ack = xcache.AckWait
			return
		}
		in.Ack = xcache.AckReady
		in.Data = b.mem.Read32(addr)
		b.waitLive = false
	}
}

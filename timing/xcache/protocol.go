// Package xcache models the cache subsystem that sits between one processor
// core and a shared PIBUS-style system bus: split instruction and data
// caches, a write-through policy with a posted-write FIFO, LL/SC support and
// snoop-based invalidation. Four state machines step once per clock cycle.
package xcache

// DataOp identifies the kind of processor data request.
type DataOp int

const (
	// OpLoad is a data read.
	OpLoad DataOp = iota
	// OpStore is a data write.
	OpStore
	// OpLoadLinked is a read that also places an LL/SC reservation.
	OpLoadLinked
	// OpStoreCond is a write that succeeds only while the reservation from
	// the matching OpLoadLinked is still held.
	OpStoreCond
	// OpLineInval invalidates the cache line holding the address, if present.
	OpLineInval
)

func (op DataOp) String() string {
	switch op {
	case OpLoad:
		return "LOAD"
	case OpStore:
		return "STORE"
	case OpLoadLinked:
		return "LL"
	case OpStoreCond:
		return "SC"
	case OpLineInval:
		return "INVAL"
	}
	return "UNKNOWN"
}

// FetchReq is an instruction fetch request from the processor. The
// processor must keep presenting the same request until the response is
// valid.
type FetchReq struct {
	Valid bool
	Addr  uint32
}

// FetchRsp answers a FetchReq. Valid=false means the request was not
// serviced this cycle and must be re-presented. Error reports a precise bus
// error: fetches are never buffered, so the error always belongs to this
// very fetch.
type FetchRsp struct {
	Valid bool
	Data  uint32
	Error bool
}

// DataReq is a data-side request from the processor.
type DataReq struct {
	Valid bool
	Op    DataOp
	Addr  uint32
	Data  uint32
	BE    uint8
}

// DataRsp answers a DataReq. Valid=false is backpressure, not an error: the
// request was refused (read in flight, or write buffer full) and must be
// re-presented. Error on a read response may be precise (this read failed)
// or imprecise (an earlier posted write failed; surfaced here because write
// completion is decoupled from issue). SCOk reports the outcome of an
// OpStoreCond.
type DataRsp struct {
	Valid bool
	Data  uint32
	Error bool
	SCOk  bool
}

// Ack is the PIBUS acknowledge code sampled from the bus each cycle.
type Ack int

const (
	// AckNone means no target is responding this cycle.
	AckNone Ack = iota
	// AckWait inserts a wait state; the master holds its signals.
	AckWait
	// AckReady completes the current word successfully.
	AckReady
	// AckError completes the current word with a bus error.
	AckError
)

// BusOut carries the bus signals the engine drives during one cycle.
// Opc is the transaction operation code, encoded here as the word count:
// 1 for single-word transactions, the line length for read bursts.
type BusOut struct {
	Req  bool
	Lock bool
	Read bool
	Opc  uint8

	AddrValid bool
	Addr      uint32

	DataValid bool
	Data      uint32
	BE        uint8
}

// BusIn carries the bus signals the subsystem samples during one cycle.
// AValid/AAddr/AWrite form the snoop feed: they reflect every address cycle
// on the bus, whichever master drives it.
type BusIn struct {
	Gnt  bool
	Ack  Ack
	Data uint32
	Tout bool

	AValid bool
	AAddr  uint32
	AWrite bool
}

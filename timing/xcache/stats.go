package xcache

import (
	"fmt"
	"strings"
)

// Stats holds the instrumentation counters of the cache subsystem. All
// counters increase monotonically; Frz counters count cycles during which
// the processor was held for the corresponding reason.
type Stats struct {
	// TotalCycles is the number of cycles simulated.
	TotalCycles uint64
	// FrzCycles is the number of cycles with a presented but unserved
	// processor request.
	FrzCycles uint64

	// IFetchCount is the number of instruction fetch requests accepted.
	IFetchCount uint64
	// IMissCount is the number of instruction cache miss transactions.
	IMissCount uint64
	// IMissFrz is the number of cycles spent stalled on instruction misses.
	IMissFrz uint64
	// IUncCount is the number of uncacheable instruction reads.
	IUncCount uint64
	// IUncFrz is the number of cycles spent stalled on uncacheable fetches.
	IUncFrz uint64

	// DReadCount is the number of cacheable data reads accepted.
	DReadCount uint64
	// DMissCount is the number of data cache miss transactions.
	DMissCount uint64
	// DMissFrz is the number of cycles spent stalled on data misses.
	DMissFrz uint64
	// DUncCount is the number of uncacheable data reads.
	DUncCount uint64
	// DUncFrz is the number of cycles spent stalled on uncacheable reads.
	DUncFrz uint64

	// WriteCount is the number of writes posted to the write buffer.
	WriteCount uint64
	// WriteFrz is the number of cycles spent in the write states, including
	// cycles held on a full write buffer.
	WriteFrz uint64

	// SCOkCount is the number of successful store-conditionals.
	SCOkCount uint64
	// SCKoCount is the number of failed store-conditionals.
	SCKoCount uint64
}

// IMissRate returns instruction misses per accepted fetch.
func (s Stats) IMissRate() float64 {
	if s.IFetchCount == 0 {
		return 0
	}
	return float64(s.IMissCount) / float64(s.IFetchCount)
}

// DMissRate returns data misses per accepted cacheable read.
func (s Stats) DMissRate() float64 {
	if s.DReadCount == 0 {
		return 0
	}
	return float64(s.DMissCount) / float64(s.DReadCount)
}

// String formats the counters as a printable block.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycles          %12d\n", s.TotalCycles)
	fmt.Fprintf(&b, "frozen cycles   %12d\n", s.FrzCycles)
	fmt.Fprintf(&b, "ifetch          %12d\n", s.IFetchCount)
	fmt.Fprintf(&b, "imiss           %12d (rate %.4f, %d frz)\n",
		s.IMissCount, s.IMissRate(), s.IMissFrz)
	fmt.Fprintf(&b, "iunc            %12d (%d frz)\n", s.IUncCount, s.IUncFrz)
	fmt.Fprintf(&b, "dread           %12d\n", s.DReadCount)
	fmt.Fprintf(&b, "dmiss           %12d (rate %.4f, %d frz)\n",
		s.DMissCount, s.DMissRate(), s.DMissFrz)
	fmt.Fprintf(&b, "dunc            %12d (%d frz)\n", s.DUncCount, s.DUncFrz)
	fmt.Fprintf(&b, "write           %12d (%d frz)\n", s.WriteCount, s.WriteFrz)
	fmt.Fprintf(&b, "sc ok/ko        %12d / %d\n", s.SCOkCount, s.SCKoCount)
	return b.String()
}

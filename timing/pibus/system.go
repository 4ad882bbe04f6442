package pibus

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/xcachesim/timing/xcache"
)

// ErrBus reports a bus error carried on a response. For reads it may be
// precise (the read itself failed) or the deferred report of an earlier
// posted write.
var ErrBus = errors.New("bus error")

// System is a closed single-core platform: one cache subsystem, one bus,
// one memory. It owns the one-cycle registration between the signals the
// subsystem drives and the signals it samples.
type System struct {
	Cache *xcache.Cache
	Bus   *Bus
	Mem   *Memory

	busIn xcache.BusIn

	// MaxWait bounds how many cycles the blocking helpers retry a refused
	// request before giving up.
	MaxWait int

	// Trace, when set, receives one controller-state line per cycle.
	Trace io.Writer
}

// NewSystem assembles a system around a fresh memory and zero-latency bus.
func NewSystem(cfg xcache.Config, ct xcache.Cacheability) (*System, error) {
	cache, err := xcache.New(cfg, ct)
	if err != nil {
		return nil, err
	}

	mem := NewMemory()
	return &System{
		Cache:   cache,
		Bus:     NewBus(mem),
		Mem:     mem,
		MaxWait: 10000,
	}, nil
}

// Tick advances the whole platform by one clock cycle.
func (s *System) Tick(fr xcache.FetchReq, dr xcache.DataReq) (xcache.FetchRsp, xcache.DataRsp) {
	irsp, drsp, out := s.Cache.Tick(fr, dr, s.busIn)
	s.busIn = s.Bus.Tick(out)
	if s.Trace != nil {
		fmt.Fprintln(s.Trace, s.Cache.TraceString())
	}
	return irsp, drsp
}

// StepIdle runs n cycles with no processor requests, letting in-flight
// transactions, buffered writes and injected bus traffic make progress.
func (s *System) StepIdle(n int) {
	for i := 0; i < n; i++ {
		s.Tick(xcache.FetchReq{}, xcache.DataReq{})
	}
}

// Drain idles the platform until the subsystem is fully quiescent.
func (s *System) Drain() error {
	for i := 0; i < s.MaxWait; i++ {
		if s.Cache.Idle() && s.Bus.Pending() == 0 {
			return nil
		}
		s.StepIdle(1)
	}
	return fmt.Errorf("subsystem did not drain within %d cycles", s.MaxWait)
}

// Fetch presents an instruction fetch until it completes.
func (s *System) Fetch(addr uint32) (uint32, error) {
	req := xcache.FetchReq{Valid: true, Addr: addr}
	for i := 0; i < s.MaxWait; i++ {
		rsp, _ := s.Tick(req, xcache.DataReq{})
		if !rsp.Valid {
			continue
		}
		if rsp.Error {
			return 0, fmt.Errorf("fetch 0x%08x: %w", addr, ErrBus)
		}
		return rsp.Data, nil
	}
	return 0, fmt.Errorf("fetch 0x%08x: no response within %d cycles", addr, s.MaxWait)
}

// Load presents a data read until it completes.
func (s *System) Load(addr uint32) (uint32, error) {
	rsp, err := s.data(xcache.DataReq{Valid: true, Op: xcache.OpLoad, Addr: addr})
	return rsp.Data, err
}

// LoadLinked presents a reserving read until it completes.
func (s *System) LoadLinked(addr uint32) (uint32, error) {
	rsp, err := s.data(xcache.DataReq{Valid: true, Op: xcache.OpLoadLinked, Addr: addr})
	return rsp.Data, err
}

// Store presents a posted write until the subsystem accepts it. Acceptance
// is not completion: the write drains through the buffer afterwards.
func (s *System) Store(addr, data uint32, be uint8) error {
	_, err := s.data(xcache.DataReq{
		Valid: true, Op: xcache.OpStore, Addr: addr, Data: data, BE: be,
	})
	return err
}

// StoreCond presents a conditional write until it resolves and reports
// whether the reservation held.
func (s *System) StoreCond(addr, data uint32, be uint8) (bool, error) {
	rsp, err := s.data(xcache.DataReq{
		Valid: true, Op: xcache.OpStoreCond, Addr: addr, Data: data, BE: be,
	})
	return rsp.SCOk, err
}

// LineInval invalidates the cache line holding addr, if present.
func (s *System) LineInval(addr uint32) error {
	_, err := s.data(xcache.DataReq{Valid: true, Op: xcache.OpLineInval, Addr: addr})
	return err
}

func (s *System) data(req xcache.DataReq) (xcache.DataRsp, error) {
	for i := 0; i < s.MaxWait; i++ {
		_, rsp := s.Tick(xcache.FetchReq{}, req)
		if !rsp.Valid {
			continue
		}
		if rsp.Error {
			return rsp, fmt.Errorf("%s 0x%08x: %w", req.Op, req.Addr, ErrBus)
		}
		return rsp, nil
	}
	return xcache.DataRsp{}, fmt.Errorf("%s 0x%08x: no response within %d cycles",
		req.Op, req.Addr, s.MaxWait)
}

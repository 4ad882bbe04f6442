// Package main provides the entry point for xcachesim, a cycle-accurate
// simulator of a write-through cache subsystem on a PIBUS-style bus.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/xcachesim/timing/pibus"
	"github.com/sarchlab/xcachesim/timing/traffic"
	"github.com/sarchlab/xcachesim/timing/xcache"
)

var (
	configPath   = flag.String("config", "", "Path to cache configuration JSON file")
	requests     = flag.Int("requests", 10000, "Number of processor requests to issue")
	seed         = flag.Int64("seed", 1, "Traffic generator seed")
	readLatency  = flag.Int("latency", 0, "Memory read latency in wait states")
	grantLatency = flag.Int("grant-latency", 0, "Bus grant latency in cycles")
	uncached     = flag.Bool("uncached", false, "Make the data footprint uncacheable")
	trace        = flag.Bool("trace", false, "Print controller states every cycle")
	verbose      = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	cfg := xcache.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = xcache.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	run := traffic.DefaultConfig()
	run.Seed = *seed
	run.Requests = *requests

	ct := xcache.NewMSBTable(4)
	ct.MarkCacheable(run.FetchBase, uint32(run.FetchWindow)*4)
	if !*uncached {
		ct.MarkCacheable(run.DataBase, uint32(run.DataWindow)*4)
	}

	sys, err := pibus.NewSystem(cfg, ct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building system: %v\n", err)
		os.Exit(1)
	}
	sys.Bus.Latency = *readLatency
	sys.Bus.GrantLatency = *grantLatency
	if *trace {
		sys.Trace = os.Stdout
	}

	if *verbose {
		fmt.Printf("I-cache: %d sets x %d ways x %d words\n",
			cfg.ICacheSets, cfg.ICacheWays, cfg.ICacheWords)
		fmt.Printf("D-cache: %d sets x %d ways x %d words\n",
			cfg.DCacheSets, cfg.DCacheWays, cfg.DCacheWords)
		fmt.Printf("Write buffer depth: %d, snoop: %v\n", cfg.WBufDepth, cfg.SnoopActive)
		fmt.Printf("Requests: %d, seed: %d\n\n", run.Requests, run.Seed)
	}

	gen := traffic.NewGenerator(sys, run)
	if err := gen.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Consistency check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OK: %s\n\n", gen.Summary())
	fmt.Print(sys.Cache.Stats().String())
}

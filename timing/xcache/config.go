package xcache

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/xcachesim/timing/cachestore"
)

// Config holds the construction parameters of the cache subsystem.
// Geometry values must be powers of two: sets up to 1024, ways up to 8,
// words per line up to 32, independently for each cache.
type Config struct {
	// ICacheSets is the number of instruction cache sets.
	ICacheSets int `json:"icache_sets"`
	// ICacheWays is the instruction cache associativity.
	ICacheWays int `json:"icache_ways"`
	// ICacheWords is the number of 32-bit words per instruction cache line.
	ICacheWords int `json:"icache_words"`

	// DCacheSets is the number of data cache sets.
	DCacheSets int `json:"dcache_sets"`
	// DCacheWays is the data cache associativity.
	DCacheWays int `json:"dcache_ways"`
	// DCacheWords is the number of 32-bit words per data cache line.
	DCacheWords int `json:"dcache_words"`

	// WBufDepth is the write buffer capacity in entries.
	WBufDepth int `json:"wbuf_depth"`

	// SnoopActive enables the snoop-invalidate mechanism. Default: true.
	SnoopActive bool `json:"snoop_active"`

	// SnoopFlushThreshold is the number of consecutive external hits, with
	// no intervening local data access, after which the snoop controller
	// flushes the whole data cache instead of invalidating line by line.
	SnoopFlushThreshold int `json:"snoop_flush_threshold"`
}

// DefaultConfig returns a moderate two-level-free configuration: 64-set
// 4-way caches with 8-word lines and an 8-entry write buffer.
func DefaultConfig() Config {
	return Config{
		ICacheSets:          64,
		ICacheWays:          4,
		ICacheWords:         8,
		DCacheSets:          64,
		DCacheWays:          4,
		DCacheWords:         8,
		WBufDepth:           8,
		SnoopActive:         true,
		SnoopFlushThreshold: 8,
	}
}

// LoadConfig reads a JSON configuration file. Fields absent from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration. A violation is fatal at construction
// time; there is no runtime handling of illegal geometry.
func (c Config) Validate() error {
	if err := cachestore.CheckGeometry(
		c.ICacheSets, c.ICacheWays, c.ICacheWords); err != nil {
		return fmt.Errorf("icache: %w", err)
	}
	if err := cachestore.CheckGeometry(
		c.DCacheSets, c.DCacheWays, c.DCacheWords); err != nil {
		return fmt.Errorf("dcache: %w", err)
	}
	if c.WBufDepth < 1 {
		return fmt.Errorf("write buffer depth must be at least 1, got %d",
			c.WBufDepth)
	}
	if c.SnoopActive && c.SnoopFlushThreshold < 1 {
		return fmt.Errorf("snoop flush threshold must be at least 1, got %d",
			c.SnoopFlushThreshold)
	}
	return nil
}

// Package main provides the entry point for xcachesim.
// xcachesim is a cycle-accurate simulator of a write-through cache
// subsystem on a PIBUS-style bus, built on Akita.
//
// For the full CLI, use: go run ./cmd/xcachesim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("xcachesim - Cache Subsystem Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: xcachesim [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -requests  Number of processor requests to issue")
	fmt.Println("  -config    Path to cache configuration JSON file")
	fmt.Println("  -trace     Print controller states every cycle")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/xcachesim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/xcachesim' instead.")
	}
}

// Package main - test-runner
// Runs the invariant soak against an in-memory vault fleet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/test"
)

func main() {
	vaults := flag.Int("vaults", 25, "Vaults to simulate")
	cycles := flag.Int("cycles", 500, "Scheduler cycles to run")
	step := flag.Duration("step", 5*time.Minute, "Simulated time per cycle")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "RNG seed for player commands")
	balanceFile := flag.String("balance", "", "Optional balance JSON override")
	flag.Parse()

	fmt.Println("VAULT SIMULATION - INVARIANT SOAK")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Vaults: %d  Cycles: %d  Step: %v  Seed: %d\n", *vaults, *cycles, *step, *seed)

	balance, err := rules.LoadBalance(*balanceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balance: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	results := test.NewSoak(test.SoakConfig{
		Vaults:  *vaults,
		Cycles:  *cycles,
		Step:    *step,
		Seed:    *seed,
		Balance: balance,
	}).Run(ctx)

	passed, failed := 0, 0
	for _, r := range results {
		mark := "PASS"
		if r.Passed {
			passed++
		} else {
			failed++
			mark = "FAIL"
		}
		fmt.Printf("  [%s] %s", mark, r.Scenario)
		if r.Reason != "" {
			fmt.Printf(" (%s)", r.Reason)
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Passed: %d  Failed: %d  Took: %v\n", passed, failed, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		os.Exit(1)
	}
}

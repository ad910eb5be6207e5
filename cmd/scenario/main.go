// Command scenario automates end-to-end coordinator/participant scenarios:
// it wires up an in-process coordinator and N scripted participants and
// fires generated transactions at them, reporting a commit/abort tally
// instead of requiring an operator to type commands by hand.
package main

import (
	"flag"
	"fmt"
	"os"

	"threepc/internal/scenario"
)

func main() {
	configPath := flag.String("config", "", "optional .properties scenario config file")
	participants := flag.Int("participants", 0, "override participant count (0 keeps config/default)")
	transactions := flag.Int("transactions", 0, "override transaction count (0 keeps config/default)")
	flag.Parse()

	cfg, err := scenario.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scenario: loading config: %v\n", err)
		os.Exit(1)
	}
	if *participants > 0 {
		cfg.NumParticipants = *participants
	}
	if *transactions > 0 {
		cfg.NumTransactions = *transactions
	}

	result, err := scenario.Run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scenario: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("attempted=%d committed=%d aborted=%d elapsed=%s\n",
		result.Attempted, result.Committed, result.Aborted, result.Elapsed)
}

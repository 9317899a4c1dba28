package main

// poolhubcmd.go holds the pool hub command group.

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func poolHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool-hub",
		Short: "Pool hub commands",
		Long:  "Run the miner registry and matchmaker, or inspect its registry.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the pool hub",
		Long:  "Run the miner registry and matchmaker serving the miner endpoints.",
		Run: func(*cobra.Command, []string) {
			serve(roles{poolHub: true})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "miners",
		Short: "List registered miners",
		Long:  "List every registered miner with its price, trust, and last heartbeat.",
		Run:   minerslistcmd,
	})

	return cmd
}

func minerslistcmd(*cobra.Command, []string) {
	miners, err := operatorClient().Miners()
	if err != nil {
		die(exitSemantic, "Could not list miners:", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRegion\tGPU\tVRAM\tPrice/1k\tSlots\tTrust\tLastSeen")
	for _, m := range miners {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.2f\t%s\n",
			m.ID, m.Region, m.Capabilities.GPUModel, m.Capabilities.VRAMGB,
			m.PricePer1K, m.MaxParallel, m.Trust, m.LastSeen.Time().Format(time.RFC3339))
	}
	w.Flush()
}

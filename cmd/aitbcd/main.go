// aitbcd is the unified daemon and operator tool for the compute
// marketplace. One binary serves every deployment role; the command groups
// select which modules a process runs: `aitbcd chain serve`, `aitbcd
// coordinator serve`, `aitbcd pool-hub serve`, or plain `aitbcd serve` for a
// single-process devnet running all three.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oib/AITBC-sub002/api"
	"github.com/oib/AITBC-sub002/build"
	"github.com/oib/AITBC-sub002/config"
)

// Exit codes. Per-command semantic failures start at 64.
const (
	exitOK        = 0
	exitConfig    = 1
	exitStartup   = 2
	exitMigration = 3
	exitSemantic  = 64
)

var (
	// Global flags.
	configPath     string
	dataDir        string
	apiAddr        string
	operatorSecret string
)

// die prints an error and exits with the given code.
func die(code int, args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

// operatorClient returns a client for the daemon named by --api-addr,
// carrying the operator secret when one was given.
func operatorClient() *api.Client {
	addr := apiAddr
	if addr == "" {
		addr = config.Default().API.RPCBind
	}
	return api.NewClient("http://"+addr, operatorSecret)
}

func versioncmd(*cobra.Command, []string) {
	fmt.Println("aitbcd v" + build.Version)
	fmt.Println("\trelease:", build.Release)
}

func stopcmd(*cobra.Command, []string) {
	if err := operatorClient().Stop(); err != nil {
		die(exitSemantic, "Could not stop daemon:", err)
	}
	fmt.Println("Daemon stopped.")
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "aitbcd v" + build.Version,
		Long:  "The compute marketplace daemon v" + build.Version,
		Run:   servecmd,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "directory for logs and persistent state")
	root.PersistentFlags().StringVarP(&apiAddr, "api-addr", "a", "", "address the API listens on (or the address operator commands dial)")
	root.PersistentFlags().StringVar(&operatorSecret, "secret", os.Getenv("COORDINATOR_SHARED_SECRET"), "shared secret for operator commands")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information.",
		Run:   versioncmd,
	})

	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Long:  "Ask the daemon at --api-addr to shut down.",
		Run:   stopcmd,
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run every module in one process",
		Long: "Run the chain node, coordinator, and pool hub in a single process.\n" +
			"This is the devnet topology; production deployments run one role per process.",
		Run: servecmd,
	})

	root.AddCommand(chainCmd())
	root.AddCommand(coordinatorCmd())
	root.AddCommand(poolHubCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitSemantic)
	}
}

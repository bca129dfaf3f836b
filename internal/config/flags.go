package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   SQLite path of the local store
//	-s string   base URL of the upstream HTTP API
//	-g string   host:port of the upstream gRPC endpoint
//	-e string   comma-separated HTTP probe endpoints
//	-i int      steady-state probe interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-g", "-e", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.StoreDSN, "d", cfg.StoreDSN, "path to the local store database")
	fs.StringVar(&cfg.ServerBaseURL, "s", cfg.ServerBaseURL, "base URL of the upstream server")
	fs.StringVar(&cfg.GRPCHealthAddr, "g", cfg.GRPCHealthAddr, "address and port of the upstream gRPC endpoint")
	endpoints := fs.String("e", strings.Join(cfg.ProbeEndpoints, ","), "comma-separated probe endpoints")
	steadyInterval := fs.Int("i", int(cfg.PollSteadyInterval.Seconds()), "steady-state probe interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *endpoints != "" {
		cfg.ProbeEndpoints = strings.Split(*endpoints, ",")
	}
	cfg.PollSteadyInterval = time.Duration(*steadyInterval) * time.Second
}

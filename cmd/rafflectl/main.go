// Command rafflectl is the operator CLI: scan posts, test the classifier,
// record corrections and manage tracked raffles.
package main

import (
	"os"
)

// version vars injected via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).Execute(); err != nil {
		a.p.Error(err.Error())
		os.Exit(1)
	}
}

// Command tierkit runs the tenant subscription and token ledger service.
package main

import (
	"fmt"
	"os"
)

// Set at build time with -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/kr/pretty"
)

// dumpPretty writes a labeled, structured dump of v to stderr for one of
// the --dump-* flags.
func dumpPretty(label string, v interface{}) {
	fmt.Fprintf(os.Stderr, "--- %s ---\n", label)
	if _, err := pretty.Fprintf(os.Stderr, "%# v\n", v); err != nil {
		dbg.Printf("dump %s: %v", label, err)
	}
}

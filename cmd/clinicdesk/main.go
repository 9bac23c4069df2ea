// Package main implements the clinicdesk command, which runs the clinic
// desk's task core, applies its schema and seeds demo data.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

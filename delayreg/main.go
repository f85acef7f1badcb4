// Package main is the entry point of the delayreg command-line tool.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/delayreg/delayreg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

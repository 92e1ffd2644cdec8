// Package main is the entry point for the argus camera traffic decoder.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/argus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

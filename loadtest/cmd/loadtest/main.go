// Command loadtest drives a RandomChips server with simulated clients.
//
// Usage:
//
//	loadtest <command> [options]
//
// Run "loadtest help" for the list of scenarios.
package main

import (
	"fmt"
	"os"
)

type command struct {
	name    string
	summary string
	run     func(args []string)
}

var commands = []command{
	{"saturate", "open N idle connections, hold them and probe liveness with ping", runSaturate},
	{"chat", "clients search, exchange messages, press next and repeat", runChat},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}
	for _, cmd := range commands {
		if cmd.name == name {
			cmd.run(os.Args[2:])
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "Usage: loadtest <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s  %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'loadtest <command> -h' for command-specific options.")
}

// Command tracedump decodes a call-trace file and dumps, lists, or renders
// its calls.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "dump":
		err = cmdDump(os.Args[2:])
	case "calls":
		err = cmdCalls(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "version":
		err = cmdVersion(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tracedump — call-trace decoder

Usage:
  tracedump dump    --trace <path> --out <dir>   Decode and write calls.json + signatures.json
  tracedump calls   --trace <path>                Decode and print a plain-text call listing
  tracedump graph   --trace <path> --out <dir>   Decode and write a call-graph DOT (and SVG if graphviz's dot is on PATH)
  tracedump version --trace <path>                Print the decoded stream's version and exit

Flags common to dump, calls and graph:
  -v    verbose logging
`)
}

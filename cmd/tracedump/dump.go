package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sailfish009/apitrace/internal/output"
)

func cmdDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	tracePath := fs.String("trace", "", "path to the trace file")
	outDir := fs.String("out", "", "output directory")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" || *outDir == "" {
		return fmt.Errorf("--trace and --out are required")
	}

	p, calls, err := decodeAll(*tracePath, *verbose)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", *outDir, err)
	}
	if err := output.WriteCallsJSON(*outDir, calls); err != nil {
		return err
	}
	tables := output.SignatureTables{
		Functions: p.Functions(),
		Structs:   p.Structs(),
		Enums:     p.Enums(),
		Bitmasks:  p.Bitmasks(),
	}
	if err := output.WriteSignaturesJSON(*outDir, tables); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "wrote %s/calls.json and %s/signatures.json\n", *outDir, *outDir)
	return nil
}

package main

import (
	"flag"
	"fmt"

	"github.com/sailfish009/apitrace/internal/trace"
)

func cmdVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	tracePath := fs.String("trace", "", "path to the trace file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" {
		return fmt.Errorf("--trace is required")
	}

	p, err := trace.Open(*tracePath, trace.Options{})
	if err != nil {
		return fmt.Errorf("open %s: %w", *tracePath, err)
	}
	defer p.Close()

	fmt.Printf("%d\n", p.Version())
	return nil
}

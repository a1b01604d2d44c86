package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sailfish009/apitrace/internal/callgraph"
	"github.com/sailfish009/apitrace/internal/render"
	"github.com/sailfish009/apitrace/internal/trace"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	tracePath := fs.String("trace", "", "path to the trace file")
	outDir := fs.String("out", "", "output directory")
	title := fs.String("title", "", "title for the call graph and HTML (defaults to the trace filename)")
	maxNodes := fs.Int("max-nodes", 0, "max function nodes in the call graph (0 = all)")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" || *outDir == "" {
		return fmt.Errorf("--trace and --out are required")
	}
	if *title == "" {
		*title = filepath.Base(*tracePath)
	}

	p, calls, err := decodeAll(*tracePath, *verbose)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", *outDir, err)
	}

	g := callgraph.Build(calls)
	callCounts := countCalls(calls)
	stats := render.ComputeStats(g, callCounts, len(calls))

	dot := render.CallgraphDOT(g, *title, render.NASA, *maxNodes)
	dotPath := filepath.Join(*outDir, "callgraph.dot")
	if err := os.WriteFile(dotPath, []byte(dot), 0644); err != nil {
		return fmt.Errorf("write callgraph.dot: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", dotPath, len(dot))

	hasSVG := false
	if dotBin, err := exec.LookPath("dot"); err == nil {
		svgPath := filepath.Join(*outDir, "callgraph.svg")
		cmd := exec.Command(dotBin, "-Tsvg", "-o", svgPath, dotPath)
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dot -Tsvg failed: %v\n", err)
		} else {
			hasSVG = true
			fmt.Fprintf(os.Stderr, "wrote %s\n", svgPath)
		}
	} else {
		fmt.Fprintln(os.Stderr, "graphviz dot not found on PATH; skipping SVG rendering")
	}

	htmlPath := filepath.Join(*outDir, "index.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("create index.html: %w", err)
	}
	defer f.Close()
	render.WriteIndexHTML(f, stats, *title, hasSVG)
	fmt.Fprintf(os.Stderr, "wrote %s\n", htmlPath)

	return nil
}

func countCalls(calls []*trace.Call) map[string]int {
	counts := make(map[string]int)
	for _, c := range calls {
		name := "?"
		if c.Sig != nil {
			name = c.Sig.Name
		}
		counts[name]++
	}
	return counts
}

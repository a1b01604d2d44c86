package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sailfish009/apitrace/internal/diag"
	"github.com/sailfish009/apitrace/internal/tlog"
	"github.com/sailfish009/apitrace/internal/trace"
)

// decodeAll opens path and decodes every call until end of stream,
// returning the parser (still open, with its interned signature tables
// populated) alongside the decoded calls in emission (LEAVE) order. The
// caller is responsible for calling p.Close().
func decodeAll(path string, verbose bool) (*trace.Parser, []*trace.Call, error) {
	logger, err := tlog.NewCLI(verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	tlog.SetLogger(logger)
	defer tlog.Sync()

	p, err := trace.Open(path, trace.Options{Mode: diag.ModeBestEffort})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	tlog.L().Sugar().Infof("opened %s: stream version %d", path, p.Version())

	var calls []*trace.Call
	for {
		call, err := p.ParseCall()
		if errors.Is(err, diag.ErrEndOfStream) {
			break
		}
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("parse call: %w", err)
		}
		calls = append(calls, call)
	}

	for _, d := range p.Diags() {
		tlog.L().Sugar().Warnf("%s", d.String())
	}
	fmt.Fprintf(os.Stderr, "decoded %d calls (%d advisories)\n", len(calls), len(p.Diags()))

	return p, calls, nil
}

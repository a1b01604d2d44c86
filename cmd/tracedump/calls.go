package main

import (
	"flag"
	"fmt"

	"github.com/sailfish009/apitrace/internal/output"
	"github.com/sailfish009/apitrace/internal/trace"
)

func cmdCalls(args []string) error {
	fs := flag.NewFlagSet("calls", flag.ExitOnError)
	tracePath := fs.String("trace", "", "path to the trace file")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" {
		return fmt.Errorf("--trace is required")
	}

	p, calls, err := decodeAll(*tracePath, *verbose)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, c := range calls {
		printCall(c)
	}
	return nil
}

func printCall(c *trace.Call) {
	name := "?"
	if c.Sig != nil {
		name = c.Sig.Name
	}
	fmt.Printf("#%d %s(", c.No, name)
	for i, a := range c.Args {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Print(formatValue(a))
	}
	fmt.Print(")")
	if c.Ret != nil {
		fmt.Printf(" = %s", formatValue(c.Ret))
	}
	fmt.Println()
}

func formatValue(v *trace.Value) string {
	if v == nil {
		return "<unset>"
	}
	switch v.Kind {
	case trace.KindNull:
		return "null"
	case trace.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case trace.KindSInt:
		return fmt.Sprintf("%d", v.SInt)
	case trace.KindUInt:
		return fmt.Sprintf("%d", v.UInt)
	case trace.KindFloat, trace.KindDouble:
		return fmt.Sprintf("%g", v.Double())
	case trace.KindString:
		return fmt.Sprintf("%q", v.Str)
	case trace.KindEnum:
		if v.EnumSig != nil {
			return v.EnumSig.Name
		}
		return "enum(?)"
	case trace.KindBitmask:
		if v.BitmaskSig != nil {
			return output.FormatBitmask(v.BitmaskSig, v.BitmaskVal)
		}
		return "bitmask(?)"
	case trace.KindArray:
		return fmt.Sprintf("[%d elements]", len(v.Array))
	case trace.KindStruct:
		name := "?"
		if v.StructSig != nil {
			name = v.StructSig.Name
		}
		return fmt.Sprintf("%s{...}", name)
	case trace.KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	case trace.KindOpaque:
		return fmt.Sprintf("0x%x", v.Opaque)
	default:
		return "?"
	}
}

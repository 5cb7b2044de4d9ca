package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tinyrange/efunc/internal/trace"
)

func runTrace(args []string) error {
	fs := flag.NewFlagSet("efunc trace", flag.ContinueOnError)
	call := fs.Uint64("call", 0, "Only show records of this call (0 for all)")
	summary := fs.Bool("summary", false, "Print record counts instead of records")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `efunc trace - inspect binary call traces

USAGE:
  efunc trace [flags] <file>

FLAGS:
  -call N     Only show the records of call N
  -summary    Print how many records of each kind the trace holds

OUTPUT FORMAT:
  Each record is printed as: TIMESTAMP call/N KIND DETAILS
`)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("trace file required")
	}

	r, closer, err := trace.NewReaderFromFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closer.Close()

	if *summary {
		fmt.Printf("records: %d\n", r.Len())
		for _, kind := range []trace.Kind{trace.KindConfigure, trace.KindPush, trace.KindResult, trace.KindClean} {
			n, err := r.Count(kind)
			if err != nil {
				return err
			}
			fmt.Printf("%-9s %d\n", kind, n)
		}
		return nil
	}

	show := func(rec trace.Record) error {
		fmt.Println(rec)
		return nil
	}
	if *call != 0 {
		return r.EachCall(*call, show)
	}
	return r.Each(show)
}

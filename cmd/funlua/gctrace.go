package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	funlua "github.com/funvibe/funlua/pkg/embed"
)

// A GC trace is a sequence of CBOR-encoded funlua.GCEvent records, one per
// completed collection.

var traceEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("gctrace: failed to create CBOR enc mode: %v", err))
	}
	traceEncMode = em
}

type traceWriter struct {
	w      io.Writer
	enc    *cbor.Encoder
	events int
	err    error
}

func newTraceWriter(w io.Writer) *traceWriter {
	return &traceWriter{w: w, enc: traceEncMode.NewEncoder(w)}
}

// observe is installed as the collector observer. It runs with the
// runtime locked, so it only encodes.
func (t *traceWriter) observe(ev funlua.GCEvent) {
	if t.err != nil {
		return
	}
	if err := t.enc.Encode(ev); err != nil {
		t.err = fmt.Errorf("gctrace: %w", err)
		return
	}
	t.events++
}

// readTrace decodes every record of a trace.
func readTrace(r io.Reader) ([]funlua.GCEvent, error) {
	dec := cbor.NewDecoder(r)
	var events []funlua.GCEvent
	for {
		var ev funlua.GCEvent
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("gctrace: record %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
}

func showTrace(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	events, err := readTrace(f)
	for i, ev := range events {
		fmt.Fprintf(out, "%4d %-8s %-12s total=%d estimate=%d live=%d freed=%d %s\n",
			i+1, ev.Kind, ev.Mode, ev.TotalBytes, ev.Estimate, ev.Live, ev.Freed,
			ev.At.Format("15:04:05.000000"))
	}
	return err
}

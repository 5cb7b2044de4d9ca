package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tinyrange/efunc/internal/manifest"
)

func TestPrintResultsStripsEscapes(t *testing.T) {
	results := []manifest.Result{
		{Name: "getenv", Text: "\x1b[31mred\x1b[0m"},
		{Name: "strlen", Text: "3", Out: []string{"7"}},
	}

	var buf bytes.Buffer
	printResults(&buf, results, false)
	want := "getenv = red\nstrlen = 3 out[0]=7\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	printResults(&buf, results[:1], true)
	if !strings.Contains(buf.String(), "\x1b[31m") {
		t.Fatalf("expected raw output to keep escapes, got %q", buf.String())
	}
}

func TestRunArguments(t *testing.T) {
	for _, tt := range []struct {
		args []string
		want string
	}{
		{nil, "manifest path required"},
		{[]string{"-repeat", "0", "x.yaml"}, "-repeat must be at least 1"},
		{[]string{"trace"}, "trace file required"},
	} {
		err := run(tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("run(%q): expected %q, got %v", tt.args, tt.want, err)
		}
	}
}

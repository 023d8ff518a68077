package diag

import (
	"bytes"
	"testing"

	"golang.org/x/text/language"

	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

func TestSnapshotIncludesFrameAndEnvSamples(t *testing.T) {
	physmem := mem.NewPhysmem(8, nil)
	envs := env.NewTable(2, physmem, &pgtbl.Root{})
	envs.Alloc(0)

	p := Snapshot(physmem, envs)
	if len(p.Sample) == 0 {
		t.Fatal("expected at least one sample")
	}
	var buf bytes.Buffer
	if err := Write(p, &buf); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty encoded profile")
	}
}

func TestReportFormatsCounts(t *testing.T) {
	physmem := mem.NewPhysmem(4, nil)
	envs := env.NewTable(2, physmem, &pgtbl.Root{})
	envs.Alloc(0)

	var buf bytes.Buffer
	if err := Report(&buf, language.English, physmem, envs); err != nil {
		t.Fatalf("report: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty report")
	}
}

func TestDisasFaultReportsOutOfRange(t *testing.T) {
	f := &trap.Frame{Eip: 0x1000}
	got := DisasFault(f, nil, 0x2000)
	if got == "" {
		t.Fatal("expected a message for an out-of-range fault site")
	}
}

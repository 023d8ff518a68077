package diag

import (
	"io"

	"github.com/google/pprof/profile"

	"exoq/env"
	"exoq/mem"
)

// Snapshot builds a pprof profile of kernel resource usage at a point
// in time: one sample each for free, used and reserved physical
// frames, and one sample per environment status present in the table,
// valued at the number of slots in that status. It is meant to be written out with
// Profile.Write and inspected with the standard pprof tooling, giving
// an operator the same flame-graph/top view they'd use on any other
// Go service, applied here to kernel object counts instead of CPU
// samples.
func Snapshot(physmem *mem.Physmem, envs *env.Table) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "snapshot", Unit: "count"},
		Period:     1,
	}

	fn := func(name string) *profile.Function {
		f := &profile.Function{ID: uint64(len(p.Function) + 1), Name: name, SystemName: name}
		p.Function = append(p.Function, f)
		return f
	}
	loc := func(f *profile.Function) *profile.Location {
		l := &profile.Location{ID: uint64(len(p.Location) + 1), Line: []profile.Line{{Function: f}}}
		p.Location = append(p.Location, l)
		return l
	}
	sample := func(name string, value int64) {
		l := loc(fn(name))
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{l},
			Value:    []int64{value},
		})
	}

	free, used, reserved := physmem.Stats()
	sample("frames.free", int64(free))
	sample("frames.used", int64(used))
	sample("frames.reserved", int64(reserved))

	statusName := map[env.Status]string{
		env.Free: "envs.free", env.Dying: "envs.dying", env.Runnable: "envs.runnable",
		env.Running: "envs.running", env.NotRunnable: "envs.not_runnable",
	}
	for status, n := range envs.Counts() {
		sample(statusName[status], int64(n))
	}

	return p
}

// Write encodes p in pprof's gzip-compressed wire format.
func Write(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}

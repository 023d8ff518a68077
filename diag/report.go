package diag

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"exoq/env"
	"exoq/mem"
)

// Report prints a locale-aware operator summary of frame and
// environment accounting to w, using the same message/language
// formatting stack a conventional service would use for user-facing
// text — applied here to kernel counters so large numbers get
// thousands separators instead of a raw Sprintf.
func Report(w io.Writer, tag language.Tag, physmem *mem.Physmem, envs *env.Table) error {
	p := message.NewPrinter(tag)

	free, used, reserved := physmem.Stats()
	if _, err := p.Fprintf(w, "frames: %d free, %d used, %d reserved\n", free, used, reserved); err != nil {
		return err
	}

	counts := envs.Counts()
	_, err := p.Fprintf(w, "environments: %d free, %d dying, %d runnable, %d running, %d not-runnable\n",
		counts[env.Free], counts[env.Dying], counts[env.Runnable], counts[env.Running], counts[env.NotRunnable])
	return err
}

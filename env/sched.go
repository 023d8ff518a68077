package env

// Yield implements the round-robin scheduler (§4.5): starting from the
// slot after the last environment run, scan for the first RUNNABLE
// slot. If the caller is still RUNNING and nobody else is RUNNABLE,
// re-run the caller. If nothing is RUNNING or RUNNABLE, the CPU should
// halt (reported via the ok=false return rather than actually halting,
// since that is a hardware action outside this package's scope).
//
// Single-CPU assumption (§5): at most one environment is RUNNING at a
// time; Yield does not itself enforce that invariant, it is maintained
// by callers never marking two environments RUNNING concurrently.
func (t *Table) Yield(caller *Env) (*Env, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.slots)
	if n == 0 {
		return nil, false
	}
	for i := 1; i <= n; i++ {
		idx := (t.lastRun + i) % n
		if t.slots[idx].Status == Runnable {
			t.lastRun = idx
			t.slots[idx].Status = Running
			t.slots[idx].Runs++
			return &t.slots[idx], true
		}
	}
	if caller != nil && caller.Status == Running {
		return caller, true
	}
	return nil, false
}

// SetStatus transitions e's status, matching sys_env_set_status's
// RUNNABLE/NOT_RUNNABLE target states (§4.4).
func (t *Table) SetStatus(e *Env, s Status) {
	t.mu.Lock()
	e.Status = s
	t.mu.Unlock()
}

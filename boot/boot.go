// Package boot wires every kernel subsystem together into one runnable
// instance (§1 "multiplexes a single machine"): the physical allocator,
// the shared kernel address space, the environment table, the snapshot
// table, the NIC, and the syscall dispatcher. Grounded on the
// teacher's top-level construction pattern of building each subsystem
// singleton explicitly at startup rather than relying on package-level
// globals (§9 design notes), generalized from a single hardcoded
// machine shape to a Config so tests can build small instances cheaply.
package boot

import (
	"io"
	"os"

	"exoq/env"
	"exoq/klog"
	"exoq/mem"
	"exoq/nic"
	"exoq/pgtbl"
	"exoq/snapshot"
	"exoq/syscall"
)

// Config describes the shape of the machine to construct (§3/§4.1):
// frame count, environment table capacity, snapshot table capacity,
// and the NIC's station MAC address.
type Config struct {
	NumFrames      int
	ReservedFrames []mem.Pa_t
	NumEnvs        int
	NumSnapshots   int
	MAC            [6]byte

	// LogSink receives boot-sequence log lines; nil means os.Stderr,
	// matching the teacher's default of writing startup banners
	// straight to the console.
	LogSink io.Writer
}

// DefaultConfig returns a small but workable machine shape suitable
// for tests and the demo command.
func DefaultConfig() Config {
	return Config{
		NumFrames:    4096,
		NumEnvs:      64,
		NumSnapshots: 16,
		MAC:          [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
	}
}

// Console is the boot-time default implementation of syscall.Console:
// an in-memory line buffer and byte queue, standing in for the real
// VGA/serial console (§1 out of scope).
type Console struct {
	Out []byte
	In  []byte
}

func (c *Console) WriteString(s string) { c.Out = append(c.Out, s...) }
func (c *Console) ReadByte() (byte, bool) {
	if len(c.In) == 0 {
		return 0, false
	}
	b := c.In[0]
	c.In = c.In[1:]
	return b, true
}

// Machine bundles every constructed subsystem singleton plus the
// syscall dispatcher that ties them together.
type Machine struct {
	Phys       *mem.Physmem
	KernelRoot *pgtbl.Root
	Envs       *env.Table
	Snaps      *snapshot.Table
	Nic        *nic.Device
	Console    *Console
	Kernel     *syscall.Kernel
}

// Boot constructs a Machine per cfg (§1). NIC attach uses a zeroed
// simulated MMIO region sized to the highest register Attach touches,
// standing in for a PCI BAR mapping (§4.8, out of scope: the bus
// walker that would discover this region on real hardware).
func Boot(cfg Config, clock syscall.Clock) (*Machine, error) {
	sink := cfg.LogSink
	if sink == nil {
		sink = os.Stderr
	}
	log := klog.New(sink, klog.Info)

	phys := mem.NewPhysmem(cfg.NumFrames, cfg.ReservedFrames)
	log.Infof("reserved %d of %d frames", len(cfg.ReservedFrames), cfg.NumFrames)
	kernelRoot := &pgtbl.Root{}
	envs := env.NewTable(cfg.NumEnvs, phys, kernelRoot)
	snaps := snapshot.NewTable(cfg.NumSnapshots, phys)

	regs := make(nic.MMIORegion, nic.RegRA+2)
	dev, err := nic.Attach(regs, cfg.MAC)
	if err != 0 {
		log.Errorf("nic attach failed: %v", err)
		return nil, err
	}
	log.Infof("nic attached, mac=%02x:%02x:%02x:%02x:%02x:%02x",
		cfg.MAC[0], cfg.MAC[1], cfg.MAC[2], cfg.MAC[3], cfg.MAC[4], cfg.MAC[5])

	console := &Console{}
	k := &syscall.Kernel{
		Envs:    envs,
		Phys:    phys,
		Snaps:   snaps,
		Nic:     dev,
		Console: console,
		Clock:   clock,
	}

	return &Machine{
		Phys: phys, KernelRoot: kernelRoot, Envs: envs,
		Snaps: snaps, Nic: dev, Console: console, Kernel: k,
	}, nil
}

// SpawnRoot allocates the first user environment with parent id 0
// (§4.3: the root environment has no real parent to check permissions
// against) and marks it Runnable.
func (m *Machine) SpawnRoot() (*env.Env, error) {
	e, kerr := m.Envs.Alloc(0)
	if kerr != 0 {
		return nil, kerr
	}
	e.Status = env.Runnable
	return e, nil
}

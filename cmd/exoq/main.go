// Command exoq boots one machine instance and runs a short demo
// scenario (spawn an environment, print a diagnostic report) on the
// host. It stands in for the real boot loader, which on
// hardware would instead jump into the kernel's entry point directly
// (§1 out of scope: multiboot/BIOS handoff).
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"golang.org/x/text/language"

	"exoq/boot"
	"exoq/diag"
)

func main() {
	numFrames := flag.Int("frames", 4096, "physical frame count")
	numEnvs := flag.Int("envs", 64, "environment table capacity")
	flag.Parse()

	cfg := boot.DefaultConfig()
	cfg.NumFrames = *numFrames
	cfg.NumEnvs = *numEnvs

	start := time.Now()
	m, err := boot.Boot(cfg, func() uint64 { return uint64(time.Since(start).Milliseconds()) })
	if err != nil {
		log.Fatalf("boot: %v", err)
	}

	root, rerr := m.SpawnRoot()
	if rerr != nil {
		log.Fatalf("spawn root environment: %v", rerr)
	}
	log.Printf("spawned root environment %d", root.Id)

	if err := diag.Report(os.Stdout, language.English, m.Phys, m.Envs); err != nil {
		log.Fatalf("report: %v", err)
	}
}

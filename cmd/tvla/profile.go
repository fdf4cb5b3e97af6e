package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// profileCPUAndMem samples this process's CPU and memory use once a
// second and appends csv lines (cpu%,rss,vms,swap) to file. It runs
// until the process exits.
func profileCPUAndMem(file string) {
	f, err := os.Create(file)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Fatal(err)
	}
	for range time.NewTicker(1 * time.Second).C {
		cpu, err := proc.CPUPercent()
		if err != nil {
			continue
		}
		mem, err := proc.MemoryInfo()
		if err != nil {
			continue
		}

		fmt.Fprintf(f, "%f,%d,%d,%d\n", cpu, mem.RSS, mem.VMS, mem.Swap)
	}
}

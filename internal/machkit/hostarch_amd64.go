//go:build darwin && amd64

package machkit

import "github.com/dispatchrun/kscrash/internal/cpu"

func detectHostArch() cpu.Arch { return cpu.ArchX86_64 }

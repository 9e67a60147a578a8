//go:build darwin && arm64

package machkit

import "github.com/dispatchrun/kscrash/internal/cpu"

func detectHostArch() cpu.Arch { return cpu.ArchARM64 }

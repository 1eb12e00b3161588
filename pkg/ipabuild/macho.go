package ipabuild

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/blacktop/go-macho"
)

// Mach-O CPU type and subtype values (mach/machine.h)
const (
	cpuArch64        = 0x01000000
	cpuTypeX86       = 7
	cpuTypeARM       = 12
	cpuSubtypeMask   = 0xff000000
	cpuSubtypeArmV7  = 9
	cpuSubtypeArmV7S = 11
	cpuSubtypeArm64E = 2

	fatMagic = 0xcafebabe
)

// MachOInspector lists slices by reading the Mach-O headers directly,
// without depending on lipo being installed
type MachOInspector struct{}

// Slices returns the architectures in a fat or thin Mach-O file, named the way lipo names them
func (MachOInspector) Slices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary: %w", err)
	}
	return MachOSlices(data)
}

// MachOSlices returns the architectures contained in Mach-O data
func MachOSlices(data []byte) ([]string, error) {
	if len(data) >= 4 && binary.BigEndian.Uint32(data[:4]) == fatMagic {
		fat, err := macho.NewFatFile(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse fat binary: %w", err)
		}
		defer fat.Close()

		slices := make([]string, 0, len(fat.Arches))
		for _, arch := range fat.Arches {
			slices = append(slices, archName(uint32(arch.CPU), uint32(arch.SubCPU)))
		}
		return slices, nil
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Mach-O: %w", err)
	}
	defer m.Close()

	return []string{archName(uint32(m.CPU), uint32(m.SubCPU))}, nil
}

func archName(cpu, sub uint32) string {
	sub &^= cpuSubtypeMask

	switch cpu {
	case cpuTypeX86:
		return "i386"
	case cpuTypeX86 | cpuArch64:
		return "x86_64"
	case cpuTypeARM:
		switch sub {
		case cpuSubtypeArmV7:
			return "armv7"
		case cpuSubtypeArmV7S:
			return "armv7s"
		}
		return "arm"
	case cpuTypeARM | cpuArch64:
		if sub == cpuSubtypeArm64E {
			return "arm64e"
		}
		return "arm64"
	}
	return fmt.Sprintf("cputype(%d)", cpu)
}

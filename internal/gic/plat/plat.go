// Package plat holds the compiled-in platform constants shared by every
// supported SoC variant: the core topology and the GIC register map.
package plat

import (
	"errors"
	"fmt"
)

const (
	ClusterCount      = 2
	MaxCPUsPerCluster = 2

	// CoreCount is the number of per-core slots every variant carries.
	CoreCount = ClusterCount * MaxCPUsPerCluster
)

// GIC register block bases.
const (
	GICDBase     = 0x5fe00000
	LD11GICRBase = 0x5fe40000
	LD20GICRBase = 0x5fe80000
	PXS3GICRBase = 0x5fe80000

	GICDSize      = 0x10000
	GICRFrameSize = 0x20000 // RD_base + SGI_base, 64 KiB each
)

// MPIDR affinity fields.
const (
	mpidrAff0Shift  = 0
	mpidrAff1Shift  = 8
	mpidrAffLvlMask = 0xff

	// Aff0..Aff3 (Aff3 lives in bits 39:32).
	mpidrAffinityMask = 0xff00ffffff
	mpidrAff01Mask    = 0xffff
)

var ErrUnknownMPIDR = errors.New("plat: MPIDR does not name a core on this platform")

// CorePos maps an MPIDR to the dense core position cluster*MaxCPUsPerCluster+cpu.
func CorePos(mpidr uint64) (int, error) {
	if mpidr&mpidrAffinityMask != mpidr&mpidrAff01Mask {
		return 0, fmt.Errorf("%w: %#x has Aff2/Aff3 bits set", ErrUnknownMPIDR, mpidr)
	}

	cluster := (mpidr >> mpidrAff1Shift) & mpidrAffLvlMask
	if cluster >= ClusterCount {
		return 0, fmt.Errorf("%w: %#x cluster %d >= %d", ErrUnknownMPIDR, mpidr, cluster, ClusterCount)
	}

	cpu := (mpidr >> mpidrAff0Shift) & mpidrAffLvlMask
	if cpu >= MaxCPUsPerCluster {
		return 0, fmt.Errorf("%w: %#x cpu %d >= %d", ErrUnknownMPIDR, mpidr, cpu, MaxCPUsPerCluster)
	}

	return int(cluster)*MaxCPUsPerCluster + int(cpu), nil
}

// MPIDR builds the affinity value of the core at pos. It is the inverse of
// CorePos and panics on an out-of-range position.
func MPIDR(pos int) uint64 {
	if pos < 0 || pos >= CoreCount {
		panic(fmt.Sprintf("plat: core position %d out of range", pos))
	}
	cluster := uint64(pos / MaxCPUsPerCluster)
	cpu := uint64(pos % MaxCPUsPerCluster)
	return cluster<<mpidrAff1Shift | cpu<<mpidrAff0Shift
}

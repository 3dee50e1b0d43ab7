package gicv3

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/gicboot/internal/gic/plat"
)

// ReadMMIO reads a 32-bit register of the modelled controller at physical
// address addr. Unmodelled registers read as zero.
func (e *Emulator) ReadMMIO(addr uint64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg == nil {
		return ErrNotInitialized
	}

	if addr >= e.cfg.DistributorBase && addr < e.cfg.DistributorBase+plat.GICDSize {
		writeU32LE(data, e.readDistributor(addr-e.cfg.DistributorBase))
		return nil
	}

	redistEnd := e.cfg.RedistributorBase + plat.GICRFrameSize*uint64(len(e.redist))
	if addr >= e.cfg.RedistributorBase && addr < redistEnd {
		offset := addr - e.cfg.RedistributorBase
		cpuIdx := int(offset / plat.GICRFrameSize)
		writeU32LE(data, e.readRedistributor(cpuIdx, offset%plat.GICRFrameSize))
		return nil
	}

	return fmt.Errorf("gicv3: %#x is outside the GIC register map", addr)
}

func (e *Emulator) readDistributor(offset uint64) uint32 {
	switch {
	case offset == gicdCtlr:
		return e.distCtlr
	case offset == gicdTyper:
		// ITLinesNumber, SecurityExtn.
		return uint32(len(e.spiIgroupr)-1) | 1<<10
	case offset == gicdIidr:
		return gicImplementer
	case offset == gicdPidr2:
		return gicArchRevGICv3
	case offset >= gicdIgroupr && offset < gicdIgroupr+spiWords*4:
		return e.spiIgroupr[(offset-gicdIgroupr)/4]
	case offset >= gicdIsenabler && offset < gicdIsenabler+spiWords*4:
		return e.spiIsenabler[(offset-gicdIsenabler)/4]
	case offset >= gicdIgrpmodr && offset < gicdIgrpmodr+spiWords*4:
		return e.spiIgrpmodr[(offset-gicdIgrpmodr)/4]
	default:
		return 0
	}
}

func (e *Emulator) readRedistributor(cpuIdx int, offset uint64) uint32 {
	rd := &e.redist[cpuIdx]

	switch {
	case offset == gicrCtlr:
		return 0
	case offset == gicrIidr:
		return gicImplementer
	case offset == gicrTyper:
		// Processor number in [23:8], Last in bit 4.
		value := uint32(cpuIdx) << 8
		if cpuIdx == len(e.redist)-1 {
			value |= 1 << 4
		}
		return value
	case offset == gicrTyper+4:
		return uint32(plat.MPIDR(cpuIdx))
	case offset == gicrWaker:
		return rd.waker
	case offset == gicrIgroupr0:
		return rd.igroupr0
	case offset == gicrIgrpmodr0:
		return rd.igrpmodr0
	case offset == gicrIsenabler0:
		return rd.isenabler0
	case offset >= gicrIpriorityr && offset < gicrIpriorityr+minSPI:
		n := offset - gicrIpriorityr
		n -= n % 4
		return binary.LittleEndian.Uint32(rd.priority[n : n+4])
	case offset == gicrPidr2RDBase, offset == gicrPidr2SGIBase:
		return gicArchRevGICv3
	default:
		return 0
	}
}

func writeU32LE(data []byte, value uint32) {
	if len(data) >= 4 {
		binary.LittleEndian.PutUint32(data, value)
	} else {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], value)
		copy(data, tmp[:len(data)])
	}
}

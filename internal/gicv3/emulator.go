// Package gicv3 is a software model of a GICv3 implementing gic.Driver. It
// keeps the register state a real controller would hold after each
// bring-up step, so the sequencing in package gic can be exercised and
// inspected without hardware.
package gicv3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/gicboot/internal/debug"
	"github.com/tinyrange/gicboot/internal/gic"
	"github.com/tinyrange/gicboot/internal/gic/plat"
)

var (
	ErrNotInitialized = errors.New("gicv3: driver not initialized")
	ErrMisaligned     = errors.New("gicv3: register block misaligned")
	ErrAsleep         = errors.New("gicv3: redistributor asleep")
)

type redistributor struct {
	waker      uint32
	igroupr0   uint32
	igrpmodr0  uint32
	isenabler0 uint32
	priority   [minSPI]uint8
	configured uint32 // banked INTIDs programmed by this driver

	// ICC_SRE_EL3, ICC_IGRPEN0_EL1, ICC_IGRPEN1_EL3 (secure bit).
	sre     bool
	igrpen0 bool
	igrpen1 bool
}

// Emulator holds the modelled controller state.
type Emulator struct {
	mu  sync.Mutex
	cfg *gic.VariantConfig

	distCtlr      uint32
	spiIgroupr    [spiWords]uint32
	spiIgrpmodr   [spiWords]uint32
	spiIsenabler  [spiWords]uint32
	spiConfigured [spiWords]uint32

	redist []redistributor
}

var _ gic.Driver = (*Emulator)(nil)

var dbg = debug.WithSource("gicv3")

func New() *Emulator {
	return &Emulator{}
}

// Init takes cfg and resets the controller to its power-on state.
func (e *Emulator) Init(cfg *gic.VariantConfig) error {
	if cfg == nil {
		return fmt.Errorf("gicv3: init with nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DistributorBase%plat.GICDSize != 0 {
		return fmt.Errorf("%w: GICD base %#x not aligned to %#x", ErrMisaligned, cfg.DistributorBase, plat.GICDSize)
	}
	if cfg.RedistributorBase%plat.GICRFrameSize != 0 {
		return fmt.Errorf("%w: GICR base %#x not aligned to %#x", ErrMisaligned, cfg.RedistributorBase, plat.GICRFrameSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.distCtlr = 0
	e.spiIgroupr = [spiWords]uint32{}
	e.spiIgrpmodr = [spiWords]uint32{}
	e.spiIsenabler = [spiWords]uint32{}
	e.spiConfigured = [spiWords]uint32{}
	e.redist = make([]redistributor, cfg.CoreCount)
	for i := range e.redist {
		e.redist[i].waker = wakerProcessorSleep | wakerChildrenAsleep
		for j := range e.redist[i].priority {
			e.redist[i].priority[j] = defaultPriority
		}
	}

	dbg.Writef("init variant=%s cores=%d", cfg.Variant, cfg.CoreCount)

	return nil
}

// InitDistributor routes every SPI to the non-secure world, then moves the
// configured secure SPIs into their groups and enables affinity routing and
// the secure groups.
func (e *Emulator) InitDistributor() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg == nil {
		return ErrNotInitialized
	}

	e.distCtlr = 0
	for i := range e.spiIgroupr {
		e.spiIgroupr[i] = ^uint32(0)
		e.spiIgrpmodr[i] = 0
	}
	e.distCtlr |= ctlrARES | ctlrARENS

	e.eachSecure(func(id gic.InterruptID, g gic.Group) {
		if id < minSPI || id >= maxSPI {
			return
		}
		word, bit := id/32, uint32(1)<<(id%32)
		setGroup(&e.spiIgroupr[word], &e.spiIgrpmodr[word], bit, g)
		e.spiIsenabler[word] |= bit
		e.spiConfigured[word] |= bit
	})

	e.distCtlr |= ctlrEnableG0 | ctlrEnableG1S

	dbg.Writef("distributor init ctlr=%#x", e.distCtlr)
	dbg.WriteBytes(e.spiGroupImage())

	return nil
}

// InitRedistributor wakes the core's redistributor, programs its banked
// secure interrupts and records the frame address in the variant's table.
func (e *Emulator) InitRedistributor(core gic.CoreIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rd, err := e.redistributor(core)
	if err != nil {
		return err
	}
	if e.distCtlr&ctlrARES == 0 {
		return fmt.Errorf("gicv3: redistributor %d before affinity routing is enabled", core)
	}

	addr := e.cfg.RedistributorBase + uint64(core)*plat.GICRFrameSize
	if err := e.cfg.Redistributors.Set(core, addr); err != nil {
		return err
	}

	rd.waker = 0
	rd.igroupr0 = ^uint32(0)
	rd.igrpmodr0 = 0

	e.eachSecure(func(id gic.InterruptID, g gic.Group) {
		if id >= minSPI {
			return
		}
		bit := uint32(1) << id
		setGroup(&rd.igroupr0, &rd.igrpmodr0, bit, g)
		rd.priority[id] = highestSecurePriority
		rd.isenabler0 |= bit
		rd.configured |= bit
	})

	dbg.Writef("redistributor init core=%d frame=%#x igroupr0=%#x igrpmodr0=%#x", core, addr, rd.igroupr0, rd.igrpmodr0)

	return nil
}

// EnableCPUInterface marks the redistributor awake and enables both secure
// groups at the core's system register interface.
func (e *Emulator) EnableCPUInterface(core gic.CoreIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rd, err := e.redistributor(core)
	if err != nil {
		return err
	}
	if _, ok := e.cfg.Redistributors.Lookup(core); !ok {
		return fmt.Errorf("%w: core %d was never initialized", ErrAsleep, core)
	}

	rd.waker = 0
	rd.sre = true
	rd.igrpen0 = true
	rd.igrpen1 = true

	dbg.Writef("cpu interface enable core=%d", core)

	return nil
}

// DisableCPUInterface disables both groups and marks the redistributor asleep
// so the core can be powered down.
func (e *Emulator) DisableCPUInterface(core gic.CoreIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rd, err := e.redistributor(core)
	if err != nil {
		return err
	}

	rd.igrpen0 = false
	rd.igrpen1 = false
	rd.waker = wakerProcessorSleep | wakerChildrenAsleep

	dbg.Writef("cpu interface disable core=%d", core)

	return nil
}

// spiGroupImage is GICD_IGROUPR<n> followed by GICD_IGRPMODR<n>, little
// endian, as the distributor presents them.
func (e *Emulator) spiGroupImage() []byte {
	buf := make([]byte, 0, 2*spiWords*4)
	for _, w := range e.spiIgroupr {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	for _, w := range e.spiIgrpmodr {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

// Group reports the group the driver programmed id into as seen by core.
// The second result is false for interrupts the driver never configured.
func (e *Emulator) Group(core gic.CoreIndex, id gic.InterruptID) (gic.Group, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var igroup, igrpmod, configured uint32
	bit := uint32(1) << (id % 32)
	switch {
	case id < minSPI:
		if int(core) >= len(e.redist) {
			return 0, false
		}
		rd := &e.redist[core]
		igroup, igrpmod, configured = rd.igroupr0, rd.igrpmodr0, rd.configured
	case id < maxSPI:
		w := id / 32
		igroup, igrpmod, configured = e.spiIgroupr[w], e.spiIgrpmodr[w], e.spiConfigured[w]
	default:
		return 0, false
	}

	if configured&bit == 0 || igroup&bit != 0 {
		return 0, false
	}
	if igrpmod&bit != 0 {
		return gic.Group1Secure, true
	}
	return gic.Group0, true
}

// CPUInterfaceEnabled reports whether core can currently take secure
// interrupts.
func (e *Emulator) CPUInterfaceEnabled(core gic.CoreIndex) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(core) >= len(e.redist) {
		return false
	}
	rd := &e.redist[core]
	return rd.sre && rd.igrpen0 && rd.igrpen1 && rd.waker&wakerProcessorSleep == 0
}

func (e *Emulator) redistributor(core gic.CoreIndex) (*redistributor, error) {
	if e.cfg == nil {
		return nil, ErrNotInitialized
	}
	if int(core) >= len(e.redist) {
		return nil, fmt.Errorf("%w: %d", gic.ErrCoreIndex, core)
	}
	return &e.redist[core], nil
}

func (e *Emulator) eachSecure(fn func(id gic.InterruptID, g gic.Group)) {
	for _, id := range e.cfg.Group0 {
		fn(id, gic.Group0)
	}
	for _, id := range e.cfg.Group1Secure {
		fn(id, gic.Group1Secure)
	}
}

// G0 is IGROUPR=0/IGRPMODR=0, G1S is IGROUPR=0/IGRPMODR=1.
func setGroup(igroup, igrpmod *uint32, bit uint32, g gic.Group) {
	*igroup &^= bit
	if g == gic.Group1Secure {
		*igrpmod |= bit
	} else {
		*igrpmod &^= bit
	}
}

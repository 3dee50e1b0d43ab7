package gicv3

// Distributor register offsets.
const (
	gicdCtlr      = 0x0000
	gicdTyper     = 0x0004
	gicdIidr      = 0x0008
	gicdIgroupr   = 0x0080
	gicdIsenabler = 0x0100
	gicdIgrpmodr  = 0x0D00
	gicdPidr2     = 0xFFE8
)

// GICD_CTLR bits (secure view).
const (
	ctlrEnableG0   = 1 << 0
	ctlrEnableG1NS = 1 << 1
	ctlrEnableG1S  = 1 << 2
	ctlrARES       = 1 << 4
	ctlrARENS      = 1 << 5
)

// Redistributor register offsets. Each frame is RD_base followed by SGI_base.
const (
	gicrCtlr  = 0x0000
	gicrIidr  = 0x0004
	gicrTyper = 0x0008
	gicrWaker = 0x0014

	gicrSGIOffset  = 0x10000
	gicrIgroupr0   = gicrSGIOffset + 0x0080
	gicrIsenabler0 = gicrSGIOffset + 0x0100
	gicrIpriorityr = gicrSGIOffset + 0x0400
	gicrIgrpmodr0  = gicrSGIOffset + 0x0D00

	gicrPidr2RDBase  = 0xFFE8
	gicrPidr2SGIBase = gicrSGIOffset + 0xFFE8
)

// GICR_WAKER bits.
const (
	wakerProcessorSleep = 1 << 1
	wakerChildrenAsleep = 1 << 2
)

const (
	gicArchRevGICv3 = 0x30
	gicImplementer  = 0x0200043B

	// INTIDs below this are banked in each redistributor.
	minSPI = 32
	maxSPI = 1020

	// One bit per INTID in the distributor's banked-register arrays.
	spiWords = 1024 / 32

	// Secure interrupts are programmed at the highest priority.
	highestSecurePriority = 0x00
	defaultPriority       = 0xa0
)

package gic

import "fmt"

// InterruptID is a GIC INTID.
type InterruptID uint32

// Group is the security group an interrupt is routed through.
type Group uint8

const (
	Group0 Group = iota
	Group1Secure
)

func (g Group) String() string {
	switch g {
	case Group0:
		return "G0"
	case Group1Secure:
		return "G1S"
	default:
		return fmt.Sprintf("Group(%d)", uint8(g))
	}
}

// Secure interrupt sources. SGIs 0-15 and PPIs 16-31 are banked per core.
const (
	IRQSecPhysicalTimer InterruptID = 29

	IRQSecSGI0 InterruptID = 8
	IRQSecSGI1 InterruptID = 9
	IRQSecSGI2 InterruptID = 10
	IRQSecSGI3 InterruptID = 11
	IRQSecSGI4 InterruptID = 12
	IRQSecSGI5 InterruptID = 13
	IRQSecSGI6 InterruptID = 14
	IRQSecSGI7 InterruptID = 15
)

// The order below is the order the driver registers them in.
var (
	group1SecureInterrupts = [...]InterruptID{
		IRQSecPhysicalTimer,
		IRQSecSGI1,
		IRQSecSGI2,
		IRQSecSGI3,
		IRQSecSGI4,
		IRQSecSGI5,
		IRQSecSGI7,
	}

	group0Interrupts = [...]InterruptID{
		IRQSecSGI0,
		IRQSecSGI6,
	}
)

// Classify reports which group the shared tables put id in. Interrupts in
// neither table are left at the controller's reset configuration.
func Classify(id InterruptID) (Group, bool) {
	for _, g0 := range group0Interrupts {
		if g0 == id {
			return Group0, true
		}
	}
	for _, g1s := range group1SecureInterrupts {
		if g1s == id {
			return Group1Secure, true
		}
	}
	return 0, false
}

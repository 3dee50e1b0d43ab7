package gic

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/tinyrange/gicboot/internal/gic/plat"
)

// Variant identifies one SoC in the family.
type Variant uint8

const (
	VariantLD11 Variant = iota
	VariantLD20
	VariantPXS3

	variantCount
)

var variantNames = [variantCount]string{
	VariantLD11: "ld11",
	VariantLD20: "ld20",
	VariantPXS3: "pxs3",
}

func (v Variant) String() string {
	if v < variantCount {
		return variantNames[v]
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// ParseVariant accepts the lower-case SoC name used in board files.
func ParseVariant(name string) (Variant, error) {
	for v, n := range variantNames {
		if strings.EqualFold(n, name) {
			return Variant(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

// RedistributorTable caches the redistributor frame address of each core.
// Each slot is written once, by the driver, while its core attaches.
type RedistributorTable struct {
	slots []atomic.Uint64
}

func newRedistributorTable(n int) *RedistributorTable {
	return &RedistributorTable{slots: make([]atomic.Uint64, n)}
}

func (t *RedistributorTable) Len() int { return len(t.slots) }

// Set resolves the slot of core. A zero address is not a valid frame.
func (t *RedistributorTable) Set(core CoreIndex, addr uint64) error {
	if int(core) >= len(t.slots) {
		return fmt.Errorf("%w: %d >= %d", ErrCoreIndex, core, len(t.slots))
	}
	if addr == 0 {
		return fmt.Errorf("gic: redistributor address for core %d is zero", core)
	}
	if !t.slots[core].CompareAndSwap(0, addr) {
		return fmt.Errorf("%w: core %d holds %#x", ErrSlotResolved, core, t.slots[core].Load())
	}
	return nil
}

// Lookup returns the frame address of core and whether it has been resolved.
func (t *RedistributorTable) Lookup(core CoreIndex) (uint64, bool) {
	if int(core) >= len(t.slots) {
		return 0, false
	}
	addr := t.slots[core].Load()
	return addr, addr != 0
}

// VariantConfig is everything the driver needs to know about one SoC.
type VariantConfig struct {
	Variant Variant

	DistributorBase   uint64
	RedistributorBase uint64

	Group0       []InterruptID
	Group1Secure []InterruptID

	CoreCount      int
	Redistributors *RedistributorTable

	Affinity AffinityResolver
}

// Validate checks the invariants every configuration must hold before it is
// handed to a driver.
func (c *VariantConfig) Validate() error {
	if c.DistributorBase == 0 || c.RedistributorBase == 0 {
		return fmt.Errorf("%w: %s: base address unset", ErrInvalidConfig, c.Variant)
	}
	if c.CoreCount != plat.CoreCount {
		return fmt.Errorf("%w: %s: core count %d, platform has %d", ErrInvalidConfig, c.Variant, c.CoreCount, plat.CoreCount)
	}
	if c.Redistributors == nil || c.Redistributors.Len() != c.CoreCount {
		return fmt.Errorf("%w: %s: redistributor table does not have %d slots", ErrInvalidConfig, c.Variant, c.CoreCount)
	}
	if c.Affinity == nil {
		return fmt.Errorf("%w: %s: no affinity resolver", ErrInvalidConfig, c.Variant)
	}

	seen := make(map[InterruptID]Group, len(c.Group0)+len(c.Group1Secure))
	check := func(ids []InterruptID, g Group) error {
		for _, id := range ids {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("%w: %s: interrupt %d in %s and %s", ErrInvalidConfig, c.Variant, id, prev, g)
			}
			seen[id] = g
		}
		return nil
	}
	if err := check(c.Group0, Group0); err != nil {
		return err
	}
	return check(c.Group1Secure, Group1Secure)
}

// Registry maps every supported variant to its configuration.
type Registry struct {
	configs [variantCount]*VariantConfig
}

// NewRegistry builds the configuration of every variant. All variants share
// the classification tables and the affinity policy; each owns its own
// redistributor table.
func NewRegistry(affinity AffinityResolver) *Registry {
	gicrBase := [variantCount]uint64{
		VariantLD11: plat.LD11GICRBase,
		VariantLD20: plat.LD20GICRBase,
		VariantPXS3: plat.PXS3GICRBase,
	}

	r := &Registry{}
	for v := range variantCount {
		r.configs[v] = &VariantConfig{
			Variant:           v,
			DistributorBase:   plat.GICDBase,
			RedistributorBase: gicrBase[v],
			Group0:            slices.Clone(group0Interrupts[:]),
			Group1Secure:      slices.Clone(group1SecureInterrupts[:]),
			CoreCount:         plat.CoreCount,
			Redistributors:    newRedistributorTable(plat.CoreCount),
			Affinity:          affinity,
		}
	}
	return r
}

// Config returns the configuration of v.
func (r *Registry) Config(v Variant) (*VariantConfig, error) {
	if v >= variantCount {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrUnknownVariant, uint8(v), variantCount)
	}
	return r.configs[v], nil
}

func (r *Registry) Variants() []Variant {
	out := make([]Variant, 0, variantCount)
	for v := range variantCount {
		out = append(out, v)
	}
	return out
}

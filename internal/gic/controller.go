// Package gic brings up a GICv3 interrupt controller for the secure world of
// every core on a family of SoC variants.
//
// Bring-up happens in three stages. SelectVariant hands the variant's
// configuration to the register-level driver once, on the boot core. StageInit
// then initializes the distributor and attaches the boot core. Every other
// core attaches itself with PerCoreAttach and CPUInterfaceEnable after the
// boot core has released it.
package gic

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/gicboot/internal/debug"
	"github.com/tinyrange/gicboot/internal/gic/plat"
)

var (
	traceSelect       = debug.WithSource("gic select variant")
	traceDistributor  = debug.WithSource("gic distributor init")
	traceRedist       = debug.WithSource("gic redistributor init")
	traceEnable       = debug.WithSource("gic cpu interface enable")
	traceDisable      = debug.WithSource("gic cpu interface disable")
	traceAffinityFail = debug.WithSource("gic resolve affinity failed")
)

// Affinity is a core's hardware affinity value (MPIDR_EL1).
type Affinity uint64

// CoreIndex is a dense core position in [0, CoreCount).
type CoreIndex uint32

// AffinityResolver maps the affinity of a core to its dense index.
type AffinityResolver interface {
	CoreIndex(aff Affinity) (CoreIndex, error)
}

// MPIDRResolver resolves affinities with the platform's cluster/cpu layout.
type MPIDRResolver struct{}

func (MPIDRResolver) CoreIndex(aff Affinity) (CoreIndex, error) {
	pos, err := plat.CorePos(uint64(aff))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAffinity, err)
	}
	return CoreIndex(pos), nil
}

// Driver is the register-level GICv3 driver. Init receives the selected
// configuration and keeps it for every later call; InitRedistributor is
// expected to resolve the core's slot in cfg.Redistributors.
type Driver interface {
	Init(cfg *VariantConfig) error
	InitDistributor() error
	InitRedistributor(core CoreIndex) error
	EnableCPUInterface(core CoreIndex) error
	DisableCPUInterface(core CoreIndex) error
}

// CoreState is the bring-up state of one core.
type CoreState uint32

const (
	CoreUnattached CoreState = iota
	CoreAttaching
	CoreEnabled
	CoreDisabled
)

func (s CoreState) String() string {
	switch s {
	case CoreUnattached:
		return "unattached"
	case CoreAttaching:
		return "attaching"
	case CoreEnabled:
		return "enabled"
	case CoreDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("CoreState(%d)", uint32(s))
	}
}

// Controller sequences bring-up calls into a Driver.
//
// Cores never wait on each other here. The boot core must finish StageInit
// before it releases the others; the atomics below only make that release
// visible, they do not order it.
type Controller struct {
	registry *Registry
	driver   Driver

	cfg         atomic.Pointer[VariantConfig]
	distributor atomic.Bool
	cores       [plat.CoreCount]atomic.Uint32
}

func NewController(registry *Registry, driver Driver) *Controller {
	return &Controller{registry: registry, driver: driver}
}

// SelectVariant hands the configuration of v to the driver. It runs once, on
// the boot core, before any per-core call.
func (c *Controller) SelectVariant(v Variant) error {
	cfg, err := c.registry.Config(v)
	if err != nil {
		traceSelect.Writef("variant=%d: %v", uint8(v), err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !c.cfg.CompareAndSwap(nil, cfg) {
		return fmt.Errorf("%w: %s, requested %s", ErrAlreadySelected, c.cfg.Load().Variant, v)
	}

	if err := c.driver.Init(cfg); err != nil {
		// Nothing is selected until the driver holds the configuration.
		c.cfg.CompareAndSwap(cfg, nil)
		traceSelect.Writef("variant=%s: driver init: %v", v, err)
		return fmt.Errorf("gic: driver init for %s: %w", v, err)
	}

	traceSelect.Writef("variant=%s gicd=%#x gicr=%#x g0=%v g1s=%v",
		v, cfg.DistributorBase, cfg.RedistributorBase, cfg.Group0, cfg.Group1Secure)

	return nil
}

// StageInit initializes the distributor and then attaches the calling core.
// Only the core that owns the earliest privileged stage calls it.
func (c *Controller) StageInit(self Affinity) error {
	if _, err := c.resolve(self); err != nil {
		return err
	}
	if c.distributor.Load() {
		return fmt.Errorf("%w: stage init from affinity %#x", ErrDistributorOnline, uint64(self))
	}

	if err := c.driver.InitDistributor(); err != nil {
		return fmt.Errorf("gic: distributor init: %w", err)
	}
	c.distributor.Store(true)

	traceDistributor.Writef("affinity=%#x", uint64(self))

	return c.CoreAttach(self)
}

// CoreAttach brings up the calling core's redistributor and enables its CPU
// interface.
func (c *Controller) CoreAttach(self Affinity) error {
	core, err := c.attach(self)
	if err != nil {
		return err
	}
	if err := c.enable(core); err != nil {
		// The redistributor is up; only the interface is off.
		c.cores[core].Store(uint32(CoreDisabled))
		return err
	}
	return nil
}

// PerCoreAttach brings up the calling core's redistributor only. The core
// stays Disabled until it calls CPUInterfaceEnable.
func (c *Controller) PerCoreAttach(self Affinity) error {
	core, err := c.attach(self)
	if err != nil {
		return err
	}
	c.cores[core].Store(uint32(CoreDisabled))
	return nil
}

// CPUInterfaceEnable lets the calling core take interrupts again.
func (c *Controller) CPUInterfaceEnable(self Affinity) error {
	core, err := c.attached(self)
	if err != nil {
		return err
	}
	return c.enable(core)
}

// CPUInterfaceDisable stops the calling core taking interrupts, typically on
// the way into a power-down state.
func (c *Controller) CPUInterfaceDisable(self Affinity) error {
	core, err := c.attached(self)
	if err != nil {
		return err
	}

	if err := c.driver.DisableCPUInterface(core); err != nil {
		return fmt.Errorf("gic: disable cpu interface %d: %w", core, err)
	}
	c.cores[core].Store(uint32(CoreDisabled))

	traceDisable.Writef("core=%d", core)

	return nil
}

// State reports the bring-up state of core.
func (c *Controller) State(core CoreIndex) CoreState {
	if int(core) >= len(c.cores) {
		return CoreUnattached
	}
	return CoreState(c.cores[core].Load())
}

// Config returns the selected configuration, or nil before SelectVariant.
func (c *Controller) Config() *VariantConfig {
	return c.cfg.Load()
}

func (c *Controller) selected() (*VariantConfig, error) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return nil, ErrNotSelected
	}
	return cfg, nil
}

func (c *Controller) resolve(self Affinity) (CoreIndex, error) {
	cfg, err := c.selected()
	if err != nil {
		return 0, err
	}

	core, err := cfg.Affinity.CoreIndex(self)
	if err != nil {
		traceAffinityFail.Writef("affinity=%#x: %v", uint64(self), err)
		return 0, err
	}
	if int(core) >= cfg.CoreCount || int(core) >= len(c.cores) {
		return 0, fmt.Errorf("%w: affinity %#x resolved to %d", ErrCoreIndex, uint64(self), core)
	}
	return core, nil
}

func (c *Controller) attach(self Affinity) (CoreIndex, error) {
	core, err := c.resolve(self)
	if err != nil {
		return 0, err
	}
	if !c.distributor.Load() {
		return 0, fmt.Errorf("%w: core %d attached first", ErrDistributorOffline, core)
	}

	if !c.cores[core].CompareAndSwap(uint32(CoreUnattached), uint32(CoreAttaching)) {
		return 0, fmt.Errorf("%w: core %d is %s", ErrAlreadyAttached, core, c.State(core))
	}

	if err := c.driver.InitRedistributor(core); err != nil {
		c.cores[core].Store(uint32(CoreUnattached))
		return 0, fmt.Errorf("gic: redistributor init %d: %w", core, err)
	}

	addr, _ := c.cfg.Load().Redistributors.Lookup(core)
	traceRedist.Writef("core=%d affinity=%#x gicr=%#x", core, uint64(self), addr)

	return core, nil
}

func (c *Controller) attached(self Affinity) (CoreIndex, error) {
	core, err := c.resolve(self)
	if err != nil {
		return 0, err
	}
	switch state := c.State(core); state {
	case CoreEnabled, CoreDisabled:
		return core, nil
	default:
		return 0, fmt.Errorf("%w: core %d is %s", ErrNotAttached, core, state)
	}
}

func (c *Controller) enable(core CoreIndex) error {
	if err := c.driver.EnableCPUInterface(core); err != nil {
		return fmt.Errorf("gic: enable cpu interface %d: %w", core, err)
	}
	c.cores[core].Store(uint32(CoreEnabled))

	traceEnable.Writef("core=%d", core)

	return nil
}

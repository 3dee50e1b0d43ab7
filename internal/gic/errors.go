package gic

import "errors"

// Every error returned by this package is fatal to the boot stage calling it.
var (
	// Configuration errors.
	ErrUnknownVariant = errors.New("gic: unknown SoC variant")
	ErrInvalidConfig  = errors.New("gic: invalid variant configuration")

	// Affinity resolution errors.
	ErrAffinity  = errors.New("gic: affinity does not resolve to a core")
	ErrCoreIndex = errors.New("gic: core index out of range")

	// Sequencing violations.
	ErrNotSelected        = errors.New("gic: no variant selected")
	ErrAlreadySelected    = errors.New("gic: variant already selected")
	ErrDistributorOffline = errors.New("gic: distributor not initialized")
	ErrDistributorOnline  = errors.New("gic: distributor already initialized")
	ErrAlreadyAttached    = errors.New("gic: core already attached")
	ErrNotAttached        = errors.New("gic: core not attached")
	ErrSlotResolved       = errors.New("gic: redistributor slot already resolved")
)

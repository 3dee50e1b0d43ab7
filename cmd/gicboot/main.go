// Command gicboot runs the secure GICv3 bring-up of a board against the
// software controller model and reports the state every core ends up in.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/gicboot/internal/board"
	"github.com/tinyrange/gicboot/internal/debug"
	"github.com/tinyrange/gicboot/internal/gic"
	"github.com/tinyrange/gicboot/internal/gicv3"
	"golang.org/x/sync/errgroup"
)

var dbg = debug.WithSource("gicboot")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gicboot: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gicboot", flag.ContinueOnError)
	boardPath := fs.String("board", "", "Board description (YAML)")
	soc := fs.String("soc", "ld20", "SoC variant when no board file is given (ld11, ld20, pxs3)")
	tracePath := fs.String("trace", "", "Write the bring-up trace to this file (overrides the board)")
	dtbPath := fs.String("dtb", "", "Write the controller device tree to this file (overrides the board)")
	writeBoard := fs.String("write-board", "", "Write the resolved board description to this file and exit")
	verbose := fs.Bool("v", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gicboot [flags]\n\n")
		fmt.Fprintf(fs.Output(), "Bring up the secure GICv3 configuration of a board on the software model.\n\n")
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var (
		b   board.Board
		err error
	)
	if *boardPath != "" {
		b, err = board.Load(*boardPath)
	} else {
		b, err = board.Default(*soc)
	}
	if err != nil {
		return err
	}
	if *tracePath != "" {
		b.Trace = *tracePath
	}
	if *dtbPath != "" {
		b.DTB = *dtbPath
	}

	if *writeBoard != "" {
		if err := board.Write(*writeBoard, b); err != nil {
			return err
		}
		logger.Info("wrote board", "path", *writeBoard, "soc", b.SoC, "cores", len(b.Cores))
		return nil
	}

	if b.Trace != "" {
		if err := debug.OpenFile(b.Trace); err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer debug.Close()
	}

	variant, err := b.Variant()
	if err != nil {
		return err
	}

	emu := gicv3.New()
	ctrl := gic.NewController(gic.NewRegistry(gic.MPIDRResolver{}), emu)

	if err := boot(logger, ctrl, b, variant); err != nil {
		return err
	}

	cfg := ctrl.Config()
	dbg.Writef("boot complete soc=%s cores=%d", variant, len(b.Cores))
	fmt.Fprintf(out, "%s: GICD %#x, GICR %#x, %d cores\n", variant, cfg.DistributorBase, cfg.RedistributorBase, cfg.CoreCount)
	for core := range gic.CoreIndex(cfg.CoreCount) {
		frame := "-"
		if addr, ok := cfg.Redistributors.Lookup(core); ok {
			frame = fmt.Sprintf("%#x", addr)
		}
		fmt.Fprintf(out, "  core %d: %-10s gicr=%s cpuif=%v\n", core, ctrl.State(core), frame, emu.CPUInterfaceEnabled(core))
	}

	if b.DTB != "" {
		blob, err := cfg.DeviceTree()
		if err != nil {
			return fmt.Errorf("build device tree: %w", err)
		}
		if err := os.WriteFile(b.DTB, blob, 0o644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
		logger.Info("wrote device tree", "path", b.DTB, "size", len(blob))
	}

	return nil
}

// boot runs the bring-up the way firmware does: global setup and stage init
// on the boot core, then every secondary attaches itself once released.
func boot(logger *slog.Logger, ctrl *gic.Controller, b board.Board, variant gic.Variant) error {
	if err := ctrl.SelectVariant(variant); err != nil {
		return err
	}
	logger.Debug("variant selected", "soc", variant)

	self := b.BootCore()
	if err := ctrl.StageInit(self); err != nil {
		return fmt.Errorf("boot core %#x: %w", uint64(self), err)
	}
	if err := suspendCycle(ctrl, b, self); err != nil {
		return err
	}
	logger.Info("boot core attached", "mpidr", fmt.Sprintf("%#x", uint64(self)))

	// Secondaries are released only after the boot core is done.
	dbg.Write("releasing secondaries")
	var g errgroup.Group
	for _, aff := range b.Secondaries() {
		g.Go(func() error {
			if err := ctrl.PerCoreAttach(aff); err != nil {
				return fmt.Errorf("core %#x: %w", uint64(aff), err)
			}
			if err := ctrl.CPUInterfaceEnable(aff); err != nil {
				return fmt.Errorf("core %#x: %w", uint64(aff), err)
			}
			logger.Debug("secondary attached", "mpidr", fmt.Sprintf("%#x", uint64(aff)))
			return suspendCycle(ctrl, b, aff)
		})
	}
	return g.Wait()
}

func suspendCycle(ctrl *gic.Controller, b board.Board, aff gic.Affinity) error {
	if !b.Suspends(aff) {
		return nil
	}
	if err := ctrl.CPUInterfaceDisable(aff); err != nil {
		return fmt.Errorf("core %#x suspend: %w", uint64(aff), err)
	}
	if err := ctrl.CPUInterfaceEnable(aff); err != nil {
		return fmt.Errorf("core %#x resume: %w", uint64(aff), err)
	}
	return nil
}

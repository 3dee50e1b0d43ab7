// Package board loads the YAML description of a boot scenario: which SoC
// variant the firmware is built for and which cores come up.
package board

import (
	"fmt"
	"os"

	"github.com/tinyrange/gicboot/internal/gic"
	"github.com/tinyrange/gicboot/internal/gic/plat"
	"gopkg.in/yaml.v3"
)

// Board describes one boot.
type Board struct {
	Version int    `yaml:"version"`
	SoC     string `yaml:"soc"`

	// Cores lists the MPIDR of every core that comes up. The first one is
	// the boot core; the rest are released after it finishes stage init.
	Cores []uint64 `yaml:"cores,omitempty"`

	// Suspend lists cores that cycle their CPU interface off and on again
	// after attaching, as they would around a power-down.
	Suspend []uint64 `yaml:"suspend,omitempty"`

	Trace string `yaml:"trace,omitempty"`
	DTB   string `yaml:"dtb,omitempty"`
}

func (b *Board) normalize() {
	if b.Version == 0 {
		b.Version = 1
	}
	if len(b.Cores) == 0 {
		for pos := range plat.CoreCount {
			b.Cores = append(b.Cores, plat.MPIDR(pos))
		}
	}
}

// Variant resolves the SoC name.
func (b *Board) Variant() (gic.Variant, error) {
	return gic.ParseVariant(b.SoC)
}

// Validate checks the board against the compiled-in platform.
func (b *Board) Validate() error {
	if b.Version != 1 {
		return fmt.Errorf("board: unsupported version %d", b.Version)
	}
	if _, err := b.Variant(); err != nil {
		return fmt.Errorf("board: %w", err)
	}

	seen := make(map[uint64]bool, len(b.Cores))
	for _, mpidr := range b.Cores {
		if _, err := plat.CorePos(mpidr); err != nil {
			return fmt.Errorf("board: %w", err)
		}
		if seen[mpidr] {
			return fmt.Errorf("board: core %#x listed twice", mpidr)
		}
		seen[mpidr] = true
	}
	for _, mpidr := range b.Suspend {
		if !seen[mpidr] {
			return fmt.Errorf("board: suspend core %#x never comes up", mpidr)
		}
	}
	return nil
}

// BootCore is the MPIDR of the core that runs stage init.
func (b *Board) BootCore() gic.Affinity {
	return gic.Affinity(b.Cores[0])
}

// Secondaries are the MPIDRs released after stage init.
func (b *Board) Secondaries() []gic.Affinity {
	out := make([]gic.Affinity, 0, len(b.Cores)-1)
	for _, mpidr := range b.Cores[1:] {
		out = append(out, gic.Affinity(mpidr))
	}
	return out
}

// Suspends reports whether aff runs a suspend cycle.
func (b *Board) Suspends(aff gic.Affinity) bool {
	for _, mpidr := range b.Suspend {
		if gic.Affinity(mpidr) == aff {
			return true
		}
	}
	return false
}

// Default brings up every core of the platform on soc.
func Default(soc string) (Board, error) {
	b := Board{SoC: soc}
	b.normalize()
	if err := b.Validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}

// Parse decodes, normalizes and validates a board description.
func Parse(data []byte) (Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Board{}, fmt.Errorf("board: parse: %w", err)
	}
	b.normalize()
	if err := b.Validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}

func Load(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("board: read %s: %w", path, err)
	}
	return Parse(data)
}

// Write stores b as YAML at path.
func Write(path string, b Board) error {
	b.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("board: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&b); err != nil {
		return fmt.Errorf("board: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("board: close %s: %w", path, err)
	}
	return nil
}

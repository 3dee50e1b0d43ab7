package gic

import (
	"errors"
	"testing"

	"github.com/tinyrange/gicboot/internal/gic/plat"
)

func TestRegistryConfigs(t *testing.T) {
	r := NewRegistry(MPIDRResolver{})

	wantGICR := map[Variant]uint64{
		VariantLD11: 0x5fe40000,
		VariantLD20: 0x5fe80000,
		VariantPXS3: 0x5fe80000,
	}

	for _, v := range r.Variants() {
		cfg, err := r.Config(v)
		if err != nil {
			t.Fatalf("Config(%s): %v", v, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%s): %v", v, err)
		}
		if cfg.Variant != v {
			t.Fatalf("Config(%s).Variant = %s", v, cfg.Variant)
		}
		if cfg.DistributorBase != 0x5fe00000 {
			t.Fatalf("%s: GICD base %#x", v, cfg.DistributorBase)
		}
		if cfg.RedistributorBase != wantGICR[v] {
			t.Fatalf("%s: GICR base %#x, want %#x", v, cfg.RedistributorBase, wantGICR[v])
		}
		if len(cfg.Group0) != 2 || len(cfg.Group1Secure) != 7 {
			t.Fatalf("%s: %d G0 + %d G1S interrupts, want 2 + 7", v, len(cfg.Group0), len(cfg.Group1Secure))
		}

		seen := map[InterruptID]bool{}
		for _, id := range append(append([]InterruptID{}, cfg.Group0...), cfg.Group1Secure...) {
			if seen[id] {
				t.Fatalf("%s: interrupt %d classified twice", v, id)
			}
			seen[id] = true
		}
		if len(seen) != 9 {
			t.Fatalf("%s: %d distinct interrupts, want 9", v, len(seen))
		}

		if cfg.CoreCount != plat.CoreCount || cfg.Redistributors.Len() != plat.CoreCount {
			t.Fatalf("%s: core count %d, %d slots", v, cfg.CoreCount, cfg.Redistributors.Len())
		}
		for core := range CoreIndex(cfg.CoreCount) {
			if _, ok := cfg.Redistributors.Lookup(core); ok {
				t.Fatalf("%s: slot %d resolved before any attach", v, core)
			}
		}
	}
}

func TestRegistryTableOrder(t *testing.T) {
	cfg, err := NewRegistry(MPIDRResolver{}).Config(VariantLD20)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}

	g0 := []InterruptID{8, 14}
	g1s := []InterruptID{29, 9, 10, 11, 12, 13, 15}
	for i, id := range g0 {
		if cfg.Group0[i] != id {
			t.Fatalf("Group0 = %v, want %v", cfg.Group0, g0)
		}
	}
	for i, id := range g1s {
		if cfg.Group1Secure[i] != id {
			t.Fatalf("Group1Secure = %v, want %v", cfg.Group1Secure, g1s)
		}
	}
}

func TestRegistryVariantsDoNotShareState(t *testing.T) {
	r := NewRegistry(MPIDRResolver{})
	ld11, _ := r.Config(VariantLD11)
	ld20, _ := r.Config(VariantLD20)

	if err := ld11.Redistributors.Set(0, 0x5fe40000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := ld20.Redistributors.Lookup(0); ok {
		t.Fatalf("LD20 slot resolved by an LD11 write")
	}

	ld11.Group0[0] = 99
	if ld20.Group0[0] != IRQSecSGI0 {
		t.Fatalf("LD20 table changed by an LD11 write")
	}
}

func TestRegistryUnknownVariant(t *testing.T) {
	r := NewRegistry(MPIDRResolver{})
	for _, v := range []Variant{variantCount, 99, 255} {
		if _, err := r.Config(v); !errors.Is(err, ErrUnknownVariant) {
			t.Fatalf("Config(%d) error = %v, want ErrUnknownVariant", uint8(v), err)
		}
	}
}

func TestParseVariant(t *testing.T) {
	for _, tt := range []struct {
		name string
		want Variant
	}{
		{"ld11", VariantLD11},
		{"LD20", VariantLD20},
		{"pxs3", VariantPXS3},
	} {
		v, err := ParseVariant(tt.name)
		if err != nil {
			t.Fatalf("ParseVariant(%q): %v", tt.name, err)
		}
		if v != tt.want {
			t.Fatalf("ParseVariant(%q) = %s, want %s", tt.name, v, tt.want)
		}
		if v.String() != tt.want.String() {
			t.Fatalf("String mismatch for %q", tt.name)
		}
	}

	if _, err := ParseVariant("ld4"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("ParseVariant(ld4) error = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *VariantConfig {
		cfg, _ := NewRegistry(MPIDRResolver{}).Config(VariantLD11)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*VariantConfig)
	}{
		{"overlapping groups", func(c *VariantConfig) { c.Group1Secure = append(c.Group1Secure, IRQSecSGI0) }},
		{"duplicate in group", func(c *VariantConfig) { c.Group0 = append(c.Group0, IRQSecSGI6) }},
		{"core count", func(c *VariantConfig) { c.CoreCount = plat.CoreCount + 1 }},
		{"table size", func(c *VariantConfig) { c.Redistributors = newRedistributorTable(1) }},
		{"no resolver", func(c *VariantConfig) { c.Affinity = nil }},
		{"no distributor", func(c *VariantConfig) { c.DistributorBase = 0 }},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: Validate error = %v, want ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestRedistributorTableWriteOnce(t *testing.T) {
	tbl := newRedistributorTable(plat.CoreCount)

	if err := tbl.Set(1, 0x5fe60000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tbl.Set(1, 0x5fe80000); !errors.Is(err, ErrSlotResolved) {
		t.Fatalf("second Set error = %v, want ErrSlotResolved", err)
	}
	if addr, ok := tbl.Lookup(1); !ok || addr != 0x5fe60000 {
		t.Fatalf("Lookup(1) = %#x, %v", addr, ok)
	}
	if err := tbl.Set(CoreIndex(plat.CoreCount), 0x1000); !errors.Is(err, ErrCoreIndex) {
		t.Fatalf("out of range Set error = %v, want ErrCoreIndex", err)
	}
	if err := tbl.Set(2, 0); err == nil {
		t.Fatalf("expected error for zero address")
	}
	if _, ok := tbl.Lookup(CoreIndex(plat.CoreCount)); ok {
		t.Fatalf("out of range Lookup resolved")
	}
}

func TestClassify(t *testing.T) {
	for _, id := range group0Interrupts {
		if g, ok := Classify(id); !ok || g != Group0 {
			t.Fatalf("Classify(%d) = %s, %v", id, g, ok)
		}
	}
	for _, id := range group1SecureInterrupts {
		if g, ok := Classify(id); !ok || g != Group1Secure {
			t.Fatalf("Classify(%d) = %s, %v", id, g, ok)
		}
	}
	for _, id := range []InterruptID{0, 7, 16, 27, 30, 32} {
		if _, ok := Classify(id); ok {
			t.Fatalf("Classify(%d) unexpectedly classified", id)
		}
	}
}

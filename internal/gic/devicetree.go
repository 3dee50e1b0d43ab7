package gic

import (
	"fmt"

	"github.com/tinyrange/gicboot/internal/fdt"
	"github.com/tinyrange/gicboot/internal/gic/plat"
)

// Maintenance interrupt: PPI 9, level high.
var maintenanceInterrupt = []uint32{1, 9, 4}

// DeviceTreeNode describes the controller for later boot stages. The parent
// node must use #address-cells = <2> and #size-cells = <2>.
func (c *VariantConfig) DeviceTreeNode() fdt.Node {
	return fdt.Node{
		Name: fmt.Sprintf("interrupt-controller@%x", c.DistributorBase),
		Properties: []fdt.Property{
			fdt.Strings("compatible", "arm,gic-v3"),
			fdt.U32("#interrupt-cells", 3),
			fdt.Flag("interrupt-controller"),
			fdt.U64("reg",
				c.DistributorBase, plat.GICDSize,
				c.RedistributorBase, uint64(c.CoreCount)*plat.GICRFrameSize,
			),
			fdt.U32("interrupts", maintenanceInterrupt...),
		},
	}
}

// DeviceTree is a minimal tree holding only the controller.
func (c *VariantConfig) DeviceTree() ([]byte, error) {
	root := fdt.Node{
		Properties: []fdt.Property{
			fdt.Strings("compatible", "socionext,uniphier-"+c.Variant.String()),
			fdt.U32("#address-cells", 2),
			fdt.U32("#size-cells", 2),
		},
		Children: []fdt.Node{c.DeviceTreeNode()},
	}
	return fdt.Build(root)
}

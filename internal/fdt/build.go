// Package fdt encodes and decodes flattened device tree blobs.
package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize     = 0x28
	memReserveSize = 16
	version        = 17
	lastCompatible = 16
	magic          = 0xd00dfeed

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenNop       = 0x4
	tokenEnd       = 0x9
)

var ErrMalformed = errors.New("fdt: malformed blob")

// Build serializes root into an FDT blob with an empty reservation map.
func Build(root Node) ([]byte, error) {
	b := &builder{stringsOff: make(map[string]uint32)}
	if err := b.node(root); err != nil {
		return nil, err
	}
	b.token(tokenEnd)

	structBytes := b.structure.Bytes()
	stringsBytes := b.strings.Bytes()

	offStruct := headerSize + memReserveSize
	offStrings := offStruct + len(structBytes)
	total := offStrings + len(stringsBytes)

	blob := make([]byte, total)
	for i, v := range []uint32{
		magic,
		uint32(total),
		uint32(offStruct),
		uint32(offStrings),
		headerSize,
		version,
		lastCompatible,
		0, // boot_cpuid_phys
		uint32(len(stringsBytes)),
		uint32(len(structBytes)),
	} {
		binary.BigEndian.PutUint32(blob[4*i:], v)
	}
	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob, nil
}

type builder struct {
	structure  bytes.Buffer
	strings    bytes.Buffer
	stringsOff map[string]uint32
}

func (b *builder) node(n Node) error {
	b.token(tokenBeginNode)
	b.structure.WriteString(n.Name)
	b.structure.WriteByte(0)
	b.pad()

	seen := make(map[string]bool, len(n.Properties))
	for _, p := range n.Properties {
		if p.Name == "" {
			return fmt.Errorf("fdt: node %q has an unnamed property", n.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("fdt: node %q has property %q twice", n.Name, p.Name)
		}
		seen[p.Name] = true

		b.token(tokenProp)
		b.u32(uint32(len(p.Value)))
		b.u32(b.stringOffset(p.Name))
		b.structure.Write(p.Value)
		b.pad()
	}

	for _, child := range n.Children {
		if err := b.node(child); err != nil {
			return err
		}
	}

	b.token(tokenEndNode)
	return nil
}

func (b *builder) stringOffset(name string) uint32 {
	if off, ok := b.stringsOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringsOff[name] = off
	return off
}

func (b *builder) token(t uint32) { b.u32(t) }

func (b *builder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.structure.Write(tmp[:])
}

func (b *builder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}

package fdt

import (
	"bytes"
	"encoding/binary"
)

// Property is a named device-tree property holding its encoded value.
type Property struct {
	Name  string
	Value []byte
}

// Strings encodes a NUL-separated string list.
func Strings(name string, values ...string) Property {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	return Property{Name: name, Value: buf.Bytes()}
}

// U32 encodes big-endian cells.
func U32(name string, values ...uint32) Property {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(data[4*i:], v)
	}
	return Property{Name: name, Value: data}
}

// U64 encodes pairs of cells, as used by reg with #address-cells = 2.
func U64(name string, values ...uint64) Property {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(data[8*i:], v)
	}
	return Property{Name: name, Value: data}
}

// Flag is an empty property whose presence is the value.
func Flag(name string) Property {
	return Property{Name: name}
}

// AsU32 decodes the value as cells. Trailing bytes are ignored.
func (p Property) AsU32() []uint32 {
	out := make([]uint32, len(p.Value)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(p.Value[4*i:])
	}
	return out
}

// AsU64 decodes the value as cell pairs.
func (p Property) AsU64() []uint64 {
	out := make([]uint64, len(p.Value)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(p.Value[8*i:])
	}
	return out
}

// AsStrings decodes a string list.
func (p Property) AsStrings() []string {
	var out []string
	for _, s := range bytes.Split(bytes.TrimSuffix(p.Value, []byte{0}), []byte{0}) {
		out = append(out, string(s))
	}
	return out
}

// Node is a device-tree node. Properties are emitted in order.
type Node struct {
	Name       string
	Properties []Property
	Children   []Node
}

// Property returns the property called name.
func (n *Node) Property(name string) (Property, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Child returns the direct child called name.
func (n *Node) Child(name string) (*Node, bool) {
	for i := range n.Children {
		if n.Children[i].Name == name {
			return &n.Children[i], true
		}
	}
	return nil, false
}

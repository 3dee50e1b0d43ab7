package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Parse decodes an FDT blob into its root node.
func Parse(blob []byte) (Node, error) {
	if len(blob) < headerSize {
		return Node{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(blob))
	}
	hdr := func(i int) uint32 { return binary.BigEndian.Uint32(blob[4*i:]) }
	if hdr(0) != magic {
		return Node{}, fmt.Errorf("%w: bad magic %#x", ErrMalformed, hdr(0))
	}
	if int(hdr(1)) > len(blob) {
		return Node{}, fmt.Errorf("%w: totalsize %d > %d", ErrMalformed, hdr(1), len(blob))
	}

	offStruct, offStrings := int(hdr(2)), int(hdr(3))
	sizeStrings, sizeStruct := int(hdr(8)), int(hdr(9))
	if offStruct+sizeStruct > len(blob) || offStrings+sizeStrings > len(blob) {
		return Node{}, fmt.Errorf("%w: blocks overrun blob", ErrMalformed)
	}

	p := &parser{
		data:    blob[offStruct : offStruct+sizeStruct],
		strings: blob[offStrings : offStrings+sizeStrings],
	}
	if tok, err := p.token(); err != nil {
		return Node{}, err
	} else if tok != tokenBeginNode {
		return Node{}, fmt.Errorf("%w: structure does not start with a node", ErrMalformed)
	}
	root, err := p.node()
	if err != nil {
		return Node{}, err
	}
	if tok, err := p.token(); err != nil {
		return Node{}, err
	} else if tok != tokenEnd {
		return Node{}, fmt.Errorf("%w: missing end token", ErrMalformed)
	}
	return root, nil
}

type parser struct {
	data    []byte
	strings []byte
	off     int
}

func (p *parser) u32() (uint32, error) {
	if p.off+4 > len(p.data) {
		return 0, fmt.Errorf("%w: truncated structure", ErrMalformed)
	}
	v := binary.BigEndian.Uint32(p.data[p.off:])
	p.off += 4
	return v, nil
}

func (p *parser) token() (uint32, error) {
	for {
		tok, err := p.u32()
		if err != nil || tok != tokenNop {
			return tok, err
		}
	}
}

func (p *parser) align() {
	p.off = (p.off + 3) &^ 3
}

func (p *parser) cstring(data []byte, off int) (string, int, error) {
	if off > len(data) {
		return "", 0, fmt.Errorf("%w: string offset %d", ErrMalformed, off)
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("%w: unterminated string", ErrMalformed)
	}
	return string(data[off : off+end]), off + end + 1, nil
}

// node decodes a node whose begin token has already been consumed.
func (p *parser) node() (Node, error) {
	name, next, err := p.cstring(p.data, p.off)
	if err != nil {
		return Node{}, err
	}
	p.off = next
	p.align()

	n := Node{Name: name}
	for {
		tok, err := p.token()
		if err != nil {
			return Node{}, err
		}
		switch tok {
		case tokenProp:
			size, err := p.u32()
			if err != nil {
				return Node{}, err
			}
			nameOff, err := p.u32()
			if err != nil {
				return Node{}, err
			}
			if p.off+int(size) > len(p.data) {
				return Node{}, fmt.Errorf("%w: property overruns structure", ErrMalformed)
			}
			propName, _, err := p.cstring(p.strings, int(nameOff))
			if err != nil {
				return Node{}, err
			}
			value := append([]byte(nil), p.data[p.off:p.off+int(size)]...)
			p.off += int(size)
			p.align()
			n.Properties = append(n.Properties, Property{Name: propName, Value: value})
		case tokenBeginNode:
			child, err := p.node()
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		case tokenEndNode:
			return n, nil
		default:
			return Node{}, fmt.Errorf("%w: unexpected token %#x", ErrMalformed, tok)
		}
	}
}

// Package nbt performs a single streaming, in-place pass over a binary NBT
// document, rewriting every UUID it finds (IntArray form, split-long
// Most/Least form, and textual form inside strings) without decoding the
// document into a tree and re-encoding it. Decode/re-encode would disturb
// byte layout that the surrounding ecosystem may depend on; visiting the
// buffer directly preserves every byte that isn't itself part of a UUID.
package nbt

import (
	"encoding/binary"
	"fmt"

	"github.com/bwkimmel/mcuuidremap/text"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	tagEnd       = 0
	tagByte      = 1
	tagShort     = 2
	tagInt       = 3
	tagLong      = 4
	tagFloat     = 5
	tagDouble    = 6
	tagByteArray = 7
	tagString    = 8
	tagList      = 9
	tagCompound  = 10
	tagIntArray  = 11
	tagLongArray = 12
)

func fixedSize(tag byte) (int, bool) {
	switch tag {
	case tagEnd:
		return 0, true
	case tagByte:
		return 1, true
	case tagShort:
		return 2, true
	case tagInt, tagFloat:
		return 4, true
	case tagLong, tagDouble:
		return 8, true
	default:
		return 0, false
	}
}

func listElemSize(tag byte) (int, bool) {
	switch tag {
	case tagByteArray:
		return 1, true
	case tagIntArray:
		return 4, true
	case tagLongArray:
		return 8, true
	default:
		return 0, false
	}
}

// Rewrite is invoked for every UUID found during a Visit, in any of its
// three encodings. See text.Rewrite for the contract.
type Rewrite func(uuid.UUID) (uuid.UUID, bool)

// pairSlot tracks the byte ranges of a split-long UUID's Most and Least
// halves while a compound is open. Both point directly into the document
// buffer, so writing through them patches it in place.
type pairSlot struct {
	most, least []byte
}

type frame interface{ isFrame() }

type compoundFrame struct {
	pairs map[string]*pairSlot
}

func (*compoundFrame) isFrame() {}

type listFrame struct {
	kind      byte
	remaining int
}

func (*listFrame) isFrame() {}

type cursor struct {
	buf     []byte
	rewrite Rewrite
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || n > len(c.buf) {
		return nil, errors.New("malformed NBT: unexpected end of buffer")
	}
	head := c.buf[:n]
	c.buf = c.buf[n:]
	return head, nil
}

func (c *cursor) takeString() ([]byte, error) {
	lenBytes, err := c.take(2)
	if err != nil {
		return nil, err
	}
	return c.take(int(binary.BigEndian.Uint16(lenBytes)))
}

func (c *cursor) visitString() error {
	s, err := c.takeString()
	if err != nil {
		return err
	}
	text.Scan(s, text.Rewrite(c.rewrite))
	return nil
}

// visitUUID decodes the 16 bytes spanning most||least as a UUID, invokes
// rewrite, and overwrites both halves in place if it returns a replacement.
func (c *cursor) visitUUID(most, least []byte) {
	var raw [16]byte
	copy(raw[0:8], most)
	copy(raw[8:16], least)
	id := uuid.UUID(raw)
	if replacement, ok := c.rewrite(id); ok {
		copy(most, replacement[0:8])
		copy(least, replacement[8:16])
	}
}

func (c *cursor) visitValue(stack *[]frame, kind byte) error {
	if kind == tagIntArray {
		countBytes, err := c.take(4)
		if err != nil {
			return err
		}
		count := int(binary.BigEndian.Uint32(countBytes))
		if count == 4 {
			most, err := c.take(8)
			if err != nil {
				return err
			}
			least, err := c.take(8)
			if err != nil {
				return err
			}
			c.visitUUID(most, least)
			return nil
		}
		_, err = c.take(count * 4)
		return err
	}
	if size, ok := fixedSize(kind); ok {
		_, err := c.take(size)
		return err
	}
	if elemSize, ok := listElemSize(kind); ok {
		countBytes, err := c.take(4)
		if err != nil {
			return err
		}
		count := int(binary.BigEndian.Uint32(countBytes))
		_, err = c.take(count * elemSize)
		return err
	}
	if kind == tagCompound {
		*stack = append(*stack, &compoundFrame{pairs: map[string]*pairSlot{}})
		return nil
	}
	if kind == tagList {
		elemTagByte, err := c.take(1)
		if err != nil {
			return err
		}
		elemTag := elemTagByte[0]
		countBytes, err := c.take(4)
		if err != nil {
			return err
		}
		count := int(binary.BigEndian.Uint32(countBytes))
		if size, ok := fixedSize(elemTag); ok {
			_, err := c.take(size * count)
			return err
		}
		*stack = append(*stack, &listFrame{kind: elemTag, remaining: count})
		return nil
	}
	if kind == tagString {
		return c.visitString()
	}
	return fmt.Errorf("malformed NBT: unknown tag type %d", kind)
}

// stripSuffix reports whether name ends with suffix and, if so, returns the
// part before it (the shared prefix two sibling Most/Least longs pair on).
func stripSuffix(name []byte, suffix string) (string, bool) {
	if len(name) < len(suffix) || string(name[len(name)-len(suffix):]) != suffix {
		return "", false
	}
	return string(name[:len(name)-len(suffix)]), true
}

// step advances the top frame of the stack by exactly one (tag, name, value)
// triple, or pops it if exhausted. It reports false once the stack is empty.
func (c *cursor) step(stack *[]frame) (bool, error) {
	if len(*stack) == 0 {
		return false, nil
	}
	switch f := (*stack)[len(*stack)-1].(type) {
	case *compoundFrame:
		kindByte, err := c.take(1)
		if err != nil {
			return false, err
		}
		kind := kindByte[0]
		if kind == tagEnd {
			*stack = (*stack)[:len(*stack)-1]
			for _, slot := range f.pairs {
				if slot.most != nil && slot.least != nil {
					c.visitUUID(slot.most, slot.least)
				}
			}
			return true, nil
		}
		name, err := c.takeString()
		if err != nil {
			return false, err
		}
		if kind == tagLong {
			if prefix, ok := stripSuffix(name, "UUIDMost"); ok {
				val, err := c.take(8)
				if err != nil {
					return false, err
				}
				slot := f.pairs[prefix]
				if slot == nil {
					slot = &pairSlot{}
					f.pairs[prefix] = slot
				}
				slot.most = val
				return true, nil
			}
			if prefix, ok := stripSuffix(name, "UUIDLeast"); ok {
				val, err := c.take(8)
				if err != nil {
					return false, err
				}
				slot := f.pairs[prefix]
				if slot == nil {
					slot = &pairSlot{}
					f.pairs[prefix] = slot
				}
				slot.least = val
				return true, nil
			}
		}
		if err := c.visitValue(stack, kind); err != nil {
			return false, err
		}
		return true, nil
	case *listFrame:
		if f.remaining == 0 {
			*stack = (*stack)[:len(*stack)-1]
			return true, nil
		}
		f.remaining--
		if err := c.visitValue(stack, f.kind); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, errors.New("malformed NBT: internal frame type")
	}
}

// Visit walks buf as a single NBT document, rewriting UUIDs via rewrite.
// buf is mutated in place; on error, any partial mutation already applied
// is retained, and it is the caller's responsibility to discard it.
func Visit(buf []byte, rewrite Rewrite) error {
	c := &cursor{buf: buf, rewrite: rewrite}
	var stack []frame
	rootKind, err := c.take(1)
	if err != nil {
		return errors.Wrap(err, "reading root tag")
	}
	if _, err := c.takeString(); err != nil {
		return errors.Wrap(err, "reading root name")
	}
	if err := c.visitValue(&stack, rootKind[0]); err != nil {
		return err
	}
	for {
		more, err := c.step(&stack)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if len(c.buf) != 0 {
		return fmt.Errorf("malformed NBT: %d trailing bytes after root value", len(c.buf))
	}
	return nil
}

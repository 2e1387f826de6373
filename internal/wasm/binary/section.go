// Package binary decodes and encodes wasm.Module to and from the
// WebAssembly binary format, including the linking and relocation custom
// sections a linkable object carries.
package binary

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wasm-split/wasmsplit/internal/leb128"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

const (
	sectionCustom    = 0
	sectionType      = 1
	sectionImport    = 2
	sectionFunction  = 3
	sectionTable     = 4
	sectionMemory    = 5
	sectionGlobal    = 6
	sectionExport    = 7
	sectionStart     = 8
	sectionElement   = 9
	sectionCode      = 10
	sectionData      = 11
	sectionDataCount = 12
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const version1 = uint32(1)

// linking section subsection ids, per the LLVM/lld linking metadata
// convention.
const (
	linkingSegmentInfo = 5
	linkingInitFuncs   = 6
	linkingComdatInfo  = 7
	linkingSymbolTable = 8
)

// cursor walks a byte slice while tracking the absolute offset, so byte
// ranges recorded during decode (function bodies, data payloads) are
// relative to the original module buffer handed to DecodeModule.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) byteReader(limit int) *bytes.Reader {
	return bytes.NewReader(c.data[c.pos:limit])
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) readByte() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, io_ErrUnexpectedEOF
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// ioByteReader adapts cursor to io.ByteReader for leb128 decoding without
// copying the remainder of the buffer.
type ioByteReader struct{ c *cursor }

func (r ioByteReader) ReadByte() (byte, error) { return r.c.readByte() }

func (c *cursor) readVarU32() (uint32, error) {
	return leb128.DecodeUint32(ioByteReader{c})
}

func (c *cursor) readVarU64() (uint64, error) {
	return leb128.DecodeUint64(ioByteReader{c})
}

func (c *cursor) readVarI32() (int32, error) {
	return leb128.DecodeInt32(ioByteReader{c})
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, io_ErrUnexpectedEOF
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readName() (string, error) {
	n, err := c.readVarU32()
	if err != nil {
		return "", err
	}
	b, err := c.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var io_ErrUnexpectedEOF = errors.New("binary: unexpected end of module")

func limitsError(what string, count int) error {
	return fmt.Errorf("at most one %s allowed in module, but read %d", what, count)
}

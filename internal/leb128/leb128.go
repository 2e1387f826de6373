// Package leb128 implements the LEB128 and SLEB128 variable-length integer
// encodings used throughout the WebAssembly binary format, plus the
// fixed-width "padded" encodings lld/LLVM use so that a relocation can be
// patched in place without shifting any bytes that follow it.
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a varint would not fit in the requested
// integer width.
var ErrOverflow = errors.New("leb128: varint overflows 32 bits")

// DecodeUint32 reads an unsigned LEB128 varint from r.
func DecodeUint32(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 32 && (b&0x7f) != 0 {
			return 0, ErrOverflow
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// DecodeInt32 reads a signed LEB128 (SLEB128) varint from r.
func DecodeInt32(r io.ByteReader) (int32, error) {
	var result int32
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// DecodeUint64 reads an unsigned LEB128 varint from r as a 64-bit value.
func DecodeUint64(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// EncodeUint32 appends the unsigned LEB128 encoding of v to dst.
func EncodeUint32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// EncodeInt32 appends the signed SLEB128 encoding of v to dst.
func EncodeInt32(dst []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			dst = append(dst, b)
			return dst
		}
		dst = append(dst, b|0x80)
	}
}

// PaddedLEBWidth is the fixed byte width lld pads every relocatable LEB128
// index into, so that relocation targets can be rewritten in place.
const PaddedLEBWidth = 5

// EncodePaddedUint32 encodes v as an unsigned LEB128 varint padded to exactly
// PaddedLEBWidth bytes by setting the continuation bit on trailing zero
// bytes. This is the encoding lld emits for relocatable function, global and
// type indices so that a linker (or, here, a splitter) can overwrite the
// value later without changing the length of the containing section.
func EncodePaddedUint32(v uint32) [PaddedLEBWidth]byte {
	var out [PaddedLEBWidth]byte
	for i := 0; i < PaddedLEBWidth; i++ {
		b := byte(v & 0x7f)
		v >>= 7
		if i != PaddedLEBWidth-1 {
			b |= 0x80
		}
		out[i] = b
	}
	return out
}

// EncodePaddedInt32 encodes v as a signed SLEB128 varint padded to exactly
// PaddedLEBWidth bytes, mirroring EncodePaddedUint32 for signed relocation
// encodings (e.g. R_WASM_TABLE_INDEX_SLEB).
func EncodePaddedInt32(v int32) [PaddedLEBWidth]byte {
	var out [PaddedLEBWidth]byte
	for i := 0; i < PaddedLEBWidth; i++ {
		b := byte(v & 0x7f)
		v >>= 7 // arithmetic shift, so the last byte carries the sign extension
		if i != PaddedLEBWidth-1 {
			b |= 0x80
		}
		out[i] = b
	}
	return out
}

// DecodePaddedUint32 decodes a fixed PaddedLEBWidth-byte padded unsigned
// LEB128 varint, as found at function/global/type index relocation sites.
func DecodePaddedUint32(b []byte) uint32 {
	var result uint32
	var shift uint
	for i := 0; i < PaddedLEBWidth && i < len(b); i++ {
		result |= uint32(b[i]&0x7f) << shift
		shift += 7
	}
	return result
}

package evsemodbus

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"unicode/utf8"
)

// DataType identifies how a register block is interpreted.
type DataType int

const (
	TypeUInt16 DataType = iota
	TypeInt16
	TypeUInt32
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeString
)

var (
	ErrInsufficientRegisters = errors.New("evsemodbus: insufficient registers for data type")
	ErrStringEncoding        = errors.New("evsemodbus: register payload is not valid UTF-8")
	ErrUnsupportedType       = errors.New("evsemodbus: unsupported data type")
)

// registerCount returns the number of 16-bit registers a fixed-width type
// occupies. Strings carry an explicit count on their RegisterRef.
func (t DataType) registerCount() uint16 {
	switch t {
	case TypeUInt16, TypeInt16:
		return 1
	case TypeUInt32, TypeInt32, TypeFloat32:
		return 2
	case TypeInt64:
		return 4
	default:
		return 0
	}
}

// Decode interprets a block of raw holding registers as a numeric value.
// int16/int32 use two's complement (a 16-bit raw value > 32767 decodes as
// raw-65536), uint32/int32/float32 combine two big-endian registers,
// float32 is IEEE-754.
func Decode(raw []uint16, dataType DataType) (float64, error) {
	need := dataType.registerCount()
	if need == 0 {
		return 0, fmt.Errorf("%w: %d is not numeric", ErrUnsupportedType, dataType)
	}
	if len(raw) < int(need) {
		return 0, fmt.Errorf("%w: type %d needs %d registers, got %d", ErrInsufficientRegisters, dataType, need, len(raw))
	}
	switch dataType {
	case TypeUInt16:
		return float64(raw[0]), nil
	case TypeInt16:
		return float64(int16(raw[0])), nil
	case TypeUInt32:
		return float64(uint32(raw[0])<<16 | uint32(raw[1])), nil
	case TypeInt32:
		return float64(int32(uint32(raw[0])<<16 | uint32(raw[1]))), nil
	case TypeInt64:
		v := uint64(raw[0])<<48 | uint64(raw[1])<<32 | uint64(raw[2])<<16 | uint64(raw[3])
		return float64(int64(v)), nil
	case TypeFloat32:
		return float64(math.Float32frombits(uint32(raw[0])<<16 | uint32(raw[1]))), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedType, dataType)
}

// DecodeString interprets registers as a big-endian byte string, trimmed at
// the first NUL.
func DecodeString(raw []uint16) (string, error) {
	bytes := make([]byte, 0, len(raw)*2)
	for _, r := range raw {
		bytes = append(bytes, byte(r>>8), byte(r))
	}
	if f := slices.Index(bytes, 0x00); f >= 0 {
		bytes = bytes[:f]
	}
	if !utf8.Valid(bytes) {
		return "", ErrStringEncoding
	}
	return string(bytes), nil
}

// Encode converts a numeric value into wire registers. Negative values for
// 16-bit writes are biased by 65536 since Modbus has no signed type on the
// wire; the bias is the exact inverse of the two's-complement decode rule.
func Encode(value float64, dataType DataType) ([]uint16, error) {
	switch dataType {
	case TypeUInt16:
		return []uint16{uint16(value)}, nil
	case TypeInt16:
		v := int64(value)
		if v < 0 {
			v += 65536
		}
		return []uint16{uint16(v)}, nil
	case TypeUInt32, TypeInt32:
		v := uint32(int64(value))
		return []uint16{uint16(v >> 16), uint16(v)}, nil
	case TypeInt64:
		v := uint64(int64(value))
		return []uint16{uint16(v >> 48), uint16(v >> 32), uint16(v >> 16), uint16(v)}, nil
	case TypeFloat32:
		bits := math.Float32bits(float32(value))
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	}
	return nil, fmt.Errorf("%w: cannot encode type %d", ErrUnsupportedType, dataType)
}

package evsemodbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint16RoundTrip(t *testing.T) {
	for x := 0; x <= 65535; x += 7 {
		regs, err := Encode(float64(x), TypeUInt16)
		assert.NoError(t, err)
		v, err := Decode(regs, TypeUInt16)
		assert.NoError(t, err)
		assert.Equal(t, float64(x), v)
	}
}

func TestInt16TwosComplementRoundTrip(t *testing.T) {
	for y := -32768; y <= 32767; y += 13 {
		regs, err := Encode(float64(y), TypeInt16)
		assert.NoError(t, err)
		v, err := Decode(regs, TypeInt16)
		assert.NoError(t, err)
		assert.Equal(t, float64(y), v, "int16 %d should survive the wire bias", y)
	}
	// the write bias is the inverse of the decode rule
	regs, _ := Encode(-7400, TypeInt16)
	assert.Equal(t, uint16(65536-7400), regs[0])
	v, _ := Decode([]uint16{65536 - 7400}, TypeInt16)
	assert.Equal(t, float64(-7400), v)
}

func TestDecodeWideTypes(t *testing.T) {
	v, err := Decode([]uint16{0x0001, 0x0000}, TypeUInt32)
	assert.NoError(t, err)
	assert.Equal(t, float64(65536), v)

	v, err = Decode([]uint16{0xFFFF, 0xFFFF}, TypeInt32)
	assert.NoError(t, err)
	assert.Equal(t, float64(-1), v)

	// 1.5 as IEEE-754 float32 is 0x3FC00000
	v, err = Decode([]uint16{0x3FC0, 0x0000}, TypeFloat32)
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)

	regs, err := Encode(-2.5, TypeFloat32)
	assert.NoError(t, err)
	v, err = Decode(regs, TypeFloat32)
	assert.NoError(t, err)
	assert.Equal(t, -2.5, v)
}

func TestDecodeInsufficientRegisters(t *testing.T) {
	_, err := Decode([]uint16{1}, TypeUInt32)
	assert.ErrorIs(t, err, ErrInsufficientRegisters)

	_, err = Decode(nil, TypeInt16)
	assert.ErrorIs(t, err, ErrInsufficientRegisters)

	_, err = Decode([]uint16{1, 2}, TypeString)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeString(t *testing.T) {
	// "Wallbox" padded with NULs
	raw := []uint16{0x5761, 0x6C6C, 0x626F, 0x7800, 0x0000}
	s, err := DecodeString(raw)
	assert.NoError(t, err)
	assert.Equal(t, "Wallbox", s)

	_, err = DecodeString([]uint16{0xFFFE, 0xFDFC})
	assert.ErrorIs(t, err, ErrStringEncoding)
}

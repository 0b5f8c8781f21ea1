package evsemodbus

import (
	"errors"
	"fmt"
)

// TestRegisterBus is an in-memory RegisterBus used by tests instead of real
// hardware. Register contents are held as raw wire registers so the codec
// path is exercised exactly as with a real transport.
type TestRegisterBus struct {
	Registers map[uint32]uint16
	Strings   map[RegisterRef]string

	// Fail makes every read/write fail, classified as FailClass.
	Fail      bool
	FailClass FailureClass

	Writes []TestWrite

	opened      bool
	lastFailure FailureClass
}

type TestWrite struct {
	Ref   RegisterRef
	Value float64
}

func NewTestRegisterBus() *TestRegisterBus {
	return &TestRegisterBus{
		Registers: map[uint32]uint16{},
		Strings:   map[RegisterRef]string{},
		FailClass: FailureTransient,
	}
}

func regKey(unitID uint8, address uint16) uint32 {
	return uint32(unitID)<<16 | uint32(address)
}

// SetNumber stores a value at a ref, encoded through the wire codec so
// negative values carry the on-wire bias.
func (b *TestRegisterBus) SetNumber(ref RegisterRef, value float64) {
	regs, err := Encode(value, ref.Type)
	if err != nil {
		panic(fmt.Sprintf("test bus: %v", err))
	}
	for i, r := range regs {
		b.Registers[regKey(ref.UnitID, ref.Address+uint16(i))] = r
	}
}

func (b *TestRegisterBus) Open() error {
	b.opened = true
	return nil
}

func (b *TestRegisterBus) Close() error {
	b.opened = false
	return nil
}

func (b *TestRegisterBus) ReadBlocks(refs []RegisterRef) ([]ReadValue, error) {
	if b.Fail {
		b.lastFailure = b.FailClass
		return nil, errors.New("test bus: read failure")
	}
	b.lastFailure = FailureNone
	out := make([]ReadValue, 0, len(refs))
	for _, ref := range refs {
		raw := make([]uint16, ref.RegisterCount())
		missing := false
		for i := range raw {
			r, ok := b.Registers[regKey(ref.UnitID, ref.Address+uint16(i))]
			if !ok {
				missing = true
				break
			}
			raw[i] = r
		}
		if missing {
			out = append(out, ReadValue{Ref: ref})
			continue
		}
		v, err := Decode(raw, ref.Type)
		if err != nil {
			out = append(out, ReadValue{Ref: ref})
			continue
		}
		value := v
		out = append(out, ReadValue{Ref: ref, Value: &value})
	}
	return out, nil
}

func (b *TestRegisterBus) ReadString(ref RegisterRef) (string, error) {
	if b.Fail {
		b.lastFailure = b.FailClass
		return "", errors.New("test bus: read failure")
	}
	b.lastFailure = FailureNone
	return b.Strings[ref], nil
}

func (b *TestRegisterBus) Write(ref RegisterRef, value float64) error {
	if b.Fail {
		b.lastFailure = b.FailClass
		return errors.New("test bus: write failure")
	}
	b.lastFailure = FailureNone
	b.Writes = append(b.Writes, TestWrite{Ref: ref, Value: value})
	// writes are visible to subsequent reads, like real hardware
	b.SetNumber(ref, value)
	return nil
}

func (b *TestRegisterBus) CanCommunicate() bool {
	return b.lastFailure != FailurePersistent
}

func (b *TestRegisterBus) LastFailure() FailureClass {
	return b.lastFailure
}

// WritesTo returns all recorded writes against one address.
func (b *TestRegisterBus) WritesTo(address uint16) []TestWrite {
	var out []TestWrite
	for _, w := range b.Writes {
		if w.Ref.Address == address {
			out = append(out, w)
		}
	}
	return out
}

// ensure interface compliance
var _ RegisterBus = (*TestRegisterBus)(nil)

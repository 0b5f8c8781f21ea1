package evsemodbus

import (
	"fmt"
	"sort"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// FailureClass is the transport's judgement of a failed operation.
type FailureClass int

const (
	FailureNone FailureClass = iota
	// FailureConfig: no read has ever succeeded on this connection, so a
	// failure is most likely a wrong host/port/unit-id, not a hardware
	// fault. Never escalated.
	FailureConfig
	FailureTransient
	FailurePersistent
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureConfig:
		return "config"
	case FailureTransient:
		return "transient"
	case FailurePersistent:
		return "persistent"
	}
	return "unknown"
}

// ReadValue pairs a requested ref with its decoded value. Value is nil when
// the block read failed or the payload could not be decoded.
type ReadValue struct {
	Ref   RegisterRef
	Value *float64
}

// RegisterBus is the hardware access surface the charger driver needs.
type RegisterBus interface {
	Open() error
	Close() error
	ReadBlocks(refs []RegisterRef) ([]ReadValue, error)
	ReadString(ref RegisterRef) (string, error)
	Write(ref RegisterRef, value float64) error
	CanCommunicate() bool
	LastFailure() FailureClass
}

type Instrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

const (
	// Contiguous-read merging: two refs on the same unit id are fetched in
	// one wire read when the address gap between them is small enough.
	maxBatchGap  = 16
	maxBatchSpan = 120
)

// Transport owns the single Modbus TCP connection of one charger and
// classifies its failures.
type Transport struct {
	client     *modbus.ModbusClient
	logger     *zap.Logger
	instrument []Instrument

	failureWindow time.Duration

	everSucceeded bool
	failingSince  *time.Time
	deadline      time.Time
	lastFailure   FailureClass
	currentUnit   uint8
}

// NewTransport creates a transport for tcp://host:port. failureWindow is
// the time a failure may persist before it is classified persistent.
func NewTransport(host string, port int, failureWindow time.Duration, logger *zap.Logger, instrument ...Instrument) (*Transport, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Transport{
		client:        client,
		logger:        logger,
		instrument:    instrument,
		failureWindow: failureWindow,
	}, nil
}

func (t *Transport) Open() error {
	return t.client.Open()
}

func (t *Transport) Close() error {
	return t.client.Close()
}

// CanCommunicate is false once a failure has outlived the failure window.
// Only a successful read resets it.
func (t *Transport) CanCommunicate() bool {
	return t.lastFailure != FailurePersistent
}

func (t *Transport) LastFailure() FailureClass {
	return t.lastFailure
}

func (t *Transport) recordFailure(err error) FailureClass {
	now := time.Now()
	switch {
	case !t.everSucceeded:
		t.lastFailure = FailureConfig
	case t.failingSince == nil:
		t.failingSince = &now
		t.deadline = now.Add(t.failureWindow)
		t.lastFailure = FailureTransient
	case now.Before(t.deadline):
		t.lastFailure = FailureTransient
	default:
		t.lastFailure = FailurePersistent
	}
	t.logger.Warn("modbus operation failed", zap.Error(err),
		zap.String("class", t.lastFailure.String()))
	return t.lastFailure
}

func (t *Transport) recordSuccess() {
	t.everSucceeded = true
	t.failingSince = nil
	t.lastFailure = FailureNone
}

func (t *Transport) setUnit(unitID uint8) {
	if unitID != t.currentUnit {
		t.client.SetUnitId(unitID)
		t.currentUnit = unitID
	}
}

type readBlock struct {
	unitID uint8
	start  uint16
	count  uint16
	refs   []RegisterRef
}

// planBlocks groups refs into as few wire reads as possible: same unit id,
// sorted by address, merged while the gap and total span stay small.
func planBlocks(refs []RegisterRef) []readBlock {
	byUnit := map[uint8][]RegisterRef{}
	for _, r := range refs {
		byUnit[r.UnitID] = append(byUnit[r.UnitID], r)
	}
	units := make([]uint8, 0, len(byUnit))
	for u := range byUnit {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	var blocks []readBlock
	for _, u := range units {
		rs := byUnit[u]
		sort.Slice(rs, func(i, j int) bool { return rs[i].Address < rs[j].Address })
		var cur *readBlock
		for _, r := range rs {
			end := r.Address + r.RegisterCount()
			if cur != nil &&
				int(r.Address)-int(cur.start+cur.count) <= maxBatchGap &&
				int(end)-int(cur.start) <= maxBatchSpan {
				if end > cur.start+cur.count {
					cur.count = end - cur.start
				}
				cur.refs = append(cur.refs, r)
				continue
			}
			blocks = append(blocks, readBlock{unitID: u, start: r.Address, count: end - r.Address, refs: []RegisterRef{r}})
			cur = &blocks[len(blocks)-1]
		}
	}
	return blocks
}

// ReadBlocks fetches all refs, batching contiguous same-unit ranges into
// single wire reads. A decode failure yields a nil value for that ref and
// the cycle continues; a wire failure fails the whole call.
func (t *Transport) ReadBlocks(refs []RegisterRef) ([]ReadValue, error) {
	defer RecordTimer("ReadBlocks", t.instrument)()

	values := make(map[RegisterRef]*float64, len(refs))
	for _, block := range planBlocks(refs) {
		t.setUnit(block.unitID)
		raw, err := t.client.ReadRegisters(block.start, block.count, modbus.HOLDING_REGISTER)
		if err != nil {
			t.recordFailure(err)
			return nil, err
		}
		t.recordSuccess()
		for _, ref := range block.refs {
			offset := ref.Address - block.start
			slice := raw[offset : offset+ref.RegisterCount()]
			v, derr := Decode(slice, ref.Type)
			if derr != nil {
				t.logger.Warn("register decode failed",
					zap.Uint16("address", ref.Address), zap.Error(derr))
				values[ref] = nil
				continue
			}
			value := v
			values[ref] = &value
		}
	}

	out := make([]ReadValue, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ReadValue{Ref: ref, Value: values[ref]})
	}
	return out, nil
}

func (t *Transport) ReadString(ref RegisterRef) (string, error) {
	defer RecordTimer("ReadString", t.instrument)()
	t.setUnit(ref.UnitID)
	raw, err := t.client.ReadRegisters(ref.Address, ref.RegisterCount(), modbus.HOLDING_REGISTER)
	if err != nil {
		t.recordFailure(err)
		return "", err
	}
	t.recordSuccess()
	return DecodeString(raw)
}

// Write encodes and writes a value. Negative values are biased by the
// codec's two's-complement encoding before hitting the wire.
func (t *Transport) Write(ref RegisterRef, value float64) error {
	defer RecordTimer("Write", t.instrument)()
	regs, err := Encode(value, ref.Type)
	if err != nil {
		return err
	}
	t.setUnit(ref.UnitID)
	if len(regs) == 1 {
		err = t.client.WriteRegister(ref.Address, regs[0])
	} else {
		err = t.client.WriteRegisters(ref.Address, regs)
	}
	if err != nil {
		t.recordFailure(err)
		return err
	}
	t.recordSuccess()
	return nil
}

// AdhocRead opens an independent short-lived connection, reads one
// register and closes. Used to validate host/port before full startup and
// to read the hardware max power pre-initialization; never touches the
// owned connection or its failure state.
func AdhocRead(host string, port int, ref RegisterRef, timeout time.Duration) (float64, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return 0, err
	}
	if err := client.Open(); err != nil {
		return 0, err
	}
	defer client.Close()
	client.SetUnitId(ref.UnitID)
	raw, err := client.ReadRegisters(ref.Address, ref.RegisterCount(), modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return Decode(raw, ref.Type)
}

func RecordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// ensure interface compliance
var _ RegisterBus = (*Transport)(nil)

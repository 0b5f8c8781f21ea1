package evsemodbus

import (
	"time"
)

// RegisterRef locates a typed value on the wire. Immutable, defined per
// vendor at compile time.
type RegisterRef struct {
	Address uint16
	UnitID  uint8
	Type    DataType
	// Count is only consulted for TypeString; fixed-width types derive
	// their register count from the type.
	Count uint16
}

func (r RegisterRef) RegisterCount() uint16 {
	if r.Type == TypeString {
		return r.Count
	}
	return r.Type.registerCount()
}

// Transition is the outcome of feeding a polled raw value to an Entity.
type Transition struct {
	Changed bool
	Old     *float64
	New     *float64
}

// Entity is a named register binding with validity bounds, an optional
// relaxed bootstrap range and a cached current value. The cached value is
// nil only before the first successful read or after Invalidate.
type Entity struct {
	Name       string
	Ref        RegisterRef
	Min        float64
	Max        float64
	RelaxedMin *float64
	RelaxedMax *float64
	// PreProcess maps the raw wire value to the domain value (scale
	// factors, state-code normalization). Runs before range checks.
	PreProcess func(float64) float64

	Current   *float64
	UpdatedAt time.Time
}

// Apply feeds a freshly polled value into the entity.
//
// A nil raw value keeps whatever is cached. An in-range value is accepted
// and compared against the previous one. An out-of-range value is accepted
// through the relaxed range only while no value is cached yet: some
// chargers report an implausible reading (commonly 0) until a charge cycle
// runs, and clobbering a known-good cached value with it would fabricate a
// state transition. Otherwise the reading is rejected and the previous
// value retained.
func (e *Entity) Apply(raw *float64) Transition {
	return e.apply(raw, false)
}

// ApplyRelaxed accepts a value inside the relaxed range even when a value
// is already cached. Used by forced-read loops that have exhausted their
// strict-range window.
func (e *Entity) ApplyRelaxed(raw *float64) Transition {
	return e.apply(raw, true)
}

func (e *Entity) apply(raw *float64, forceRelaxed bool) Transition {
	if raw == nil {
		return Transition{Changed: false, Old: e.Current, New: e.Current}
	}
	value := *raw
	if e.PreProcess != nil {
		value = e.PreProcess(value)
	}
	if value >= e.Min && value <= e.Max {
		return e.accept(value)
	}
	relaxedOK := e.RelaxedMin != nil && e.RelaxedMax != nil &&
		value >= *e.RelaxedMin && value <= *e.RelaxedMax
	if relaxedOK && (forceRelaxed || e.Current == nil) {
		return e.accept(value)
	}
	return Transition{Changed: false, Old: e.Current, New: e.Current}
}

func (e *Entity) accept(value float64) Transition {
	old := e.Current
	e.UpdatedAt = time.Now()
	if old != nil && *old == value {
		return Transition{Changed: false, Old: old, New: old}
	}
	v := value
	e.Current = &v
	return Transition{Changed: true, Old: old, New: e.Current}
}

// Invalidate drops the cached value, e.g. on connectivity loss or car
// disconnect. The next poll goes through the bootstrap path again.
func (e *Entity) Invalidate() {
	e.Current = nil
}

// Set overrides the cached value directly, bypassing range checks. Used
// when a forced read or probe produced a value through its own validation.
func (e *Entity) Set(value float64) Transition {
	return e.accept(value)
}

func (e *Entity) Value() *float64 {
	return e.Current
}

func (e *Entity) ValueOr(fallback float64) float64 {
	if e.Current == nil {
		return fallback
	}
	return *e.Current
}

package evsemodbus

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ConnectedVehicle is a weak reference to the car currently plugged in. The
// driver never owns vehicle lifecycle; it resolves one through the injected
// lookup on connect and drops the reference on disconnect.
type ConnectedVehicle struct {
	ID            string
	MinSoCPercent float64
	CapacityKWh   float64
}

// VehicleLookup resolves the currently configured vehicle. May return nil.
type VehicleLookup func() *ConnectedVehicle

type PollKind int

const (
	// PollMinimal reads only the state registers. Used while no car is
	// connected.
	PollMinimal PollKind = iota
	PollFull
)

// EntityChange reports one entity value transition out of a poll cycle.
type EntityChange struct {
	Kind EntityKind
	Name string
	Old  *float64
	New  *float64
}

// PollOutcome is everything one poll cycle produced. The caller turns it
// into events; the driver itself only mutates its cached state.
type PollOutcome struct {
	Changes []EntityChange

	StateChanged bool
	OldState     EVSEState
	NewState     EVSEState

	ConnectedChanged bool
	CarConnected     bool

	PowerChanged bool
	PowerWatt    *float64

	SoCChanged bool
	SoCPercent *float64

	ErrorActive bool
	Failure     FailureClass
}

// ChargerInfo identifies the hardware and its effective power limits.
type ChargerInfo struct {
	Manufacturer     string
	Model            string
	Serial           string
	MaxChargeWatt    int64
	MaxDischargeWatt int64
}

var (
	ErrProbeUnsupported = errors.New("evsemodbus: vendor has no SoC register to probe")
	ErrNoSoCRegister    = errors.New("evsemodbus: vendor has no SoC register")
)

type boundEntity struct {
	spec   EntitySpec
	entity *Entity
}

// ChargerDriver drives one physical charger through a vendor spec. All
// methods must be called from a single goroutine (the owning actor); the
// driver holds no locks.
type ChargerDriver struct {
	spec   *VendorSpec
	bus    RegisterBus
	logger *zap.Logger

	guard         PowerGuard
	lookupVehicle VehicleLookup

	entities []*boundEntity
	state    EVSEState
	active   bool
	vehicle  *ConnectedVehicle

	appliedPower *int64
	// powerScale is 10^SF once scale factors are read, 1 otherwise.
	powerScale float64
}

func NewChargerDriver(spec *VendorSpec, bus RegisterBus, guard PowerGuard,
	lookup VehicleLookup, logger *zap.Logger) *ChargerDriver {

	d := &ChargerDriver{
		spec:          spec,
		bus:           bus,
		logger:        logger,
		guard:         guard,
		lookupVehicle: lookup,
		state:         StateBooting,
		powerScale:    1,
	}
	for _, es := range spec.Entities {
		entity := &Entity{
			Name:       es.Name,
			Ref:        es.Ref,
			Min:        es.Min,
			Max:        es.Max,
			RelaxedMin: es.RelaxedMin,
			RelaxedMax: es.RelaxedMax,
		}
		if es.ApplyPowerScaleFactor {
			entity.PreProcess = func(v float64) float64 {
				return v * d.powerScale
			}
		}
		d.entities = append(d.entities, &boundEntity{spec: es, entity: entity})
	}
	return d
}

func (d *ChargerDriver) Open() error {
	return d.bus.Open()
}

func (d *ChargerDriver) Close() error {
	return d.bus.Close()
}

func (d *ChargerDriver) Spec() *VendorSpec {
	return d.spec
}

// Initialise reads the scale factors and the hardware power limits, then
// tightens the guard to the intersection of user and hardware limits.
func (d *ChargerDriver) Initialise() error {
	if d.spec.PowerScaleFactor != nil {
		values, err := d.bus.ReadBlocks([]RegisterRef{*d.spec.PowerScaleFactor})
		if err != nil {
			return fmt.Errorf("read power scale factor: %w", err)
		}
		if values[0].Value != nil {
			d.powerScale = math.Pow(10, *values[0].Value)
		}
	}

	maxCharge, maxDischarge, err := d.readHardwareLimits()
	if err != nil {
		return err
	}
	if maxCharge > 0 && maxCharge < d.guard.MaxChargeWatt {
		d.logger.Info("charge power limited by hardware",
			zap.Int64("configured", d.guard.MaxChargeWatt), zap.Int64("hardware", maxCharge))
		d.guard.MaxChargeWatt = maxCharge
	}
	if maxDischarge > 0 && maxDischarge < d.guard.MaxDischargeWatt {
		d.logger.Info("discharge power limited by hardware",
			zap.Int64("configured", d.guard.MaxDischargeWatt), zap.Int64("hardware", maxDischarge))
		d.guard.MaxDischargeWatt = maxDischarge
	}
	return nil
}

func (d *ChargerDriver) readHardwareLimits() (int64, int64, error) {
	var refs []RegisterRef
	if d.spec.HWMaxPower != nil {
		refs = append(refs, *d.spec.HWMaxPower)
	}
	if d.spec.MaxChargeRate != nil {
		refs = append(refs, *d.spec.MaxChargeRate)
	}
	if d.spec.MaxDischargeRate != nil {
		refs = append(refs, *d.spec.MaxDischargeRate)
	}
	if len(refs) == 0 {
		return 0, 0, nil
	}
	values, err := d.bus.ReadBlocks(refs)
	if err != nil {
		return 0, 0, fmt.Errorf("read hardware limits: %w", err)
	}
	byRef := map[RegisterRef]*float64{}
	for _, v := range values {
		byRef[v.Ref] = v.Value
	}
	var maxCharge, maxDischarge int64
	if d.spec.HWMaxPower != nil {
		if v := byRef[*d.spec.HWMaxPower]; v != nil {
			maxCharge = int64(*v)
			maxDischarge = int64(*v)
			if d.spec.HWMaxPowerMax > 0 &&
				(maxCharge < d.spec.HWMaxPowerMin || maxCharge > d.spec.HWMaxPowerMax) {
				return 0, 0, fmt.Errorf("hardware max power %d W outside plausible range [%d, %d]",
					maxCharge, d.spec.HWMaxPowerMin, d.spec.HWMaxPowerMax)
			}
		}
	}
	if d.spec.MaxChargeRate != nil {
		if v := byRef[*d.spec.MaxChargeRate]; v != nil {
			maxCharge = int64(*v * d.powerScale)
		}
	}
	if d.spec.MaxDischargeRate != nil {
		if v := byRef[*d.spec.MaxDischargeRate]; v != nil {
			maxDischarge = int64(*v * d.powerScale)
		}
	}
	return maxCharge, maxDischarge, nil
}

// SetActive takes control of the charger: the vendor takeover sequence
// locks out the user app and disables autostart-on-connect.
func (d *ChargerDriver) SetActive() error {
	for _, step := range d.spec.Takeover {
		if err := d.bus.Write(step.Ref, step.Value); err != nil {
			return fmt.Errorf("takeover write at %d: %w", step.Ref.Address, err)
		}
	}
	d.active = true
	return nil
}

// SetInactive stops any charge, runs the vendor handback sequence and
// releases control back to the user.
func (d *ChargerDriver) SetInactive() error {
	if err := d.StopCharging(); err != nil {
		d.logger.Warn("stop before handback failed", zap.Error(err))
	}
	for _, step := range d.spec.Handback {
		if err := d.bus.Write(step.Ref, step.Value); err != nil {
			return fmt.Errorf("handback write at %d: %w", step.Ref.Address, err)
		}
	}
	d.active = false
	return nil
}

func (d *ChargerDriver) Active() bool {
	return d.active
}

// Info reads the identification strings. Best effort: vendors without info
// registers report only the vendor spec's model name.
func (d *ChargerDriver) Info() (*ChargerInfo, error) {
	info := &ChargerInfo{
		Model:            d.spec.Name,
		MaxChargeWatt:    d.guard.MaxChargeWatt,
		MaxDischargeWatt: d.guard.MaxDischargeWatt,
	}
	if d.spec.Info == nil {
		return info, nil
	}
	manufacturer, err := d.bus.ReadString(d.spec.Info.Manufacturer)
	if err != nil {
		return nil, err
	}
	model, err := d.bus.ReadString(d.spec.Info.Model)
	if err != nil {
		return nil, err
	}
	serial, err := d.bus.ReadString(d.spec.Info.Serial)
	if err != nil {
		return nil, err
	}
	info.Manufacturer = manufacturer
	info.Model = model
	info.Serial = serial
	return info, nil
}

// PollRefs returns the registers a poll cycle of the given kind reads.
func (d *ChargerDriver) PollRefs(kind PollKind) []RegisterRef {
	var refs []RegisterRef
	for _, be := range d.entities {
		if kind == PollMinimal && !be.spec.Minimal {
			continue
		}
		refs = append(refs, be.spec.Ref)
	}
	return refs
}

// Poll reads and applies one cycle worth of entities.
func (d *ChargerDriver) Poll(kind PollKind) (PollOutcome, error) {
	values, err := d.bus.ReadBlocks(d.PollRefs(kind))
	if err != nil {
		return PollOutcome{Failure: d.bus.LastFailure()}, err
	}
	return d.ApplyPoll(values), nil
}

// ApplyPoll feeds freshly read values into the entity set and computes the
// resulting normalized state and side effects. Change handling runs after
// all entities are updated, so a composite state derivation always sees a
// consistent snapshot.
func (d *ChargerDriver) ApplyPoll(values []ReadValue) PollOutcome {
	byRef := map[RegisterRef]*float64{}
	for _, v := range values {
		byRef[v.Ref] = v.Value
	}

	outcome := PollOutcome{OldState: d.state, NewState: d.state}
	for _, be := range d.entities {
		raw, polled := byRef[be.spec.Ref]
		if !polled {
			continue
		}
		tr := be.entity.Apply(raw)
		if !tr.Changed {
			continue
		}
		outcome.Changes = append(outcome.Changes, EntityChange{
			Kind: be.spec.Kind, Name: be.spec.Name, Old: tr.Old, New: tr.New,
		})
		switch be.spec.Kind {
		case KindPower:
			outcome.PowerChanged = true
			outcome.PowerWatt = tr.New
		case KindSoC:
			outcome.SoCChanged = true
			outcome.SoCPercent = tr.New
		}
	}

	newState := d.deriveState()
	if newState != d.state {
		outcome.StateChanged = true
		outcome.OldState = d.state
		outcome.NewState = newState
		d.applyStateTransition(d.state, newState, &outcome)
		d.state = newState
	}
	outcome.CarConnected = d.IsCarConnected()
	outcome.ErrorActive = d.errorActive()
	return outcome
}

func (d *ChargerDriver) deriveState() EVSEState {
	if d.spec.DeriveState != nil {
		return d.spec.DeriveState(d.snapshot())
	}
	stateEntity := d.entityOf(KindState)
	if stateEntity == nil || stateEntity.Current == nil {
		return StateBooting
	}
	return d.spec.NormalizeState(uint16(*stateEntity.Current))
}

func (d *ChargerDriver) snapshot() Snapshot {
	s := Snapshot{}
	for _, be := range d.entities {
		// first entity of each kind wins; error entities are checked
		// separately via errorActive
		if _, ok := s[be.spec.Kind]; !ok {
			s[be.spec.Kind] = be.entity.Current
		}
	}
	return s
}

func (d *ChargerDriver) applyStateTransition(old, next EVSEState, outcome *PollOutcome) {
	wasConnected := old.CarConnected()
	isConnected := next.CarConnected()
	if isConnected && d.vehicle == nil && d.lookupVehicle != nil {
		d.vehicle = d.lookupVehicle()
		if d.vehicle != nil {
			d.guard.MinSoCPercent = d.vehicle.MinSoCPercent
		}
	}
	if wasConnected == isConnected {
		return
	}
	outcome.ConnectedChanged = true
	if !isConnected {
		// Explicit stop so the charger cannot auto-resume a stale session
		// when the car comes back.
		d.vehicle = nil
		if soc := d.entityOf(KindSoC); soc != nil {
			soc.Invalidate()
		}
		if err := d.StopCharging(); err != nil {
			d.logger.Warn("stop on disconnect failed", zap.Error(err))
		}
	}
}

func (d *ChargerDriver) errorActive() bool {
	if d.state == StateError {
		return true
	}
	for _, be := range d.entities {
		if be.spec.Kind != KindError {
			continue
		}
		// nil = uninitialised, 0 = no error
		if v := be.entity.Current; v != nil && *v != 0 {
			return true
		}
	}
	return false
}

func (d *ChargerDriver) entityOf(kind EntityKind) *Entity {
	for _, be := range d.entities {
		if be.spec.Kind == kind {
			return be.entity
		}
	}
	return nil
}

// MarkCommunicationLost switches the normalized state and invalidates all
// cached values; the next successful poll rebuilds them through the
// bootstrap path.
func (d *ChargerDriver) MarkCommunicationLost() {
	d.state = StateCommunicationError
	for _, be := range d.entities {
		be.entity.Invalidate()
	}
	d.appliedPower = nil
}

func (d *ChargerDriver) State() EVSEState {
	return d.state
}

func (d *ChargerDriver) IsCarConnected() bool {
	return d.state.CarConnected()
}

func (d *ChargerDriver) IsCharging() bool {
	return d.state.Charging()
}

func (d *ChargerDriver) IsDischarging() bool {
	return d.state.Discharging()
}

func (d *ChargerDriver) CurrentPowerWatt() *float64 {
	if e := d.entityOf(KindPower); e != nil {
		return e.Current
	}
	return nil
}

func (d *ChargerDriver) StateOfCharge() *float64 {
	if e := d.entityOf(KindSoC); e != nil {
		return e.Current
	}
	return nil
}

// SoCFreshWithin reports whether the cached SoC was updated within maxAge.
func (d *ChargerDriver) SoCFreshWithin(maxAge time.Duration) bool {
	e := d.entityOf(KindSoC)
	return e != nil && e.Current != nil && time.Since(e.UpdatedAt) <= maxAge
}

func (d *ChargerDriver) Vehicle() *ConnectedVehicle {
	return d.vehicle
}

func (d *ChargerDriver) CanCommunicate() bool {
	return d.bus.CanCommunicate()
}

// StartCharging routes through the guard, writes the setpoint and issues
// the vendor start action. A logged no-op while inactive or disconnected.
func (d *ChargerDriver) StartCharging(powerWatt int64) error {
	if !d.active {
		d.logger.Info("start_charging ignored: control not active")
		return nil
	}
	if !d.IsCarConnected() {
		d.logger.Info("start_charging ignored: no car connected",
			zap.String("state", d.state.String()))
		return nil
	}
	written, err := d.SetPower(powerWatt, false)
	if err != nil {
		return err
	}
	if !written {
		return nil
	}
	return d.writeAction(d.spec.ActionStart)
}

// StopCharging writes a zero setpoint and the vendor stop action.
func (d *ChargerDriver) StopCharging() error {
	if _, err := d.SetPower(0, true); err != nil {
		return err
	}
	return d.writeAction(d.spec.ActionStop)
}

func (d *ChargerDriver) writeAction(action float64) error {
	if d.spec.Action == nil {
		return nil
	}
	return d.bus.Write(*d.spec.Action, action)
}

// SetPower clamps and writes the power setpoint. Returns whether a write
// actually happened.
func (d *ChargerDriver) SetPower(powerWatt int64, skipMinSoCCheck bool) (bool, error) {
	decision := d.guard.Clamp(powerWatt, d.StateOfCharge(), d.appliedPower, skipMinSoCCheck)
	for _, w := range decision.Warnings {
		d.logger.Warn("power request adjusted", zap.String("reason", w))
	}
	if decision.Skip {
		return false, nil
	}
	wire := float64(decision.PowerWatt) / d.powerScale
	if err := d.bus.Write(d.spec.SetPower, wire); err != nil {
		return false, err
	}
	applied := decision.PowerWatt
	d.appliedPower = &applied
	return true, nil
}

func (d *ChargerDriver) AppliedPower() *int64 {
	return d.appliedPower
}

// ProbeRestore remembers what to undo after a SoC probe.
type ProbeRestore struct {
	wasIdle bool
}

// BeginSoCProbe prepares a forced SoC read. Several chargers report a
// meaningless 0% SoC while no current flows, so when idle the probe
// briefly commands a minimal charge. The caller must pause polling first
// and call EndSoCProbe afterwards.
func (d *ChargerDriver) BeginSoCProbe() (*ProbeRestore, error) {
	if d.spec.SoCProbeWatt == 0 || d.entityOf(KindSoC) == nil {
		return nil, ErrProbeUnsupported
	}
	restore := &ProbeRestore{wasIdle: !d.IsCharging() && !d.IsDischarging()}
	if restore.wasIdle {
		if _, err := d.SetPower(d.spec.SoCProbeWatt, true); err != nil {
			return nil, err
		}
		if err := d.writeAction(d.spec.ActionStart); err != nil {
			return nil, err
		}
	}
	return restore, nil
}

// EndSoCProbe restores the pre-probe command.
func (d *ChargerDriver) EndSoCProbe(restore *ProbeRestore) error {
	if restore == nil || !restore.wasIdle {
		return nil
	}
	return d.StopCharging()
}

// TryForcedSoCRead performs one attempt of a forced-read loop: a direct
// register read accepted through the strict range, or through the relaxed
// range once the caller's strict window has expired.
func (d *ChargerDriver) TryForcedSoCRead(acceptRelaxed bool) (accepted bool, value *float64, err error) {
	entity := d.entityOf(KindSoC)
	if entity == nil {
		return false, nil, ErrNoSoCRegister
	}
	values, err := d.bus.ReadBlocks([]RegisterRef{entity.Ref})
	if err != nil {
		return false, nil, err
	}
	raw := values[0].Value
	if raw == nil {
		return false, nil, nil
	}
	var tr Transition
	if acceptRelaxed {
		tr = entity.ApplyRelaxed(raw)
	} else {
		tr = entity.Apply(raw)
	}
	if *raw >= entity.Min && *raw <= entity.Max {
		return true, entity.Current, nil
	}
	if acceptRelaxed && tr.New != nil {
		return true, entity.Current, nil
	}
	return false, entity.Current, nil
}

// PreInitMaxPower validates host/port before full startup by reading the
// hardware max power over an independent short-lived connection.
func PreInitMaxPower(spec *VendorSpec, host string, port int) (int64, error) {
	ref := spec.HWMaxPower
	if ref == nil {
		ref = spec.MaxChargeRate
	}
	if ref == nil {
		return 0, fmt.Errorf("evsemodbus: vendor %s has no max power register", spec.Name)
	}
	if port == 0 {
		port = spec.DefaultPort
	}
	v, err := AdhocRead(host, port, *ref, 5*time.Second)
	if err != nil {
		return 0, err
	}
	max := int64(v)
	if spec.HWMaxPowerMax > 0 && (max < spec.HWMaxPowerMin || max > spec.HWMaxPowerMax) {
		return 0, fmt.Errorf("evsemodbus: hardware max power %d W outside plausible range [%d, %d]",
			max, spec.HWMaxPowerMin, spec.HWMaxPowerMax)
	}
	return max, nil
}

package evsemodbus

import "fmt"

// PowerGuard clamps requested charge/discharge power to hardware and user
// limits and to the minimum-SoC discharge floor. It is the last line of
// defense before a setpoint write.
type PowerGuard struct {
	MinSoCPercent    float64
	MaxChargeWatt    int64
	MaxDischargeWatt int64
}

// GuardDecision is the outcome of clamping one power request.
type GuardDecision struct {
	PowerWatt int64
	// Skip means the effective value equals the already applied one, so no
	// write is needed.
	Skip     bool
	Warnings []string
}

// Clamp applies, in order: the min-SoC discharge floor (unless the caller
// is a probe that explicitly skips it), the hardware/user power limits, and
// the redundant-write check. Pure function: same inputs, same decision.
func (g PowerGuard) Clamp(requestedWatt int64, soc *float64, appliedWatt *int64, skipMinSoCCheck bool) GuardDecision {
	var warnings []string
	effective := requestedWatt

	// Upstream boost logic should make this unreachable; enforced anyway.
	if !skipMinSoCCheck && effective < 0 && soc != nil && *soc <= g.MinSoCPercent {
		warnings = append(warnings,
			fmt.Sprintf("discharge of %d W requested at SoC %.1f%% (min %.1f%%), forcing 0 W",
				effective, *soc, g.MinSoCPercent))
		effective = 0
	}

	if effective > g.MaxChargeWatt {
		warnings = append(warnings,
			fmt.Sprintf("charge power %d W clamped to %d W", effective, g.MaxChargeWatt))
		effective = g.MaxChargeWatt
	}
	if effective < -g.MaxDischargeWatt {
		warnings = append(warnings,
			fmt.Sprintf("discharge power %d W clamped to %d W", effective, -g.MaxDischargeWatt))
		effective = -g.MaxDischargeWatt
	}

	if appliedWatt != nil && *appliedWatt == effective {
		return GuardDecision{PowerWatt: effective, Skip: true, Warnings: warnings}
	}
	return GuardDecision{PowerWatt: effective, Skip: false, Warnings: warnings}
}

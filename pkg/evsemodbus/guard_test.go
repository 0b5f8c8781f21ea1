package evsemodbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testGuard() PowerGuard {
	return PowerGuard{
		MinSoCPercent:    20,
		MaxChargeWatt:    7400,
		MaxDischargeWatt: 7400,
	}
}

func TestGuardBlocksDischargeAtMinSoC(t *testing.T) {
	g := testGuard()
	for _, requested := range []int64{-1, -100, -7400, -99999} {
		d := g.Clamp(requested, f(20), nil, false)
		assert.Equal(t, int64(0), d.PowerWatt, "discharge at min SoC must force 0 W")
		assert.NotEmpty(t, d.Warnings)
	}
	// below min SoC as well
	d := g.Clamp(-3000, f(5), nil, false)
	assert.Equal(t, int64(0), d.PowerWatt)
}

func TestGuardAllowsDischargeAboveMinSoC(t *testing.T) {
	g := testGuard()
	d := g.Clamp(-3000, f(50), nil, false)
	assert.Equal(t, int64(-3000), d.PowerWatt)
	assert.Empty(t, d.Warnings)
}

func TestGuardClampsToLimits(t *testing.T) {
	g := testGuard()
	d := g.Clamp(9000, f(50), nil, false)
	assert.Equal(t, int64(7400), d.PowerWatt)

	d = g.Clamp(-9000, f(50), nil, false)
	assert.Equal(t, int64(-7400), d.PowerWatt)
}

func TestGuardSkipsRedundantWrite(t *testing.T) {
	g := testGuard()
	applied := int64(3000)
	d := g.Clamp(3000, f(50), &applied, false)
	assert.True(t, d.Skip)
	assert.Equal(t, int64(3000), d.PowerWatt)

	d = g.Clamp(3500, f(50), &applied, false)
	assert.False(t, d.Skip)
}

func TestGuardIsIdempotent(t *testing.T) {
	g := testGuard()
	first := g.Clamp(-9000, f(15), nil, false)
	second := g.Clamp(-9000, f(15), nil, false)
	assert.Equal(t, first.PowerWatt, second.PowerWatt)
	assert.Equal(t, first.Skip, second.Skip)
	assert.Equal(t, first.Warnings, second.Warnings)
}

func TestGuardSkipMinSoCCheckForProbe(t *testing.T) {
	g := testGuard()
	// a probe may command its minimal power regardless of SoC
	d := g.Clamp(1, f(5), nil, true)
	assert.Equal(t, int64(1), d.PowerWatt)
	assert.Empty(t, d.Warnings)
}

func TestGuardUnknownSoCAllowsDischarge(t *testing.T) {
	g := testGuard()
	// SoC unknown: the floor cannot be evaluated, limits still apply
	d := g.Clamp(-3000, nil, nil, false)
	assert.Equal(t, int64(-3000), d.PowerWatt)
}

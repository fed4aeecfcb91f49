package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

func TestAllowsWithinExposure(t *testing.T) {
	e := NewEngine(Config{MaxExposure: 100})

	d := e.Evaluate(schema.SideBuy, 50, 0)
	assert.True(t, d.Allowed())
	assert.Equal(t, schema.Quantity(50), d.ProjectedPos)

	// Selling against a long position reduces exposure.
	d = e.Evaluate(schema.SideSell, 80, 60)
	assert.True(t, d.Allowed())
	assert.Equal(t, schema.Quantity(-20), d.ProjectedPos)
}

func TestDeniesOverExposure(t *testing.T) {
	e := NewEngine(Config{MaxExposure: 10})

	d := e.Evaluate(schema.SideBuy, 5, 9)
	assert.False(t, d.Allowed())
	assert.Equal(t, ReasonExposureLimit, d.Reason)
	assert.Equal(t, schema.Quantity(14), d.ProjectedPos)

	// Short side is symmetric.
	d = e.Evaluate(schema.SideSell, 5, -9)
	assert.False(t, d.Allowed())
	assert.Equal(t, ReasonExposureLimit, d.Reason)
}

func TestExposureBoundaryIsInclusive(t *testing.T) {
	e := NewEngine(Config{MaxExposure: 10})
	d := e.Evaluate(schema.SideBuy, 10, 0)
	assert.True(t, d.Allowed(), "projected exposure equal to the cap passes")
}

func TestKillSwitchDeniesEverything(t *testing.T) {
	e := NewEngine(Config{KillSwitch: true, MaxExposure: 1000})
	d := e.Evaluate(schema.SideBuy, 1, 0)
	assert.False(t, d.Allowed())
	assert.Equal(t, ReasonKillSwitch, d.Reason)
}

func TestMinSizeFloor(t *testing.T) {
	e := NewEngine(Config{MinOrderSize: 10})
	d := e.Evaluate(schema.SideBuy, 9, 0)
	assert.False(t, d.Allowed())
	assert.Equal(t, ReasonMinSize, d.Reason)

	d = e.Evaluate(schema.SideBuy, 10, 0)
	assert.True(t, d.Allowed())
}

func TestBadIntentDenied(t *testing.T) {
	e := NewEngine(Config{})
	d := e.Evaluate(schema.SideBuy, 0, 0)
	assert.Equal(t, ReasonBadIntent, d.Reason)

	d = e.Evaluate(schema.SideBuy, -5, 0)
	assert.Equal(t, ReasonBadIntent, d.Reason)

	d = e.Evaluate(schema.SideUnknown, 5, 0)
	assert.Equal(t, ReasonBadIntent, d.Reason)
}

func TestZeroExposureDisablesCheck(t *testing.T) {
	e := NewEngine(Config{})
	d := e.Evaluate(schema.SideBuy, 1_000_000, 1_000_000)
	assert.True(t, d.Allowed())
}

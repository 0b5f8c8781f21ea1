package evsemodbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPlanBlocksMergesContiguousRanges(t *testing.T) {
	refs := []RegisterRef{
		{Address: 526, UnitID: 1, Type: TypeInt16},
		{Address: 537, UnitID: 1, Type: TypeUInt16},
		{Address: 538, UnitID: 1, Type: TypeUInt16},
		{Address: 539, UnitID: 1, Type: TypeUInt16},
	}
	blocks := planBlocks(refs)
	assert.Len(t, blocks, 1, "close addresses on one unit should be a single wire read")
	assert.Equal(t, uint16(526), blocks[0].start)
	assert.Equal(t, uint16(539+1-526), blocks[0].count)
	assert.Len(t, blocks[0].refs, 4)
}

func TestPlanBlocksSplitsOnLargeGap(t *testing.T) {
	refs := []RegisterRef{
		{Address: 81, UnitID: 1, Type: TypeUInt16},
		{Address: 537, UnitID: 1, Type: TypeUInt16},
	}
	blocks := planBlocks(refs)
	assert.Len(t, blocks, 2)
}

func TestPlanBlocksSplitsByUnitID(t *testing.T) {
	refs := []RegisterRef{
		{Address: 100, UnitID: 1, Type: TypeUInt16},
		{Address: 103, UnitID: 1, Type: TypeUInt16},
		{Address: 0, UnitID: 2, Type: TypeUInt16},
		{Address: 1, UnitID: 2, Type: TypeUInt16},
		{Address: 9, UnitID: 2, Type: TypeFloat32},
		{Address: 11, UnitID: 2, Type: TypeUInt16},
	}
	blocks := planBlocks(refs)
	assert.Len(t, blocks, 2)
	assert.Equal(t, uint8(1), blocks[0].unitID)
	assert.Equal(t, uint8(2), blocks[1].unitID)
	assert.Equal(t, uint16(12), blocks[1].start+blocks[1].count)
}

func TestFailureClassificationBeforeFirstSuccess(t *testing.T) {
	tr := &Transport{failureWindow: 60 * time.Second, logger: zap.NewNop()}

	// host/port not validated yet: a failure is a configuration problem,
	// not a crashed charger
	class := tr.recordFailure(errors.New("connection refused"))
	assert.Equal(t, FailureConfig, class)
	assert.True(t, tr.CanCommunicate())
	class = tr.recordFailure(errors.New("connection refused"))
	assert.Equal(t, FailureConfig, class)
}

func TestFailureClassificationWindow(t *testing.T) {
	tr := &Transport{failureWindow: 50 * time.Millisecond, logger: zap.NewNop()}
	tr.recordSuccess()

	class := tr.recordFailure(errors.New("timeout"))
	assert.Equal(t, FailureTransient, class)
	assert.True(t, tr.CanCommunicate())

	// still inside the window
	class = tr.recordFailure(errors.New("timeout"))
	assert.Equal(t, FailureTransient, class)

	time.Sleep(60 * time.Millisecond)
	class = tr.recordFailure(errors.New("timeout"))
	assert.Equal(t, FailurePersistent, class)
	assert.False(t, tr.CanCommunicate())

	// one success heals everything
	tr.recordSuccess()
	assert.True(t, tr.CanCommunicate())
	class = tr.recordFailure(errors.New("timeout"))
	assert.Equal(t, FailureTransient, class)
}

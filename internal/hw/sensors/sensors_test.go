package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Defaults(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, OrientationUnknown, tr.Rotation())
	_, ok := tr.LastKnown()
	assert.False(t, ok)
}

func TestTracker_Rotation(t *testing.T) {
	tr := NewTracker()
	tr.SetRotation(450)
	assert.Equal(t, 90, tr.Rotation())
	tr.SetRotation(-20)
	assert.Equal(t, OrientationUnknown, tr.Rotation())
}

func TestTracker_Location(t *testing.T) {
	tr := NewTracker()
	tr.SetLocation(46.2, 6.1)
	loc, ok := tr.LastKnown()
	assert.True(t, ok)
	assert.InDelta(t, 46.2, loc.Latitude, 1e-9)
	assert.InDelta(t, 6.1, loc.Longitude, 1e-9)
	assert.False(t, loc.Time.IsZero())

	tr.ClearLocation()
	_, ok = tr.LastKnown()
	assert.False(t, ok)
}

func TestFixedOrientation(t *testing.T) {
	var o Orientation = FixedOrientation(270)
	assert.Equal(t, 270, o.Rotation())
}

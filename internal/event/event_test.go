package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocal(t *testing.T) {
	a := NewLocal("hello")
	b := NewLocal("hello")

	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique")
	assert.Equal(t, OriginLocal, a.Origin)
	assert.True(t, a.Provisional())
	assert.True(t, a.Time().IsZero())
}

func TestTime(t *testing.T) {
	e := Event{ID: "x", Content: "c", Origin: OriginRemote, Timestamp: 1700000000123}
	assert.False(t, e.Provisional())
	assert.Equal(t, time.UnixMilli(1700000000123), e.Time())
}

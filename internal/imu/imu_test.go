package imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTempCelsius(t *testing.T) {
	assert.Equal(t, 21.0, RawAttitudeSample{}.TempCelsius())
	assert.InDelta(t, 31.0, RawAttitudeSample{Temp: 3339}.TempCelsius(), 0.01)
	assert.InDelta(t, 25.0, RawAttitudeSample{Temp: 1335}.TempCelsius(), 0.01)
	assert.InDelta(t, 21.0-98.1, RawAttitudeSample{Temp: -32768}.TempCelsius(), 0.1)
}

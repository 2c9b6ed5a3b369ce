package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "gauge", Gauge.String())
	assert.Equal(t, "counter", Counter.String())
	assert.Equal(t, "gauge", Point{}.Kind.String(), "zero value is a gauge")
}

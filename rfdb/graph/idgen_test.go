package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeNodeIDDeterministic(t *testing.T) {
	a := ComputeNodeID("FUNCTION", "handler", "app", "src/app.js")
	b := ComputeNodeID("FUNCTION", "handler", "app", "src/app.js")
	assert.Equal(t, a, b, "equal identities must derive equal IDs")
	assert.False(t, a.IsZero())
}

func TestComputeNodeIDFieldBoundaries(t *testing.T) {
	tests := []struct {
		name string
		x, y [4]string
	}{
		{"kind differs", [4]string{"FUNCTION", "f", "", "a.js"}, [4]string{"CLASS", "f", "", "a.js"}},
		{"name differs", [4]string{"FUNCTION", "f", "", "a.js"}, [4]string{"FUNCTION", "g", "", "a.js"}},
		{"scope differs", [4]string{"FUNCTION", "f", "outer", "a.js"}, [4]string{"FUNCTION", "f", "inner", "a.js"}},
		{"path differs", [4]string{"FUNCTION", "f", "", "a.js"}, [4]string{"FUNCTION", "f", "", "b.js"}},
		{"no field bleed", [4]string{"AB", "C", "", ""}, [4]string{"A", "BC", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ComputeNodeID(tt.x[0], tt.x[1], tt.x[2], tt.x[3])
			b := ComputeNodeID(tt.y[0], tt.y[1], tt.y[2], tt.y[3])
			assert.NotEqual(t, a, b)
		})
	}
}

func TestStringToNodeID(t *testing.T) {
	a := StringToNodeID("SERVICE:billing")
	b := StringToNodeID("SERVICE:billing")
	c := StringToNodeID("SERVICE:shipping")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, ComputeNodeID("SERVICE", "billing", "", ""))
}

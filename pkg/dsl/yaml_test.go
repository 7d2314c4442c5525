package dsl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/dsl"
)

const tripYAML = `
id: trip
activities:
  - id: start
    type: start
    outgoing: [rooms]
  - id: rooms
    type: service
    behavior: book-room
    multi_instance:
      cardinality: 2
      sequential: true
    compensate_with: undo-room
    outgoing: [end]
  - id: undo-room
    type: service
    behavior: cancel-room
    for_compensation: true
  - id: end
    type: end
`

func TestParse(t *testing.T) {
	def, err := dsl.Parse([]byte(tripYAML))
	require.NoError(t, err)

	assert.Equal(t, "trip", def.ID)
	assert.Equal(t, "start", def.Initial)
	require.Len(t, def.Activities, 4)

	rooms := def.Activities["rooms"]
	require.NotNil(t, rooms.MultiInstance)
	assert.Equal(t, 2, rooms.MultiInstance.Cardinality)
	assert.True(t, rooms.MultiInstance.Sequential)
	assert.Equal(t, "undo-room", rooms.CompensateWith)
	assert.Equal(t, domain.ActivityService, def.Activities["undo-room"].Type)
	assert.True(t, def.Activities["undo-room"].ForCompensation)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "id: [trip"},
		{"empty", "id: trip\n"},
		{"missing id", "id: trip\nactivities:\n  - type: start\n"},
		{"duplicate", "id: trip\nactivities:\n  - {id: a, type: start}\n  - {id: a, type: end}\n"},
		{"dangling flow", "id: trip\nactivities:\n  - {id: a, type: start, outgoing: [b]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dsl.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_DanglingFlowIsActivityNotFound(t *testing.T) {
	_, err := dsl.Parse([]byte("id: trip\nactivities:\n  - {id: a, type: start, outgoing: [b]}\n"))
	assert.ErrorIs(t, err, domain.ErrActivityNotFound)
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventCapacity(t *testing.T) {
	limit := 3
	e := &Event{RegistrationLimit: &limit, RegisteredCount: 2}
	assert.Equal(t, 1, e.Remaining())
	assert.False(t, e.IsFull())

	e.RegisteredCount = 3
	assert.True(t, e.IsFull())

	unlimited := &Event{RegisteredCount: 1000}
	assert.Equal(t, -1, unlimited.Remaining())
	assert.False(t, unlimited.IsFull())
}

func TestDeadlinePassed(t *testing.T) {
	deadline := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	e := &Event{RegistrationDeadline: &deadline}
	assert.False(t, e.DeadlinePassed(deadline), "the deadline instant itself is still open")
	assert.True(t, e.DeadlinePassed(deadline.Add(time.Millisecond)))
	assert.False(t, (&Event{}).DeadlinePassed(deadline))
}

func TestAdmits(t *testing.T) {
	campus := &Participant{Category: "campus"}
	tests := []struct {
		eligibility string
		want        bool
	}{
		{"", true},
		{EligibilityAll, true},
		{"campus", true},
		{"external", false},
	}
	for _, tt := range tests {
		t.Run(tt.eligibility, func(t *testing.T) {
			assert.Equal(t, tt.want, (&Event{Eligibility: tt.eligibility}).Admits(campus))
		})
	}
}

func TestTeamCompleteAndNames(t *testing.T) {
	assert.False(t, (&Team{Capacity: 3, CurrentLength: 2}).Complete())
	assert.True(t, (&Team{Capacity: 3, CurrentLength: 3}).Complete())

	assert.Equal(t, "Asha Rao", (&Participant{FirstName: "Asha", LastName: "Rao"}).FullName())
	assert.Equal(t, "Ben", (&Participant{FirstName: "Ben"}).FullName())
}

func TestFormValueEmpty(t *testing.T) {
	assert.True(t, FormValue{Kind: FieldText}.Empty())
	assert.False(t, FormValue{Kind: FieldDropdown, Text: "A"}.Empty())
	assert.True(t, FormValue{Kind: FieldCheckbox}.Empty())
	assert.False(t, FormValue{Kind: FieldFile, FileRef: "blob-1"}.Empty())
}

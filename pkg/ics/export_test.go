package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/destacey/calsync/pkg/event"
)

func TestExport(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	timed := event.Local{
		ID:          "local-1",
		ExternalID:  "graph-1",
		Title:       "Standup",
		Description: "Daily call",
		Start:       time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		Categories:  []string{"Team", "Work"},
	}
	allDay := event.Local{
		ID:     "local-2",
		Title:  "Offsite",
		Start:  time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}

	out := Export("Work Calendar", []event.Local{timed, allDay}, now)

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:Work Calendar")
	assert.Contains(t, out, "UID:graph-1@calsync")
	assert.Contains(t, out, "SUMMARY:Standup")
	assert.Contains(t, out, "CATEGORIES:Team,Work")
	assert.Contains(t, out, "DTSTART:20240304T090000Z")
	assert.Contains(t, out, "DTEND:20240304T093000Z")

	// The all-day event spans March 6-7 inclusive locally, so the exported
	// exclusive DTEND must be March 8.
	assert.Contains(t, out, "UID:local-2@calsync")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240306")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20240308")

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
}

func TestExportEmpty(t *testing.T) {
	out := Export("", nil, time.Now())
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.NotContains(t, out, "BEGIN:VEVENT")
	assert.NotContains(t, out, "X-WR-CALNAME")
}

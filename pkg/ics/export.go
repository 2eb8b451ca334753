package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/destacey/calsync/pkg/event"
)

const prodID = "-//calsync//calendar export//EN"

// Export renders the given events as an iCalendar (RFC 5545) document.
// All-day events are written as date-valued DTSTART/DTEND, converting the
// stored inclusive end day back to the exclusive convention the format
// requires. Timed events are written in UTC.
func Export(name string, events []event.Local, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(uidFor(ev))
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if len(ev.Categories) > 0 {
			ve.SetProperty(ical.ComponentPropertyCategories,
				strings.Join(ev.Categories, ","))
		}
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(event.DenormalizeAllDayEnd(ev.End, true))
		} else {
			ve.SetStartAt(ev.Start.UTC())
			ve.SetEndAt(ev.End.UTC())
		}
	}

	return cal.Serialize()
}

// uidFor prefers the remote identifier so exports of a synced event are
// stable across runs. Local-only events fall back to the row ID.
func uidFor(ev event.Local) string {
	if ev.ExternalID != "" {
		return fmt.Sprintf("%s@calsync", ev.ExternalID)
	}
	return fmt.Sprintf("%s@calsync", ev.ID)
}

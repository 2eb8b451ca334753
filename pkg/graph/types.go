package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
)

type deltaResponse struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

type graphEvent struct {
	ID           string         `json:"id"`
	Subject      string         `json:"subject"`
	BodyPreview  string         `json:"bodyPreview"`
	Start        *graphDateTime `json:"start"`
	End          *graphDateTime `json:"end"`
	IsAllDay     bool           `json:"isAllDay"`
	ShowAs       string         `json:"showAs"`
	Categories   []string       `json:"categories"`
	LastModified string         `json:"lastModifiedDateTime"`
	Removed      *graphRemoved  `json:"@removed"`
}

type graphRemoved struct {
	Reason string `json:"reason"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type apiError struct {
	StatusCode int
	Code       string
	Message    string
}

func (err apiError) Error() string {
	if err.Code == "" {
		return fmt.Sprintf("graph API returned status %d", err.StatusCode)
	}
	return fmt.Sprintf("graph API returned status %d: %s: %s",
		err.StatusCode, err.Code, err.Message)
}

func parseAPIError(status int, body []byte) error {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	// A body that isn't the documented error shape still yields a usable
	// status-only error.
	_ = json.Unmarshal(body, &wrapper)
	return apiError{
		StatusCode: status,
		Code:       wrapper.Error.Code,
		Message:    wrapper.Error.Message,
	}
}

// toRemote maps a Graph event onto the engine's remote event type. Deletion
// markers only carry the ID.
func (ge graphEvent) toRemote() (event.Remote, error) {
	if ge.Removed != nil {
		return event.Remote{ExternalID: ge.ID, Deleted: true}, nil
	}

	start, err := ge.Start.parse()
	if err != nil {
		return event.Remote{}, errors.WithContext(err, "parse start")
	}
	end, err := ge.End.parse()
	if err != nil {
		return event.Remote{}, errors.WithContext(err, "parse end")
	}

	remote := event.Remote{
		ExternalID:  ge.ID,
		Title:       ge.Subject,
		Description: ge.BodyPreview,
		Start:       start,
		End:         end,
		AllDay:      ge.IsAllDay,
		ShowAs:      event.ParseShowAs(ge.ShowAs),
		Categories:  event.NormalizeCategories(ge.Categories),
	}
	if ge.LastModified != "" {
		if modified, err := time.Parse(time.RFC3339, ge.LastModified); err == nil {
			remote.Modified = modified
		}
	}
	return remote, nil
}

// graphTimeLayout is the fixed-precision format Graph uses for
// dateTimeTimeZone values.
const graphTimeLayout = "2006-01-02T15:04:05"

func (dt *graphDateTime) parse() (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing dateTimeTimeZone")
	}

	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		var err error
		if loc, err = time.LoadLocation(dt.TimeZone); err != nil {
			return time.Time{}, errors.WithContext(err, "resolve timezone")
		}
	}

	// Graph appends fractional seconds of varying width. Trim them rather
	// than enumerating every layout.
	raw := dt.DateTime
	if i := strings.IndexByte(raw, '.'); i != -1 {
		raw = raw[:i]
	}
	t, err := time.ParseInLocation(graphTimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, errors.WithContext(err, "parse time")
	}
	return t.UTC(), nil
}

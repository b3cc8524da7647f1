package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/idgen"
	"golang.org/x/oauth2/endpoints"
)

const calendarAPIBase = "https://www.googleapis.com/calendar/v3"

// GoogleMeet creates calendar events with an embedded conference-creation
// request. The Meet link comes back as the event's hangout link; the event
// id and its owning calendar are stored so the event can be updated or
// removed later.
type GoogleMeet struct {
	creds Credentials
	cc    clientConfig
}

// NewGoogleMeet creates a Google Meet adapter.
func NewGoogleMeet(creds Credentials, opts ...Option) *GoogleMeet {
	cc := clientConfig{
		baseURL:       calendarAPIBase,
		tokenEndpoint: endpoints.Google,
		httpClient:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&cc)
	}
	return &GoogleMeet{creds: creds, cc: cc}
}

func (g *GoogleMeet) Platform() entitlement.Platform { return entitlement.PlatformGoogleMeet }

type gcalDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type gcalEventBody struct {
	Summary        string        `json:"summary"`
	Start          gcalDateTime  `json:"start"`
	End            gcalDateTime  `json:"end"`
	Recurrence     []string      `json:"recurrence,omitempty"`
	ConferenceData *gcalConfData `json:"conferenceData,omitempty"`
}

type gcalConfData struct {
	CreateRequest struct {
		RequestID             string `json:"requestId"`
		ConferenceSolutionKey struct {
			Type string `json:"type"`
		} `json:"conferenceSolutionKey"`
	} `json:"createRequest"`
}

type gcalEventResponse struct {
	ID          string `json:"id"`
	HangoutLink string `json:"hangoutLink"`
	HTMLLink    string `json:"htmlLink"`
}

func (g *GoogleMeet) CreateMeeting(ctx context.Context, req Request, accessToken string) (*Result, error) {
	var resp gcalEventResponse
	err := g.cc.do(ctx, entitlement.PlatformGoogleMeet, "create", http.MethodPost,
		g.eventsURL(req.CalendarID)+"?conferenceDataVersion=1", accessToken,
		g.eventBody(req, true), &resp, parseGoogleError)
	if err != nil {
		return nil, err
	}

	joinURL := resp.HangoutLink
	if joinURL == "" {
		joinURL = resp.HTMLLink
	}
	return &Result{JoinURL: joinURL, MeetingID: resp.ID, Kind: KindCalendarEvent}, nil
}

// UpdateMeeting patches the stored event on its owning calendar. Events do
// not move between calendars here, so the ref's calendar wins over any
// calendar in the request.
func (g *GoogleMeet) UpdateMeeting(ctx context.Context, req Request, ref Ref, accessToken string) (*Result, error) {
	var resp gcalEventResponse
	err := g.cc.do(ctx, entitlement.PlatformGoogleMeet, "update", http.MethodPatch,
		g.eventsURL(ref.CalendarID)+"/"+ref.MeetingID, accessToken,
		g.eventBody(req, false), &resp, parseGoogleError)
	if err != nil {
		return nil, err
	}
	return &Result{JoinURL: resp.HangoutLink, MeetingID: resp.ID, Kind: KindCalendarEvent}, nil
}

func (g *GoogleMeet) DeleteMeeting(ctx context.Context, ref Ref, accessToken string) error {
	return g.cc.do(ctx, entitlement.PlatformGoogleMeet, "delete", http.MethodDelete,
		g.eventsURL(ref.CalendarID)+"/"+ref.MeetingID, accessToken, nil, nil, parseGoogleError)
}

// RefreshTokens exchanges the refresh token at Google's OAuth endpoint.
func (g *GoogleMeet) RefreshTokens(ctx context.Context, ts TokenSet) (TokenSet, error) {
	return g.cc.refreshTokens(ctx, entitlement.PlatformGoogleMeet, g.creds, ts)
}

func (g *GoogleMeet) eventsURL(calendarID string) string {
	if calendarID == "" {
		calendarID = "primary"
	}
	return g.cc.baseURL + "/calendars/" + url.PathEscape(calendarID) + "/events"
}

// eventBody builds the event payload. The conference-creation request is
// attached on create only; patching it on update would reissue the link.
func (g *GoogleMeet) eventBody(req Request, withConference bool) gcalEventBody {
	body := gcalEventBody{
		Summary: req.Title,
		Start:   gcalDateTime{DateTime: req.StartTime.Format(time.RFC3339), TimeZone: req.Timezone},
		End:     gcalDateTime{DateTime: req.EndTime().Format(time.RFC3339), TimeZone: req.Timezone},
	}

	if req.Recurrence != nil && len(req.Recurrence.DaysOfWeek) > 0 {
		body.Recurrence = []string{recurrenceRule(req.Recurrence)}
	}

	if withConference {
		conf := &gcalConfData{}
		conf.CreateRequest.RequestID = idgen.WithPrefix("meet_")
		conf.CreateRequest.ConferenceSolutionKey.Type = "hangoutsMeet"
		body.ConferenceData = conf
	}

	return body
}

// recurrenceRule renders a weekly RRULE, e.g.
// "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20260601T000000Z".
func recurrenceRule(r *Recurrence) string {
	abbrev := map[time.Weekday]string{
		time.Sunday: "SU", time.Monday: "MO", time.Tuesday: "TU",
		time.Wednesday: "WE", time.Thursday: "TH", time.Friday: "FR",
		time.Saturday: "SA",
	}
	days := make([]string, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		days = append(days, abbrev[d])
	}

	rule := "RRULE:FREQ=WEEKLY;BYDAY=" + strings.Join(days, ",")
	if !r.Until.IsZero() {
		rule += ";UNTIL=" + r.Until.UTC().Format("20060102T150405Z")
	}
	return rule
}

func parseGoogleError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Code    json.Number `json:"code"`
			Message string      `json:"message"`
			Status  string      `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return "", ""
	}
	code := e.Error.Status
	if code == "" {
		code = e.Error.Code.String()
	}
	return code, e.Error.Message
}

var (
	_ Adapter        = (*GoogleMeet)(nil)
	_ TokenRefresher = (*GoogleMeet)(nil)
)

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"golang.org/x/oauth2/endpoints"
)

const graphAPIBase = "https://graph.microsoft.com/v1.0"

// Teams creates meetings through Microsoft Graph. Two distinct resource
// types back a meeting:
//
//   - a one-time "online meeting" (POST /me/onlineMeetings), and
//   - a calendar event with recurrence (POST /me/events or
//     /me/calendars/{id}/events) when a weekly recurrence with at least one
//     day and an end date is requested.
//
// The two are not interchangeable: updates and deletions must go through
// the endpoint family that created the resource, which is why MeetingKind
// travels with the stored meeting id.
type Teams struct {
	creds Credentials
	cc    clientConfig
}

// NewTeams creates a Microsoft Teams adapter. azureTenant is the Azure AD
// tenant for the token endpoint ("common" for multi-tenant apps).
func NewTeams(creds Credentials, azureTenant string, opts ...Option) *Teams {
	if azureTenant == "" {
		azureTenant = "common"
	}
	cc := clientConfig{
		baseURL:       graphAPIBase,
		tokenEndpoint: endpoints.AzureAD(azureTenant),
		httpClient:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&cc)
	}
	return &Teams{creds: creds, cc: cc}
}

func (t *Teams) Platform() entitlement.Platform { return entitlement.PlatformTeams }

func (t *Teams) CreateMeeting(ctx context.Context, req Request, accessToken string) (*Result, error) {
	if req.Recurrence != nil {
		if err := validateTeamsRecurrence(req.Recurrence); err != nil {
			return nil, err
		}
		return t.createEvent(ctx, req, accessToken)
	}
	return t.createOnlineMeeting(ctx, req, accessToken)
}

func (t *Teams) UpdateMeeting(ctx context.Context, req Request, ref Ref, accessToken string) (*Result, error) {
	wantRecurring := req.Recurrence != nil
	isRecurring := ref.Kind == KindCalendarEvent
	if wantRecurring != isRecurring {
		// Graph cannot convert between the two resource types in place.
		return nil, ErrShapeChanged
	}

	if isRecurring {
		if err := validateTeamsRecurrence(req.Recurrence); err != nil {
			return nil, err
		}
		err := t.cc.do(ctx, entitlement.PlatformTeams, "update", http.MethodPatch,
			t.eventURL(ref), accessToken,
			t.eventBody(req), nil, parseGraphError)
		if err != nil {
			return nil, err
		}
		return &Result{MeetingID: ref.MeetingID, Kind: KindCalendarEvent}, nil
	}

	err := t.cc.do(ctx, entitlement.PlatformTeams, "update", http.MethodPatch,
		t.cc.baseURL+"/me/onlineMeetings/"+ref.MeetingID, accessToken,
		t.onlineMeetingBody(req), nil, parseGraphError)
	if err != nil {
		return nil, err
	}
	return &Result{MeetingID: ref.MeetingID, Kind: KindOneTime}, nil
}

func (t *Teams) DeleteMeeting(ctx context.Context, ref Ref, accessToken string) error {
	url := t.cc.baseURL + "/me/onlineMeetings/" + ref.MeetingID
	if ref.Kind == KindCalendarEvent {
		url = t.eventURL(ref)
	}
	return t.cc.do(ctx, entitlement.PlatformTeams, "delete", http.MethodDelete,
		url, accessToken, nil, nil, parseGraphError)
}

// eventURL addresses a stored calendar event, through its owning calendar
// when one was targeted at creation.
func (t *Teams) eventURL(ref Ref) string {
	if ref.CalendarID != "" {
		return t.cc.baseURL + "/me/calendars/" + ref.CalendarID + "/events/" + ref.MeetingID
	}
	return t.cc.baseURL + "/me/events/" + ref.MeetingID
}

// RefreshTokens exchanges the refresh token at the Azure AD token endpoint.
func (t *Teams) RefreshTokens(ctx context.Context, ts TokenSet) (TokenSet, error) {
	return t.cc.refreshTokens(ctx, entitlement.PlatformTeams, t.creds, ts)
}

// --- one-time online meetings ---

type graphOnlineMeetingBody struct {
	Subject       string `json:"subject"`
	StartDateTime string `json:"startDateTime"`
	EndDateTime   string `json:"endDateTime"`
}

type graphOnlineMeetingResponse struct {
	ID      string `json:"id"`
	JoinURL string `json:"joinUrl"`
}

func (t *Teams) createOnlineMeeting(ctx context.Context, req Request, accessToken string) (*Result, error) {
	var resp graphOnlineMeetingResponse
	err := t.cc.do(ctx, entitlement.PlatformTeams, "create", http.MethodPost,
		t.cc.baseURL+"/me/onlineMeetings", accessToken,
		t.onlineMeetingBody(req), &resp, parseGraphError)
	if err != nil {
		return nil, err
	}
	return &Result{JoinURL: resp.JoinURL, MeetingID: resp.ID, Kind: KindOneTime}, nil
}

func (t *Teams) onlineMeetingBody(req Request) graphOnlineMeetingBody {
	return graphOnlineMeetingBody{
		Subject:       req.Title,
		StartDateTime: req.StartTime.UTC().Format(time.RFC3339),
		EndDateTime:   req.EndTime().UTC().Format(time.RFC3339),
	}
}

// --- recurring calendar events ---

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphRecurrence struct {
	Pattern struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		DaysOfWeek []string `json:"daysOfWeek"`
	} `json:"pattern"`
	Range struct {
		Type      string `json:"type"`
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	} `json:"range"`
}

type graphAttendee struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
	Type string `json:"type"`
}

type graphEventBody struct {
	Subject               string           `json:"subject"`
	Start                 graphDateTime    `json:"start"`
	End                   graphDateTime    `json:"end"`
	Recurrence            *graphRecurrence `json:"recurrence,omitempty"`
	IsOnlineMeeting       bool             `json:"isOnlineMeeting"`
	OnlineMeetingProvider string           `json:"onlineMeetingProvider"`
	Attendees             []graphAttendee  `json:"attendees,omitempty"`
}

type graphEventResponse struct {
	ID            string `json:"id"`
	OnlineMeeting struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
	WebLink string `json:"webLink"`
}

func (t *Teams) createEvent(ctx context.Context, req Request, accessToken string) (*Result, error) {
	url := t.cc.baseURL + "/me/events"
	if req.CalendarID != "" {
		url = t.cc.baseURL + "/me/calendars/" + req.CalendarID + "/events"
	}

	var resp graphEventResponse
	err := t.cc.do(ctx, entitlement.PlatformTeams, "create", http.MethodPost,
		url, accessToken, t.eventBody(req), &resp, parseGraphError)
	if err != nil {
		return nil, err
	}

	joinURL := resp.OnlineMeeting.JoinURL
	if joinURL == "" {
		// Graph may omit onlineMeeting until provisioning completes.
		joinURL = resp.WebLink
	}
	return &Result{JoinURL: joinURL, MeetingID: resp.ID, Kind: KindCalendarEvent}, nil
}

func (t *Teams) eventBody(req Request) graphEventBody {
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	body := graphEventBody{
		Subject:               req.Title,
		Start:                 graphDateTime{DateTime: req.StartTime.Format("2006-01-02T15:04:05"), TimeZone: tz},
		End:                   graphDateTime{DateTime: req.EndTime().Format("2006-01-02T15:04:05"), TimeZone: tz},
		IsOnlineMeeting:       true,
		OnlineMeetingProvider: "teamsForBusiness",
	}

	if req.Recurrence != nil {
		rec := &graphRecurrence{}
		rec.Pattern.Type = "weekly"
		rec.Pattern.Interval = 1
		for _, d := range req.Recurrence.DaysOfWeek {
			rec.Pattern.DaysOfWeek = append(rec.Pattern.DaysOfWeek, strings.ToLower(d.String()))
		}
		rec.Range.Type = "endDate"
		rec.Range.StartDate = req.StartTime.Format("2006-01-02")
		rec.Range.EndDate = req.Recurrence.Until.Format("2006-01-02")
		body.Recurrence = rec
	}

	if req.OrganizerEmail != "" {
		att := graphAttendee{Type: "required"}
		att.EmailAddress.Address = req.OrganizerEmail
		body.Attendees = append(body.Attendees, att)
	}

	return body
}

func validateTeamsRecurrence(r *Recurrence) error {
	if len(r.DaysOfWeek) == 0 {
		return &ValidationError{Platform: entitlement.PlatformTeams,
			Reason: "recurrence requires at least one day of week"}
	}
	if r.Until.IsZero() {
		return &ValidationError{Platform: entitlement.PlatformTeams,
			Reason: "recurrence requires an end date"}
	}
	return nil
}

func parseGraphError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return "", ""
	}
	return e.Error.Code, e.Error.Message
}

var (
	_ Adapter        = (*Teams)(nil)
	_ TokenRefresher = (*Teams)(nil)
)

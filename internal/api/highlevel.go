package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/colthorp/portal-cache-go/internal/core"
)

// Endpoint paths relative to the API base URL.
const (
	EndpointAttendance       = "attendance"
	EndpointCalendar         = "calendar"
	EndpointTimetableDetails = "timetable-details"
	EndpointUserInfo         = "userinfo"
	EndpointDocuments        = "documents"
	EndpointSubjectDocuments = "documents/subject"
	EndpointDayOrder         = "day-order"
	EndpointSignOut          = "sign-out"
)

// PortalAPI provides a typed convenience layer over the portal REST API.
type PortalAPI struct {
	transport Transport
	verbose   bool
}

// NewPortalAPI creates a new high-level API client.
func NewPortalAPI(transport Transport) *PortalAPI {
	api := &PortalAPI{transport: transport}
	if c, ok := transport.(*Client); ok {
		api.verbose = c.IsVerbose()
	}
	return api
}

// decode performs the request and unmarshals the body into out.
func (api *PortalAPI) decode(ctx context.Context, method, endpoint string, params map[string]string, body, out interface{}) error {
	data, err := api.transport.Request(ctx, method, endpoint, params, body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		core.Eprint(fmt.Sprintf("[API] Empty %s response", endpoint), api.verbose)
		return fmt.Errorf("%s: %w", endpoint, ErrEmptyPayload)
	}
	if err := json.Unmarshal(data, out); err != nil {
		core.Eprint(fmt.Sprintf("[API] Malformed %s response: %v", endpoint, err), api.verbose)
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

// Attendance fetches the attendance report.
func (api *PortalAPI) Attendance(ctx context.Context) (Attendance, error) {
	var out Attendance
	if err := api.decode(ctx, http.MethodGet, EndpointAttendance, nil, nil, &out); err != nil {
		return Attendance{}, err
	}
	if len(out.Records) == 0 {
		return Attendance{}, fmt.Errorf("%s: %w", EndpointAttendance, ErrEmptyPayload)
	}
	return out, nil
}

// Calendar fetches calendar months. With no months the server picks its
// default range.
func (api *PortalAPI) Calendar(ctx context.Context, months []string) (Calendar, error) {
	var params map[string]string
	if len(months) > 0 {
		params = map[string]string{"months": strings.Join(months, ",")}
	}
	var out calendarResponse
	if err := api.decode(ctx, http.MethodGet, EndpointCalendar, params, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Calendar) == 0 {
		return nil, fmt.Errorf("%s: %w", EndpointCalendar, ErrEmptyPayload)
	}
	return out.Calendar, nil
}

// TimetableDetails posts the batch and returns the timetable.
func (api *PortalAPI) TimetableDetails(ctx context.Context, batch string) (Timetable, error) {
	body := map[string]string{"batch": batch}
	var out Timetable
	if err := api.decode(ctx, http.MethodPost, EndpointTimetableDetails, nil, body, &out); err != nil {
		return Timetable{}, err
	}
	if len(out.Slots) == 0 {
		return Timetable{}, fmt.Errorf("%s: %w", EndpointTimetableDetails, ErrEmptyPayload)
	}
	return out, nil
}

// UserInfo fetches the student profile.
func (api *PortalAPI) UserInfo(ctx context.Context) (UserInfo, error) {
	var out userInfoResponse
	if err := api.decode(ctx, http.MethodGet, EndpointUserInfo, nil, nil, &out); err != nil {
		return UserInfo{}, err
	}
	if out.UserInfo == (UserInfo{}) {
		return UserInfo{}, fmt.Errorf("%s: %w", EndpointUserInfo, ErrEmptyPayload)
	}
	return out.UserInfo, nil
}

// Documents fetches the document tree.
func (api *PortalAPI) Documents(ctx context.Context) (Documents, error) {
	var out Documents
	if err := api.decode(ctx, http.MethodGet, EndpointDocuments, nil, nil, &out); err != nil {
		return Documents{}, err
	}
	if len(out.Items) == 0 {
		return Documents{}, fmt.Errorf("%s: %w", EndpointDocuments, ErrEmptyPayload)
	}
	return out, nil
}

// SubjectDocuments fetches the files of one subject.
func (api *PortalAPI) SubjectDocuments(ctx context.Context, subject string) (SubjectDocuments, error) {
	params := map[string]string{"subject": subject}
	var out SubjectDocuments
	if err := api.decode(ctx, http.MethodGet, EndpointSubjectDocuments, params, nil, &out); err != nil {
		return SubjectDocuments{}, err
	}
	if len(out.Files) == 0 {
		return SubjectDocuments{}, fmt.Errorf("%s: %w", EndpointSubjectDocuments, ErrEmptyPayload)
	}
	if out.Subject == "" {
		out.Subject = subject
	}
	return out, nil
}

// DayOrder fetches today's day order as raw text: a number or "off".
// The value is not validated here.
func (api *PortalAPI) DayOrder(ctx context.Context) (string, error) {
	var out dayOrderResponse
	if err := api.decode(ctx, http.MethodGet, EndpointDayOrder, nil, nil, &out); err != nil {
		return "", err
	}
	raw := bytes.TrimSpace(out.DayOrder)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%s: %w", EndpointDayOrder, ErrEmptyPayload)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", &DecodeError{Endpoint: EndpointDayOrder, Err: err}
	}
	return strconv.FormatFloat(n, 'f', -1, 64), nil
}

// SignOut ends the session on the server.
func (api *PortalAPI) SignOut(ctx context.Context) error {
	_, err := api.transport.Request(ctx, http.MethodPost, EndpointSignOut, nil, map[string]string{})
	return err
}

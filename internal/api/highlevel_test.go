package api

import (
	"context"
	"errors"
	"testing"
)

func TestPortalAPIDayOrder(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		want    string
		wantErr bool
	}{
		{"number", map[string]interface{}{"dayOrder": 3}, "3", false},
		{"numeric string", map[string]interface{}{"dayOrder": "4"}, "4", false},
		{"off", map[string]interface{}{"dayOrder": "off"}, "off", false},
		{"missing", map[string]interface{}{}, "", true},
		{"null", map[string]interface{}{"dayOrder": nil}, "", true},
		{"object", map[string]interface{}{"dayOrder": map[string]int{"x": 1}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewInMemoryTransport()
			transport.Respond(EndpointDayOrder, tt.payload)

			got, err := NewPortalAPI(transport).DayOrder(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("DayOrder error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DayOrder = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPortalAPICalendarMonthsFilter(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.SeedCalendar(Calendar{
		"2026-09": {{Date: "1", DayOrder: "1"}},
		"2026-10": {{Date: "1", DayOrder: "2"}},
	})
	portal := NewPortalAPI(transport)

	cal, err := portal.Calendar(context.Background(), []string{"2026-10"})
	if err != nil {
		t.Fatalf("Calendar failed: %v", err)
	}
	if len(cal) != 1 || cal["2026-10"] == nil {
		t.Errorf("expected only 2026-10, got %v", cal)
	}
	if got := transport.Requests()[0].Params["months"]; got != "2026-10" {
		t.Errorf("months param = %q", got)
	}

	if _, err := portal.Calendar(context.Background(), []string{"2030-01"}); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload for unknown month, got %v", err)
	}
}

func TestPortalAPIEmptyAndMalformedPayloads(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond(EndpointAttendance, map[string]interface{}{"attendance": []interface{}{}})
	transport.Respond(EndpointDocuments, []byte(`{not json`))
	portal := NewPortalAPI(transport)

	if _, err := portal.Attendance(context.Background()); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Attendance: expected ErrEmptyPayload, got %v", err)
	}

	_, err := portal.Documents(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("Documents: expected DecodeError, got %v", err)
	}

	if _, err := portal.UserInfo(context.Background()); !errors.As(err, new(*APIError)) {
		t.Errorf("UserInfo: expected APIError for unhandled endpoint, got %v", err)
	}
}

func TestInMemoryTransportFailNext(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond(EndpointUserInfo, map[string]interface{}{"userInfo": UserInfo{Name: "A"}})
	transport.FailNext(EndpointUserInfo, errors.New("first"), errors.New("second"))
	portal := NewPortalAPI(transport)

	for _, want := range []string{"first", "second"} {
		if _, err := portal.UserInfo(context.Background()); err == nil || err.Error() != want {
			t.Errorf("expected queued error %q, got %v", want, err)
		}
	}
	info, err := portal.UserInfo(context.Background())
	if err != nil || info.Name != "A" {
		t.Errorf("expected handler response after queued failures, got %+v, %v", info, err)
	}
	if transport.RequestsTo(EndpointUserInfo) != 3 {
		t.Errorf("expected 3 requests, got %d", transport.RequestsTo(EndpointUserInfo))
	}
}

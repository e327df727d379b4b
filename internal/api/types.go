// Package api provides the HTTP client and types for the student portal API.
package api

import (
	"context"
	"encoding/json"
)

// AttendanceRecord is one course row of the attendance report.
type AttendanceRecord struct {
	CourseCode     string `json:"courseCode"`
	CourseTitle    string `json:"courseTitle"`
	Category       string `json:"category"`
	FacultyName    string `json:"facultyName"`
	Slot           string `json:"slot"`
	HoursConducted int    `json:"hoursConducted"`
	HoursAbsent    int    `json:"hoursAbsent"`
	Percentage     string `json:"attendancePercentage"`
}

// Attendance is the attendance resource payload.
type Attendance struct {
	Records []AttendanceRecord `json:"attendance"`
}

// CalendarDay is one day of the academic calendar. DayOrder holds the
// rotation number as text, or "-" for a day off.
type CalendarDay struct {
	Date     string `json:"Date"`
	Day      string `json:"Day"`
	Event    string `json:"Event"`
	DayOrder string `json:"DayOrder"`
}

// Calendar maps month keys (YYYY-MM) to that month's days.
type Calendar map[string][]CalendarDay

// TimetableSlot is one class slot in the rotating timetable.
type TimetableSlot struct {
	DayOrder    int    `json:"dayOrder"`
	Slot        string `json:"slot"`
	Time        string `json:"time"`
	CourseCode  string `json:"courseCode"`
	CourseTitle string `json:"courseTitle"`
	Room        string `json:"room"`
}

// Timetable is the timetable resource payload.
type Timetable struct {
	Batch string          `json:"batch"`
	Slots []TimetableSlot `json:"timetable"`
}

// UserInfo is the signed-in student's profile.
type UserInfo struct {
	Name       string `json:"name"`
	RegNumber  string `json:"regNumber"`
	Email      string `json:"email"`
	Program    string `json:"program"`
	Department string `json:"department"`
	Semester   string `json:"semester"`
	Batch      string `json:"batch"`
}

// DocumentNode is a folder (with Children) or a file (with URL) in the
// document tree.
type DocumentNode struct {
	Name     string         `json:"name"`
	Path     string         `json:"path,omitempty"`
	URL      string         `json:"url,omitempty"`
	Children []DocumentNode `json:"children,omitempty"`
}

// IsFolder reports whether the node is a folder.
func (n DocumentNode) IsFolder() bool {
	return n.URL == ""
}

// Documents is the document browser tree.
type Documents struct {
	Items []DocumentNode `json:"documents"`
}

// SubjectDocuments lists the files published for one subject.
type SubjectDocuments struct {
	Subject string         `json:"subject"`
	Files   []DocumentNode `json:"files"`
}

// calendarResponse wraps the calendar months in the response.
type calendarResponse struct {
	Calendar Calendar `json:"calendar"`
}

// userInfoResponse wraps the profile in the response.
type userInfoResponse struct {
	UserInfo UserInfo `json:"userInfo"`
}

// dayOrderResponse carries the day order as a number or as "off".
type dayOrderResponse struct {
	DayOrder json.RawMessage `json:"dayOrder"`
}

// errorResponse is the error body shape returned by the API.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Transport is the interface for making API requests. It returns the raw
// response body of a successful (2xx) request.
type Transport interface {
	Request(ctx context.Context, method, endpoint string, params map[string]string, body interface{}) ([]byte, error)
}

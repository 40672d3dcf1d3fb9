package model

import "time"

// Roles.
const (
	RoleStudent = "student"
	RoleCR      = "cr"
)

// StatusPresent is the only attendance status ever stored.
const StatusPresent = "present"

// DefaultAllowedRadius is used when a class has no positive radius.
const DefaultAllowedRadius = 30.0

// DateLayout formats calendar days in reports and JSON.
const DateLayout = "2006-01-02"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Schedule is the single weekly session of a class.
type Schedule struct {
	DayOfWeek string `json:"dayOfWeek"` // "Monday".."Sunday"
	StartTime string `json:"startTime"` // HH:MM
	EndTime   string `json:"endTime"`   // HH:MM
	Room      string `json:"room"`
}

// Class is a scheduled, optionally geofenced class owned by a CR.
type Class struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Code             string    `json:"code"`
	CreatedBy        string    `json:"createdBy"`
	Location         *GeoPoint `json:"location,omitempty"`
	AllowedRadius    float64   `json:"allowedRadius"`
	Schedule         Schedule  `json:"schedule"`
	EnrolledStudents []string  `json:"enrolledStudents"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Radius returns the geofence radius in metres.
func (c Class) Radius() float64 {
	if c.AllowedRadius <= 0 {
		return DefaultAllowedRadius
	}
	return c.AllowedRadius
}

// User is a student or CR account.
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Gender          string    `json:"gender,omitempty"`
	Role            string    `json:"role"`
	PasswordHash    string    `json:"-"`
	EnrolledClasses []string  `json:"enrolledClasses"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsCR reports whether the user administers classes.
func (u User) IsCR() bool { return u.Role == RoleCR }

// AttendanceRecord is a single "present" mark.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student"`
	ClassID    string    `json:"class"`
	Location   GeoPoint  `json:"location"`
	DeviceInfo string    `json:"deviceInfo"`
	Status     string    `json:"status"`
	MarkedOn   time.Time `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`

	// Joined from users when listing for reports.
	StudentName  string `json:"-"`
	StudentEmail string `json:"-"`
}

// Day returns the calendar date of t in loc, as midnight UTC.
// Calendar days are compared and stored in this normalized form.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReportRow is one student's line of the presence matrix.
type ReportRow struct {
	StudentID string            `json:"studentId"`
	Student   string            `json:"student"`
	Email     string            `json:"email"`
	Days      map[string]string `json:"days"` // date -> "Present" | "Absent"
}

// Report is the per-class presence matrix.
type Report struct {
	ClassID string      `json:"classId"`
	Dates   []string    `json:"dates"`
	Rows    []ReportRow `json:"report"`
}

// Empty reports whether no attendance was ever recorded.
func (r Report) Empty() bool { return len(r.Rows) == 0 }

package attendance

import "time"

// Style is the dance style of a class session.
type Style string

const (
	StyleJazz   Style = "Jazz"
	StyleKpop   Style = "Kpop"
	StyleHipHop Style = "Hip-hop"
	StyleHouse  Style = "House"
	StyleUrban  Style = "Urban"
)

// Level is the difficulty level of a class session.
type Level string

const (
	LevelBasic        Level = "Basic"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
	LevelUnknown      Level = "Unknown"
)

// DefaultMaxStudents is the capacity given to sessions that do not set one.
const DefaultMaxStudents = 20

// Student is a studio member with a prepaid class balance.
type Student struct {
	ID               string    `json:"id"`
	Name             string    `json:"name" validate:"required,max=100"`
	Phone            string    `json:"phone" validate:"required,max=15"`
	MembershipNumber string    `json:"membership_number" validate:"required,max=20"`
	ClassesLeft      int       `json:"classes_left" validate:"gte=0"`
	CreatedAt        time.Time `json:"created_at"`
}

// ClassSession is a named (style, level) class offering.
type ClassSession struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,max=100"`
	Style       Style     `json:"style" validate:"required,oneof=Jazz Kpop Hip-hop House Urban"`
	Level       Level     `json:"level" validate:"required,oneof=Basic Intermediate Advanced Unknown"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule" validate:"max=200"`
	MaxStudents int       `json:"max_students" validate:"gte=1"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttendanceRecord logs one visit of a student to a class session.
// Date is the studio-local calendar date formatted as 2006-01-02.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	ClassID     string    `json:"class_id"`
	Date        string    `json:"date"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// HistoryEntry is an attendance record joined with its class session.
type HistoryEntry struct {
	AttendanceRecord
	ClassName string `json:"class_name"`
	Style     Style  `json:"style"`
	Level     Level  `json:"level"`
}

// ExportRow is an attendance record joined with its student and class.
type ExportRow struct {
	StudentName      string
	MembershipNumber string
	ClassName        string
	Date             string
	CheckedInAt      time.Time
}

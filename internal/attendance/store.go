package attendance

import "context"

// Store is the persistent registry of students, classes and attendance.
type Store interface {
	// WithTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateStudent(ctx context.Context, st *Student) error
	UpdateStudent(ctx context.Context, st Student) error
	GetStudent(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context, query string) ([]Student, error)

	CreateClass(ctx context.Context, cls *ClassSession) error
	ListClasses(ctx context.Context) ([]ClassSession, error)

	StudentHistory(ctx context.Context, studentID string) ([]HistoryEntry, error)
	ExportRows(ctx context.Context) ([]ExportRow, error)
}

// Tx is the set of operations available inside a check-in transaction.
type Tx interface {
	// LockStudent reads the student and holds it until the transaction ends.
	LockStudent(ctx context.Context, id string) (Student, error)
	SetClassesLeft(ctx context.Context, id string, n int) error
	// FindClass returns the first class with the given style and level, or
	// nil when there is none.
	FindClass(ctx context.Context, style Style, level Level) (*ClassSession, error)
	// GetOrCreateClass returns the class named defaults.Name, creating it
	// from defaults when missing. The bool reports whether it was created.
	GetOrCreateClass(ctx context.Context, defaults ClassSession) (ClassSession, bool, error)
	// InsertAttendance returns ErrConstraintViolation when the student
	// already has a record for the class on that date.
	InsertAttendance(ctx context.Context, rec *AttendanceRecord) error
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Outcome names what a check-in call did.
type Outcome string

const (
	Applied                    Outcome = "applied"
	SkippedNoBalance           Outcome = "skipped_no_balance"
	SkippedDuplicateAttendance Outcome = "skipped_duplicate_attendance"
)

// CheckInResult describes a completed check-in call.
type CheckInResult struct {
	Outcome      Outcome           `json:"outcome"`
	Student      Student           `json:"student"`
	Class        *ClassSession     `json:"class,omitempty"`
	Record       *AttendanceRecord `json:"record,omitempty"`
	ClassCreated bool              `json:"class_created"`
}

// Service coordinates check-ins and the student/class registry.
type Service struct {
	store    Store
	now      func() time.Time
	loc      *time.Location
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of check-in timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the studio time zone used for classification and dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		now:      time.Now,
		loc:      time.Local,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the studio time zone.
func (s *Service) Location() *time.Location { return s.loc }

// CheckIn checks a student in at the current time.
func (s *Service) CheckIn(ctx context.Context, studentID string) (CheckInResult, error) {
	return s.CheckInAt(ctx, studentID, s.now())
}

// CheckInAt consumes one prepaid class from the student, resolves the class
// session for now and logs attendance, all in one transaction. A student
// without balance is left untouched. A second check-in into the same class
// on the same day still consumes a class but does not add a record.
func (s *Service) CheckInAt(ctx context.Context, studentID string, now time.Time) (CheckInResult, error) {
	now = now.In(s.loc)
	var res CheckInResult

	err := s.store.WithTx(ctx, func(tx Tx) error {
		res = CheckInResult{}

		st, err := tx.LockStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if st.ClassesLeft <= 0 {
			res.Outcome = SkippedNoBalance
			res.Student = st
			return nil
		}

		st.ClassesLeft--
		if err := tx.SetClassesLeft(ctx, st.ID, st.ClassesLeft); err != nil {
			return err
		}
		res.Student = st

		style, level := Classify(now)
		cls, err := tx.FindClass(ctx, style, level)
		if err != nil {
			return err
		}
		if cls == nil {
			created, isNew, err := tx.GetOrCreateClass(ctx, DefaultSession(style, level, now))
			if err != nil {
				return err
			}
			cls = &created
			res.ClassCreated = isNew
		}
		res.Class = cls

		rec := &AttendanceRecord{
			StudentID:   st.ID,
			ClassID:     cls.ID,
			Date:        now.Format(time.DateOnly),
			CheckedInAt: now,
		}
		switch err := tx.InsertAttendance(ctx, rec); {
		case errors.Is(err, ErrConstraintViolation):
			res.Outcome = SkippedDuplicateAttendance
		case err != nil:
			return err
		default:
			res.Outcome = Applied
			res.Record = rec
		}
		return nil
	})
	if err != nil {
		return CheckInResult{}, storageErr("check in", err)
	}
	return res, nil
}

// CreateStudent validates and registers a new student.
func (s *Service) CreateStudent(ctx context.Context, st *Student) error {
	st.Name = strings.TrimSpace(st.Name)
	st.Phone = strings.TrimSpace(st.Phone)
	st.MembershipNumber = strings.TrimSpace(st.MembershipNumber)
	if err := s.check(st); err != nil {
		return err
	}
	return storageErr("create student", s.store.CreateStudent(ctx, st))
}

// UpdateStudent replaces the editable fields of an existing student.
func (s *Service) UpdateStudent(ctx context.Context, st Student) (Student, error) {
	st.Name = strings.TrimSpace(st.Name)
	st.Phone = strings.TrimSpace(st.Phone)
	st.MembershipNumber = strings.TrimSpace(st.MembershipNumber)
	if err := s.check(&st); err != nil {
		return Student{}, err
	}
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return Student{}, storageErr("update student", err)
	}
	return s.GetStudent(ctx, st.ID)
}

// GetStudent returns a single student by id.
func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return Student{}, storageErr("get student", err)
	}
	return st, nil
}

// ListStudents returns students whose name, phone or membership number
// contains query, ignoring case. An empty query lists everyone.
func (s *Service) ListStudents(ctx context.Context, query string) ([]Student, error) {
	students, err := s.store.ListStudents(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, storageErr("list students", err)
	}
	return students, nil
}

// CreateClass validates and registers a class session.
func (s *Service) CreateClass(ctx context.Context, cls *ClassSession) error {
	cls.Name = strings.TrimSpace(cls.Name)
	if cls.MaxStudents == 0 {
		cls.MaxStudents = DefaultMaxStudents
	}
	if err := s.check(cls); err != nil {
		return err
	}
	return storageErr("create class", s.store.CreateClass(ctx, cls))
}

// ListClasses returns every class session.
func (s *Service) ListClasses(ctx context.Context) ([]ClassSession, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, storageErr("list classes", err)
	}
	return classes, nil
}

// History returns a student's attendance, newest first.
func (s *Service) History(ctx context.Context, studentID string) (Student, []HistoryEntry, error) {
	st, err := s.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, nil, err
	}
	entries, err := s.store.StudentHistory(ctx, st.ID)
	if err != nil {
		return Student{}, nil, storageErr("student history", err)
	}
	return st, entries, nil
}

// ExportCSV writes every attendance record as CSV and returns the number of
// data rows written.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.store.ExportRows(ctx)
	if err != nil {
		return 0, storageErr("export attendance", err)
	}
	if err := WriteCSV(w, rows, s.loc); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for tests and single-node dev runs.
// Transactions run one at a time against a copy of the data that replaces
// the live state only on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	students   map[string]Student
	classes    []ClassSession
	attendance []AttendanceRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{students: make(map[string]Student)}}
}

func (s memState) clone() memState {
	out := memState{
		students:   make(map[string]Student, len(s.students)),
		classes:    append([]ClassSession(nil), s.classes...),
		attendance: append([]AttendanceRecord(nil), s.attendance...),
	}
	for k, v := range s.students {
		out.students[k] = v
	}
	return out
}

// WithTx implements Store.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memTx{state: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memTx struct {
	state *memState
}

func (t *memTx) LockStudent(_ context.Context, id string) (Student, error) {
	st, ok := t.state.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return st, nil
}

func (t *memTx) SetClassesLeft(_ context.Context, id string, n int) error {
	st, ok := t.state.students[id]
	if !ok {
		return ErrNotFound
	}
	st.ClassesLeft = n
	t.state.students[id] = st
	return nil
}

func (t *memTx) FindClass(_ context.Context, style Style, level Level) (*ClassSession, error) {
	for _, c := range t.state.classes {
		if c.Style == style && c.Level == level {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetOrCreateClass(_ context.Context, defaults ClassSession) (ClassSession, bool, error) {
	for _, c := range t.state.classes {
		if c.Name == defaults.Name {
			return c, false, nil
		}
	}
	defaults.ID = uuid.NewString()
	defaults.CreatedAt = time.Now().UTC()
	t.state.classes = append(t.state.classes, defaults)
	return defaults, true, nil
}

func (t *memTx) InsertAttendance(_ context.Context, rec *AttendanceRecord) error {
	for _, a := range t.state.attendance {
		if a.StudentID == rec.StudentID && a.ClassID == rec.ClassID && a.Date == rec.Date {
			return ErrConstraintViolation
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	t.state.attendance = append(t.state.attendance, *rec)
	return nil
}

func (m *MemoryStore) uniqueStudent(st Student) error {
	for id, other := range m.state.students {
		if id == st.ID {
			continue
		}
		if other.Phone == st.Phone || other.MembershipNumber == st.MembershipNumber {
			return ErrConstraintViolation
		}
	}
	return nil
}

// CreateStudent implements Store.
func (m *MemoryStore) CreateStudent(_ context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.uniqueStudent(*st); err != nil {
		return err
	}
	st.ID = uuid.NewString()
	st.CreatedAt = time.Now().UTC()
	m.state.students[st.ID] = *st
	return nil
}

// UpdateStudent implements Store.
func (m *MemoryStore) UpdateStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.state.students[st.ID]
	if !ok {
		return ErrNotFound
	}
	if err := m.uniqueStudent(st); err != nil {
		return err
	}
	st.CreatedAt = cur.CreatedAt
	m.state.students[st.ID] = st
	return nil
}

// GetStudent implements Store.
func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return st, nil
}

// ListStudents implements Store.
func (m *MemoryStore) ListStudents(_ context.Context, query string) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	out := []Student{}
	for _, st := range m.state.students {
		if q == "" ||
			strings.Contains(strings.ToLower(st.Name), q) ||
			strings.Contains(strings.ToLower(st.Phone), q) ||
			strings.Contains(strings.ToLower(st.MembershipNumber), q) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateClass implements Store.
func (m *MemoryStore) CreateClass(_ context.Context, cls *ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cls.ID = uuid.NewString()
	cls.CreatedAt = time.Now().UTC()
	m.state.classes = append(m.state.classes, *cls)
	return nil
}

// ListClasses implements Store.
func (m *MemoryStore) ListClasses(_ context.Context) ([]ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]ClassSession{}, m.state.classes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) classByID(id string) (ClassSession, bool) {
	for _, c := range m.state.classes {
		if c.ID == id {
			return c, true
		}
	}
	return ClassSession{}, false
}

// StudentHistory implements Store.
func (m *MemoryStore) StudentHistory(_ context.Context, studentID string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []HistoryEntry{}
	for _, a := range m.state.attendance {
		if a.StudentID != studentID {
			continue
		}
		cls, _ := m.classByID(a.ClassID)
		out = append(out, HistoryEntry{AttendanceRecord: a, ClassName: cls.Name, Style: cls.Style, Level: cls.Level})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].CheckedInAt.After(out[j].CheckedInAt)
	})
	return out, nil
}

// ExportRows implements Store.
func (m *MemoryStore) ExportRows(_ context.Context) ([]ExportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExportRow, 0, len(m.state.attendance))
	for _, a := range m.state.attendance {
		st := m.state.students[a.StudentID]
		cls, _ := m.classByID(a.ClassID)
		out = append(out, ExportRow{
			StudentName:      st.Name,
			MembershipNumber: st.MembershipNumber,
			ClassName:        cls.Name,
			Date:             a.Date,
			CheckedInAt:      a.CheckedInAt,
		})
	}
	return out, nil
}

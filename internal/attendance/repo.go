package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Repository persists studio data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id                UUID PRIMARY KEY,
		name              VARCHAR(100) NOT NULL,
		phone             VARCHAR(15) NOT NULL UNIQUE,
		membership_number VARCHAR(20) NOT NULL UNIQUE,
		classes_left      INTEGER NOT NULL DEFAULT 0 CHECK (classes_left >= 0),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dance_classes (
		id           UUID PRIMARY KEY,
		name         VARCHAR(100) NOT NULL,
		style        VARCHAR(20) NOT NULL CHECK (style IN ('Jazz', 'Kpop', 'Hip-hop', 'House', 'Urban')),
		level        VARCHAR(20) NOT NULL CHECK (level IN ('Basic', 'Intermediate', 'Advanced', 'Unknown')),
		description  TEXT NOT NULL DEFAULT '',
		schedule     VARCHAR(200) NOT NULL DEFAULT '',
		max_students INTEGER NOT NULL DEFAULT 20 CHECK (max_students > 0),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dance_classes_style_level ON dance_classes (style, level)`,
	`CREATE INDEX IF NOT EXISTS idx_dance_classes_name ON dance_classes (name)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id            UUID PRIMARY KEY,
		student_id    UUID NOT NULL REFERENCES students (id) ON DELETE CASCADE,
		class_id      UUID NOT NULL REFERENCES dance_classes (id) ON DELETE CASCADE,
		attended_on   DATE NOT NULL,
		checked_in_at TIMESTAMPTZ NOT NULL,
		UNIQUE (student_id, class_id, attended_on)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance (student_id, attended_on DESC)`,
}

// Migrate creates the tables when they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithTx implements Store.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

const studentColumns = `id, name, phone, membership_number, classes_left, created_at`

const classColumns = `id, name, style, level, description, schedule, max_students, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.Phone, &st.MembershipNumber, &st.ClassesLeft, &st.CreatedAt)
	return st, err
}

func scanClass(row scanner) (ClassSession, error) {
	var c ClassSession
	err := row.Scan(&c.ID, &c.Name, &c.Style, &c.Level, &c.Description, &c.Schedule, &c.MaxStudents, &c.CreatedAt)
	return c, err
}

func (t *pgTx) LockStudent(ctx context.Context, id string) (Student, error) {
	if !validID(id) {
		return Student{}, ErrNotFound
	}
	row := t.tx.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return st, err
}

func (t *pgTx) SetClassesLeft(ctx context.Context, id string, n int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE students SET classes_left = $2, updated_at = NOW() WHERE id = $1`, id, n)
	return err
}

func (t *pgTx) FindClass(ctx context.Context, style Style, level Level) (*ClassSession, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+classColumns+`
		FROM dance_classes
		WHERE style = $1 AND level = $2
		ORDER BY created_at, id
		LIMIT 1
	`, string(style), string(level))
	c, err := scanClass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) GetOrCreateClass(ctx context.Context, defaults ClassSession) (ClassSession, bool, error) {
	// Serializes concurrent creators of the same name until commit.
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, defaults.Name); err != nil {
		return ClassSession{}, false, err
	}
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+classColumns+`
		FROM dance_classes
		WHERE name = $1
		ORDER BY created_at, id
		LIMIT 1
	`, defaults.Name)
	c, err := scanClass(row)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ClassSession{}, false, err
	}

	defaults.ID = uuid.NewString()
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO dance_classes (id, name, style, level, description, schedule, max_students)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, defaults.ID, defaults.Name, string(defaults.Style), string(defaults.Level),
		defaults.Description, defaults.Schedule, defaults.MaxStudents).Scan(&defaults.CreatedAt)
	if err != nil {
		return ClassSession{}, false, err
	}
	return defaults, true, nil
}

func (t *pgTx) InsertAttendance(ctx context.Context, rec *AttendanceRecord) error {
	day, err := time.Parse(time.DateOnly, rec.Date)
	if err != nil {
		return fmt.Errorf("attendance date %q: %w", rec.Date, err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	// A unique violation would abort the whole transaction, so conflicts
	// are skipped in SQL and reported from the affected row count.
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, class_id, attended_on, checked_in_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, class_id, attended_on) DO NOTHING
	`, rec.ID, rec.StudentID, rec.ClassID, day, rec.CheckedInAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConstraintViolation
	}
	return nil
}

// CreateStudent inserts a student and assigns its id.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	id := uuid.NewString()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, name, phone, membership_number, classes_left)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, id, st.Name, st.Phone, st.MembershipNumber, st.ClassesLeft).Scan(&st.CreatedAt)
	if err != nil {
		return mapPGError(err)
	}
	st.ID = id
	return nil
}

// UpdateStudent overwrites a student's editable fields.
func (r *Repository) UpdateStudent(ctx context.Context, st Student) error {
	if !validID(st.ID) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET name = $2, phone = $3, membership_number = $4, classes_left = $5, updated_at = NOW()
		WHERE id = $1
	`, st.ID, st.Name, st.Phone, st.MembershipNumber, st.ClassesLeft)
	if err != nil {
		return mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStudent returns a single student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	if !validID(id) {
		return Student{}, ErrNotFound
	}
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return st, err
}

// ListStudents returns students matching query by substring, ignoring case.
func (r *Repository) ListStudents(ctx context.Context, query string) ([]Student, error) {
	q := `SELECT ` + studentColumns + ` FROM students`
	args := []any{}
	if query != "" {
		q += ` WHERE name ILIKE $1 ESCAPE '\' OR phone ILIKE $1 ESCAPE '\' OR membership_number ILIKE $1 ESCAPE '\'`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	q += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CreateClass inserts a class session and assigns its id.
func (r *Repository) CreateClass(ctx context.Context, cls *ClassSession) error {
	id := uuid.NewString()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dance_classes (id, name, style, level, description, schedule, max_students)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, id, cls.Name, string(cls.Style), string(cls.Level), cls.Description, cls.Schedule, cls.MaxStudents).Scan(&cls.CreatedAt)
	if err != nil {
		return mapPGError(err)
	}
	cls.ID = id
	return nil
}

// ListClasses returns all class sessions by name.
func (r *Repository) ListClasses(ctx context.Context) ([]ClassSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+classColumns+` FROM dance_classes ORDER BY name, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ClassSession{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StudentHistory returns a student's attendance joined with class data.
func (r *Repository) StudentHistory(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.student_id, a.class_id, to_char(a.attended_on, 'YYYY-MM-DD'), a.checked_in_at,
		       c.name, c.style, c.level
		FROM attendance a
		JOIN dance_classes c ON c.id = a.class_id
		WHERE a.student_id = $1
		ORDER BY a.attended_on DESC, a.checked_in_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.ClassID, &e.Date, &e.CheckedInAt, &e.ClassName, &e.Style, &e.Level); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExportRows returns every attendance record joined with student and class.
func (r *Repository) ExportRows(ctx context.Context) ([]ExportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.name, s.membership_number, c.name, to_char(a.attended_on, 'YYYY-MM-DD'), a.checked_in_at
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		JOIN dance_classes c ON c.id = a.class_id
		ORDER BY a.checked_in_at, a.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ExportRow{}
	for rows.Next() {
		var e ExportRow
		if err := rows.Scan(&e.StudentName, &e.MembershipNumber, &e.ClassName, &e.Date, &e.CheckedInAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// mapPGError turns unique violations from either driver into
// ErrConstraintViolation.
func mapPGError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	return svc, store
}

func mustStudent(t *testing.T, svc *Service, name, phone, member string, left int) Student {
	t.Helper()
	st := Student{Name: name, Phone: phone, MembershipNumber: member, ClassesLeft: left}
	if err := svc.CreateStudent(context.Background(), &st); err != nil {
		t.Fatalf("create student: %v", err)
	}
	return st
}

func attendanceCount(t *testing.T, store *MemoryStore) int {
	t.Helper()
	rows, err := store.ExportRows(context.Background())
	if err != nil {
		t.Fatalf("export rows: %v", err)
	}
	return len(rows)
}

func TestCheckInApplied(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, at(6, 18))
	st := mustStudent(t, svc, "Ana", "555-0101", "M-1", 5)

	res, err := svc.CheckIn(ctx, st.ID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.Outcome != Applied {
		t.Fatalf("outcome = %s, want %s", res.Outcome, Applied)
	}
	if res.Student.ClassesLeft != 4 {
		t.Fatalf("classes left = %d, want 4", res.Student.ClassesLeft)
	}
	if res.Class == nil || res.Class.Name != "Intermediate - House" {
		t.Fatalf("class = %+v", res.Class)
	}
	if !res.ClassCreated {
		t.Fatal("expected class to be created")
	}
	if res.Record == nil || res.Record.Date != "2024-01-06" {
		t.Fatalf("record = %+v", res.Record)
	}

	got, err := svc.GetStudent(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClassesLeft != 4 {
		t.Fatalf("stored classes left = %d, want 4", got.ClassesLeft)
	}
	if n := attendanceCount(t, store); n != 1 {
		t.Fatalf("attendance records = %d, want 1", n)
	}
}

func TestCheckInNoBalanceIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, at(1, 17))
	st := mustStudent(t, svc, "Ben", "555-0102", "M-2", 0)

	res, err := svc.CheckIn(ctx, st.ID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.Outcome != SkippedNoBalance {
		t.Fatalf("outcome = %s, want %s", res.Outcome, SkippedNoBalance)
	}
	if res.Class != nil || res.Record != nil {
		t.Fatalf("expected no class or record, got %+v", res)
	}

	classes, _ := svc.ListClasses(ctx)
	if len(classes) != 0 {
		t.Fatalf("classes = %d, want 0", len(classes))
	}
	if n := attendanceCount(t, store); n != 0 {
		t.Fatalf("attendance records = %d, want 0", n)
	}
	got, _ := svc.GetStudent(ctx, st.ID)
	if got.ClassesLeft != 0 {
		t.Fatalf("classes left = %d", got.ClassesLeft)
	}
}

func TestCheckInTwiceSameDayKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, at(2, 19))
	st := mustStudent(t, svc, "Cai", "555-0103", "M-3", 2)

	first, err := svc.CheckIn(ctx, st.ID)
	if err != nil || first.Outcome != Applied {
		t.Fatalf("first check in: %+v, %v", first, err)
	}
	second, err := svc.CheckIn(ctx, st.ID)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if second.Outcome != SkippedDuplicateAttendance {
		t.Fatalf("outcome = %s, want %s", second.Outcome, SkippedDuplicateAttendance)
	}
	if second.Student.ClassesLeft != 0 {
		t.Fatalf("classes left = %d, want 0", second.Student.ClassesLeft)
	}
	if second.ClassCreated {
		t.Fatal("second check in should reuse the class")
	}
	if n := attendanceCount(t, store); n != 1 {
		t.Fatalf("attendance records = %d, want 1", n)
	}

	third, err := svc.CheckIn(ctx, st.ID)
	if err != nil || third.Outcome != SkippedNoBalance {
		t.Fatalf("third check in: %+v, %v", third, err)
	}
}

func TestCheckInReusesClassByStyleAndLevel(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, at(1, 17))
	existing := ClassSession{Name: "Monday Beginners", Style: StyleJazz, Level: LevelBasic}
	if err := svc.CreateClass(ctx, &existing); err != nil {
		t.Fatalf("create class: %v", err)
	}
	st := mustStudent(t, svc, "Dee", "555-0104", "M-4", 1)

	res, err := svc.CheckIn(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Class == nil || res.Class.ID != existing.ID {
		t.Fatalf("class = %+v, want %s", res.Class, existing.ID)
	}
	if res.ClassCreated {
		t.Fatal("class should not be created")
	}
	classes, _ := svc.ListClasses(ctx)
	if len(classes) != 1 {
		t.Fatalf("classes = %d, want 1", len(classes))
	}
	if n := attendanceCount(t, store); n != 1 {
		t.Fatalf("attendance records = %d", n)
	}
}

func TestCheckInReusesClassByDerivedName(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, at(1, 17))
	// Same name as the derived one but a different pair: style/level lookup
	// misses, name lookup hits.
	named := ClassSession{Name: "Basic - Jazz", Style: StyleKpop, Level: LevelAdvanced}
	if err := svc.CreateClass(ctx, &named); err != nil {
		t.Fatal(err)
	}
	st := mustStudent(t, svc, "Eve", "555-0105", "M-5", 1)

	res, err := svc.CheckIn(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Class.ID != named.ID || res.ClassCreated {
		t.Fatalf("expected reuse of %s, got %+v created=%v", named.ID, res.Class, res.ClassCreated)
	}
}

func TestCheckInUnknownStudent(t *testing.T) {
	svc, store := newTestService(t, at(1, 17))
	_, err := svc.CheckIn(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := attendanceCount(t, store); n != 0 {
		t.Fatalf("attendance records = %d", n)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return f.MemoryStore.WithTx(ctx, func(tx Tx) error {
		return fn(failingTx{Tx: tx, err: f.err})
	})
}

type failingTx struct {
	Tx
	err error
}

func (f failingTx) InsertAttendance(context.Context, *AttendanceRecord) error { return f.err }

func TestCheckInStorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	boom := errors.New("disk full")
	svc := NewService(failingStore{MemoryStore: mem, err: boom}, WithClock(func() time.Time { return at(3, 18) }), WithLocation(time.UTC))
	st := mustStudent(t, svc, "Fay", "555-0106", "M-6", 3)

	_, err := svc.CheckIn(ctx, st.ID)
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StorageError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v does not wrap cause", err)
	}

	got, _ := svc.GetStudent(ctx, st.ID)
	if got.ClassesLeft != 3 {
		t.Fatalf("classes left = %d, want 3 after rollback", got.ClassesLeft)
	}
	classes, _ := svc.ListClasses(ctx)
	if len(classes) != 0 {
		t.Fatalf("classes = %d, want 0 after rollback", len(classes))
	}
}

func TestConcurrentCheckInsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, at(4, 18))
	st := mustStudent(t, svc, "Gus", "555-0107", "M-7", 3)

	const callers = 10
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CheckIn(ctx, st.ID)
			if err != nil {
				t.Errorf("check in: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	if counts[Applied] != 1 || counts[SkippedDuplicateAttendance] != 2 || counts[SkippedNoBalance] != 7 {
		t.Fatalf("outcomes = %v", counts)
	}
	got, _ := svc.GetStudent(ctx, st.ID)
	if got.ClassesLeft != 0 {
		t.Fatalf("classes left = %d", got.ClassesLeft)
	}
	if n := attendanceCount(t, store); n != 1 {
		t.Fatalf("attendance records = %d", n)
	}
}

func TestCheckInUsesStudioLocation(t *testing.T) {
	loc := time.FixedZone("studio", -5*60*60)
	store := NewMemoryStore()
	// 23:30 UTC on Saturday is 18:30 Saturday in the studio zone.
	svc := NewService(store, WithClock(func() time.Time { return at(6, 23) }), WithLocation(loc))
	st := mustStudent(t, svc, "Hal", "555-0108", "M-8", 1)

	res, err := svc.CheckIn(context.Background(), st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Class.Style != StyleHouse || res.Class.Level != LevelIntermediate {
		t.Fatalf("class = %s/%s", res.Class.Style, res.Class.Level)
	}
	if res.Class.Schedule != "Saturday 18:00" {
		t.Fatalf("schedule = %q", res.Class.Schedule)
	}
}

func TestCreateStudentUniqueness(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, at(1, 10))
	mustStudent(t, svc, "Ivy", "555-0109", "M-9", 30)

	dupPhone := Student{Name: "Jay", Phone: "555-0109", MembershipNumber: "M-10", ClassesLeft: 30}
	if err := svc.CreateStudent(ctx, &dupPhone); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("duplicate phone err = %v", err)
	}
	dupMember := Student{Name: "Kim", Phone: "555-0110", MembershipNumber: "M-9", ClassesLeft: 30}
	if err := svc.CreateStudent(ctx, &dupMember); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("duplicate membership err = %v", err)
	}
	all, _ := svc.ListStudents(ctx, "")
	if len(all) != 1 {
		t.Fatalf("students = %d, want 1", len(all))
	}
}

func TestCreateStudentValidation(t *testing.T) {
	svc, _ := newTestService(t, at(1, 10))
	cases := []Student{
		{Phone: "1", MembershipNumber: "a", ClassesLeft: 1},
		{Name: "x", MembershipNumber: "a", ClassesLeft: 1},
		{Name: "x", Phone: "1234567890123456", MembershipNumber: "a"},
		{Name: "x", Phone: "1", MembershipNumber: "a", ClassesLeft: -1},
	}
	for i, st := range cases {
		st := st
		if err := svc.CreateStudent(context.Background(), &st); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: err = %v, want ErrInvalid", i, err)
		}
	}
}

func TestUpdateStudent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, at(1, 10))
	a := mustStudent(t, svc, "Lee", "555-0111", "M-11", 30)
	b := mustStudent(t, svc, "Mo", "555-0112", "M-12", 30)

	a.ClassesLeft = 50
	a.Name = "Lee Park"
	got, err := svc.UpdateStudent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClassesLeft != 50 || got.Name != "Lee Park" {
		t.Fatalf("updated = %+v", got)
	}

	b.Phone = a.Phone
	if _, err := svc.UpdateStudent(ctx, b); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("err = %v, want ErrConstraintViolation", err)
	}
	if _, err := svc.UpdateStudent(ctx, Student{ID: "nope", Name: "x", Phone: "1", MembershipNumber: "2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListStudentsSearch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, at(1, 10))
	mustStudent(t, svc, "Nora Jones", "555-0200", "A-100", 30)
	mustStudent(t, svc, "Omar", "555-0300", "B-200", 30)
	mustStudent(t, svc, "Pia", "777-1000", "C-300", 30)

	cases := map[string]int{
		"":      3,
		"nora":  1,
		"555":   2,
		"b-2":   1,
		"zzz":   0,
		" pia ": 1,
	}
	for q, want := range cases {
		got, err := svc.ListStudents(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != want {
			t.Fatalf("query %q: %d results, want %d", q, len(got), want)
		}
	}
}

func TestCreateClassValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, at(1, 10))

	ok := ClassSession{Name: "Street", Style: StyleUrban, Level: LevelAdvanced}
	if err := svc.CreateClass(ctx, &ok); err != nil {
		t.Fatal(err)
	}
	if ok.MaxStudents != DefaultMaxStudents || ok.ID == "" {
		t.Fatalf("class = %+v", ok)
	}

	bad := ClassSession{Name: "Tango", Style: Style("Tango"), Level: LevelBasic}
	if err := svc.CreateClass(ctx, &bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	negative := ClassSession{Name: "Jazz", Style: StyleJazz, Level: LevelBasic, MaxStudents: -3}
	if err := svc.CreateClass(ctx, &negative); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := at(1, 17)
	svc := NewService(store, WithClock(func() time.Time { return clock }), WithLocation(time.UTC))
	st := mustStudent(t, svc, "Quinn", "555-0400", "M-40", 10)

	for _, when := range []time.Time{at(1, 17), at(1, 18), at(3, 19)} {
		clock = when
		if _, err := svc.CheckIn(ctx, st.ID); err != nil {
			t.Fatal(err)
		}
	}

	_, entries, err := svc.History(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d", len(entries))
	}
	want := []string{"Advanced - Jazz", "Intermediate - Jazz", "Basic - Jazz"}
	for i, e := range entries {
		if e.ClassName != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, e.ClassName, want[i])
		}
	}

	if _, _, err := svc.History(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := at(6, 17)
	svc := NewService(store, WithClock(func() time.Time { return clock }), WithLocation(time.UTC))
	a := mustStudent(t, svc, "Rae", "555-0500", "M-50", 5)
	b := mustStudent(t, svc, "Sol", "555-0600", "M-60", 5)

	for _, id := range []string{a.ID, b.ID, a.ID} {
		if _, err := svc.CheckIn(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	clock = at(7, 18)
	if _, err := svc.CheckIn(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || len(records) != 4 {
		t.Fatalf("rows = %d, records = %d", n, len(records))
	}
	if got := records[0]; len(got) != 5 || got[0] != "Student Name" || got[4] != "Time" {
		t.Fatalf("header = %v", got)
	}
	last := records[3]
	want := []string{"Sol", "M-60", "Intermediate - House", "2024-01-07", "18:30:00"}
	for i := range want {
		if last[i] != want[i] {
			t.Fatalf("row = %v, want %v", last, want)
		}
	}
}

package attendance

import (
	"encoding/csv"
	"io"
	"time"
)

// CSVHeader is the first row of an attendance export.
var CSVHeader = []string{"Student Name", "Membership Number", "Class Name", "Date", "Time"}

// WriteCSV renders attendance rows with times shown in loc.
func WriteCSV(w io.Writer, rows []ExportRow, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.StudentName,
			r.MembershipNumber,
			r.ClassName,
			r.Date,
			r.CheckedInAt.In(loc).Format(time.TimeOnly),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

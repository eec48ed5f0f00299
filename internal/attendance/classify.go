package attendance

import (
	"fmt"
	"time"
)

var weekdayStyles = map[time.Weekday]Style{
	time.Monday:    StyleJazz,
	time.Wednesday: StyleJazz,
	time.Friday:    StyleJazz,
	time.Tuesday:   StyleKpop,
	time.Thursday:  StyleKpop,
}

// Classify maps a check-in time to the class it belongs to. Weekdays fix the
// style; on weekends the style follows the hour. The level always follows
// the hour.
func Classify(t time.Time) (Style, Level) {
	return styleFor(t.Weekday(), t.Hour()), levelFor(t.Hour())
}

func styleFor(day time.Weekday, hour int) Style {
	if style, ok := weekdayStyles[day]; ok {
		return style
	}
	switch hour {
	case 17:
		return StyleHipHop
	case 18:
		return StyleHouse
	default:
		return StyleUrban
	}
}

func levelFor(hour int) Level {
	switch hour {
	case 17:
		return LevelBasic
	case 18:
		return LevelIntermediate
	case 19:
		return LevelAdvanced
	default:
		return LevelUnknown
	}
}

// DefaultSession builds the session created when no session with the given
// style and level exists yet.
func DefaultSession(style Style, level Level, t time.Time) ClassSession {
	return ClassSession{
		Name:        fmt.Sprintf("%s - %s", level, style),
		Style:       style,
		Level:       level,
		Description: fmt.Sprintf("%s %s class", level, style),
		Schedule:    fmt.Sprintf("%s %d:00", t.Weekday(), t.Hour()),
		MaxStudents: DefaultMaxStudents,
	}
}

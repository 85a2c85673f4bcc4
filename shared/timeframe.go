package shared

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	// SessionTimeLayout is the format layout for parsing session times in a day.
	SessionTimeLayout = "15:04"
	// DateLayout is the format layout for parsing dates.
	DateLayout = "2006-01-02 15:04:05"
	// DefaultLocation is the default locality for wall-clock alignment.
	DefaultLocation = "Asia/Kolkata"
	// day is the duration of a calendar day.
	day = time.Hour * 24
)

// ValidateWindow asserts the provided window can be aligned to wall-clock boundaries.
func ValidateWindow(window time.Duration) error {
	switch {
	case window <= 0:
		return fmt.Errorf("window must be positive, got %s", window)
	case window%time.Minute != 0:
		return fmt.Errorf("window must be a whole number of minutes, got %s", window)
	case day%window != 0:
		return fmt.Errorf("window must evenly divide a day, got %s", window)
	}

	return nil
}

// windowBoundary returns the wall-clock boundary the provided number of windows after the
// provided time's day start. Boundaries are set on the clock reading of the time's location,
// so they hold on daylight saving transition days.
func windowBoundary(t time.Time, window time.Duration, offset int) time.Time {
	size := max(int(window/time.Minute), 1)
	elapsed := t.Hour()*60 + t.Minute()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, (elapsed/size+offset)*size, 0, 0, t.Location())
}

// WindowStart returns the wall-clock window boundary at or before the provided time.
func WindowStart(t time.Time, window time.Duration) time.Time {
	return windowBoundary(t, window, 0)
}

// WindowEnd returns the next wall-clock window boundary strictly after the provided time.
// Boundaries are multiples of the window counted from midnight, with seconds and sub-second
// components zeroed. A time exactly on a boundary yields the following boundary.
func WindowEnd(t time.Time, window time.Duration) time.Time {
	return windowBoundary(t, window, 1)
}

// LoadLocation loads the named location, falling back to the default location when no name
// is provided.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultLocation
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading %s timezone: %w", name, err)
	}

	return loc, nil
}

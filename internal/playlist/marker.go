package playlist

import (
	"fmt"
	"time"
)

// MarkerStore persists the global reset marker shared by every user.
type MarkerStore interface {
	Load() (time.Time, bool, error)
	Save(at time.Time) error
}

// LastSunday returns 23:59:59 of the most recent Sunday in now's location.
// On a Sunday that is the same day.
func LastSunday(now time.Time) time.Time {
	d := now.AddDate(0, 0, -int(now.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
}

// CurrentMarker returns the stored marker. When none is stored the most
// recent Sunday is stored and returned.
func CurrentMarker(store MarkerStore, now time.Time) (time.Time, error) {
	marker, ok, err := store.Load()
	if err != nil {
		return time.Time{}, fmt.Errorf("loading reset marker: %w", err)
	}
	if ok {
		return marker, nil
	}

	marker = LastSunday(now)
	if err := store.Save(marker); err != nil {
		return time.Time{}, fmt.Errorf("saving default reset marker: %w", err)
	}
	return marker, nil
}

// Week is the elapsed time between consecutive reset markers, regardless of
// daylight saving changes in between.
const Week = 7 * 24 * time.Hour

// AdvanceResetMarker moves the marker forward by exactly one week once a
// week has passed since it. It advances at most once per call and reports
// whether it did.
func AdvanceResetMarker(store MarkerStore, now time.Time) (time.Time, bool, error) {
	marker, err := CurrentMarker(store, now)
	if err != nil {
		return time.Time{}, false, err
	}

	next := marker.Add(Week)
	if now.Before(next) {
		return marker, false, nil
	}

	if err := store.Save(next); err != nil {
		return time.Time{}, false, fmt.Errorf("saving reset marker: %w", err)
	}
	return next, true, nil
}

// ResetDue reports whether a user last reset at userReset is due for an
// empty: the marker must be at least seven whole days away from the user's
// last reset and already in the past.
func ResetDue(userReset, marker, now time.Time) bool {
	gap := marker.Sub(userReset)
	if gap < 0 {
		gap = -gap
	}
	days := int64(gap / (24 * time.Hour))
	return days >= 7 && marker.Before(now)
}

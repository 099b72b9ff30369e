// Package clock holds the pure time arithmetic shared by the booking checks
// and the reminder scheduler: UTC/tenant-local conversions, symmetric
// tolerance windows and half-open interval overlap.
package clock

import "time"

// NowUTC returns the current instant in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// ToUTC reinterprets the wall-clock reading of t as a time in loc and
// returns the corresponding UTC instant. A reading that arrives without a
// meaningful zone (tenant-local input) must go through here rather than
// being assumed UTC.
func ToUTC(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

// ToLocal converts a UTC instant to the tenant's zone.
func ToLocal(t time.Time, loc *time.Location) time.Time {
	return t.In(loc)
}

// Window returns the symmetric interval [center-tol, center+tol] used to
// absorb scheduler tick drift.
func Window(center time.Time, tol time.Duration) (time.Time, time.Time) {
	return center.Add(-tol), center.Add(tol)
}

// Overlap reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back intervals (aEnd == bStart) do not
// overlap.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// DayBounds returns the midnight-to-midnight span of t's calendar day in
// loc, expressed as UTC instants. The upper bound is exclusive.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// SameLocalDay reports whether a and b fall on the same calendar day in loc.
func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	al, bl := a.In(loc), b.In(loc)
	return al.Year() == bl.Year() && al.Month() == bl.Month() && al.Day() == bl.Day()
}

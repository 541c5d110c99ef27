package ranking

import (
	"errors"
	"fmt"
	"time"

	"github.com/leesh5000/picktrend/internal/trend"
)

// ErrInvalidPeriod is returned for a kind/key pair that names no calendar bucket.
var ErrInvalidPeriod = errors.New("invalid ranking period")

// Bounds returns the half-open [start, end) span of the period in loc and
// the key with fields the kind does not use zeroed.
func Bounds(kind trend.PeriodKind, key trend.PeriodKey, loc *time.Location) (trend.PeriodKey, time.Time, time.Time, error) {
	if key.Year < 1 || key.Year > 9999 {
		return key, time.Time{}, time.Time{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, key.Year)
	}
	switch kind {
	case trend.PeriodDaily:
		start := time.Date(key.Year, time.Month(key.Month), key.Day, 0, 0, 0, 0, loc)
		if start.Year() != key.Year || int(start.Month()) != key.Month || start.Day() != key.Day {
			return key, time.Time{}, time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidPeriod, key.Year, key.Month, key.Day)
		}
		return key, start, start.AddDate(0, 0, 1), nil
	case trend.PeriodMonthly:
		if key.Month < 1 || key.Month > 12 {
			return key, time.Time{}, time.Time{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, key.Month)
		}
		key.Day = 0
		start := time.Date(key.Year, time.Month(key.Month), 1, 0, 0, 0, 0, loc)
		return key, start, start.AddDate(0, 1, 0), nil
	case trend.PeriodYearly:
		key.Month, key.Day = 0, 0
		start := time.Date(key.Year, time.January, 1, 0, 0, 0, 0, loc)
		return key, start, start.AddDate(1, 0, 0), nil
	}
	return key, time.Time{}, time.Time{}, fmt.Errorf("%w: kind %q", ErrInvalidPeriod, kind)
}

// Previous returns the key of the bucket immediately before key. Yearly
// periods are not chained and report false.
func Previous(kind trend.PeriodKind, key trend.PeriodKey) (trend.PeriodKey, bool) {
	switch kind {
	case trend.PeriodDaily:
		d := time.Date(key.Year, time.Month(key.Month), key.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		return trend.PeriodKey{Year: d.Year(), Month: int(d.Month()), Day: d.Day()}, true
	case trend.PeriodMonthly:
		if key.Month == 1 {
			return trend.PeriodKey{Year: key.Year - 1, Month: 12}, true
		}
		return trend.PeriodKey{Year: key.Year, Month: key.Month - 1}, true
	}
	return trend.PeriodKey{}, false
}

// KeyFor returns the key of the bucket of the given kind containing t in loc.
func KeyFor(kind trend.PeriodKind, t time.Time, loc *time.Location) trend.PeriodKey {
	t = t.In(loc)
	switch kind {
	case trend.PeriodDaily:
		return trend.PeriodKey{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
	case trend.PeriodMonthly:
		return trend.PeriodKey{Year: t.Year(), Month: int(t.Month())}
	}
	return trend.PeriodKey{Year: t.Year()}
}

// ParseKey reads "2025", "2025-03" or "2025-03-01" according to kind.
func ParseKey(kind trend.PeriodKind, s string) (trend.PeriodKey, error) {
	var layout string
	switch kind {
	case trend.PeriodDaily:
		layout = "2006-01-02"
	case trend.PeriodMonthly:
		layout = "2006-01"
	case trend.PeriodYearly:
		layout = "2006"
	default:
		return trend.PeriodKey{}, fmt.Errorf("%w: kind %q", ErrInvalidPeriod, kind)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return trend.PeriodKey{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	return KeyFor(kind, t, time.UTC), nil
}

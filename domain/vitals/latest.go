package vitals

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vitalsdash/domain/core"
)

// timeLayouts are tried in order. Layouts without a zone parse as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseError reports a reading whose timestamp could not be parsed.
type ParseError struct {
	Value  string
	Bucket int
	Index  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable reading timestamp %q (bucket %d, reading %d)", e.Value, e.Bucket, e.Index)
}

// Unwrap lets errors.Is(err, core.ErrParse) match.
func (e *ParseError) Unwrap() error { return core.ErrParse }

// ParseTime parses an upstream reading timestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", core.ErrParse, s)
}

// SelectLatest flattens the readings of every bucket and returns the one with
// the greatest timestamp. It returns (nil, nil) when there are no readings.
//
// Readings sharing an identical instant keep their flattened input order, so
// the later one wins. That ordering is an implementation detail.
func SelectLatest(buckets []MonthlyBucket) (*SensorReading, error) {
	type stamped struct {
		reading SensorReading
		at      time.Time
	}

	var all []stamped
	for bi, b := range buckets {
		for ri, r := range b.Readings {
			at, err := ParseTime(r.Date)
			if err != nil {
				return nil, &ParseError{Value: r.Date, Bucket: bi, Index: ri}
			}
			all = append(all, stamped{reading: r, at: at})
		}
	}

	if len(all) == 0 {
		return nil, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].at.Before(all[j].at)
	})

	latest := all[len(all)-1].reading
	return &latest, nil
}

package timeseries

import "time"

// DateLayout is the calendar-date encoding used for series and entity dates
const DateLayout = "2006-01-02"

// Sample represents the derived value of a single bucket
type Sample struct {
	Timestamp time.Time `json:"t"` // Bucket start
	Value     float64   `json:"v"` // Derived utilization
}

// NewSample creates a new Sample with the given timestamp and value
func NewSample(t time.Time, v float64) Sample {
	return Sample{Timestamp: t, Value: v}
}

// Date is a calendar date (YYYY-MM-DD) in the collector's reference zone
type Date string

// DateOf returns the calendar date of t as observed in loc
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// Time parses the date back into midnight of that day in loc
func (d Date) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, string(d), loc)
}

// String returns the date as stored
func (d Date) String() string {
	return string(d)
}

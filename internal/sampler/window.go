package sampler

import (
	"fmt"
	"time"
)

// Window is the time range sampled in one run, split into fixed-size buckets
type Window struct {
	Start  time.Time
	End    time.Time
	Bucket time.Duration
}

// TrailingWindow returns the window of the given length ending at now, expressed in loc
func TrailingWindow(now time.Time, length, bucket time.Duration, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	end := now.In(loc)
	return Window{
		Start:  end.Add(-length),
		End:    end,
		Bucket: bucket,
	}
}

// Validate checks the window can be bucketed
func (w Window) Validate() error {
	if w.Bucket <= 0 {
		return fmt.Errorf("bucket size must be positive, got %s", w.Bucket)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("window start %s must be before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Len returns the number of buckets, ceil((End-Start)/Bucket)
func (w Window) Len() int {
	if w.Bucket <= 0 || !w.Start.Before(w.End) {
		return 0
	}
	span := w.End.Sub(w.Start)
	n := int(span / w.Bucket)
	if span%w.Bucket != 0 {
		n++
	}
	return n
}

// Buckets returns the bucket start times Start + k*Bucket that fall strictly before End
func (w Window) Buckets() []time.Time {
	n := w.Len()
	buckets := make([]time.Time, 0, n)
	for t := w.Start; t.Before(w.End); t = t.Add(w.Bucket) {
		buckets = append(buckets, t)
	}
	return buckets
}

package models

import (
	"fmt"
	"time"
)

// CollectionMode is either Automatic with a polling interval, or Manual.
// Values compare with ==.
type CollectionMode struct {
	automatic bool
	interval  time.Duration
}

var Manual = CollectionMode{}

func Automatic(interval time.Duration) CollectionMode {
	return CollectionMode{automatic: true, interval: interval}
}

func (m CollectionMode) IsAutomatic() bool {
	return m.automatic
}

// Interval is zero for Manual.
func (m CollectionMode) Interval() time.Duration {
	return m.interval
}

func (m CollectionMode) String() string {
	if m.automatic {
		return fmt.Sprintf("automatic(%s)", m.interval)
	}
	return "manual"
}

// DeliverySetting decides precedence when two collectors are registered
// for the same record type.
type DeliverySetting struct {
	Mode                 CollectionMode
	ContinueInBackground bool
}

// TimeRange scopes which upserts a collector delivers: everything the feed
// reports (NewRecords), or only records starting at or after a date.
type TimeRange struct {
	anchored bool
	since    time.Time
}

func NewRecords() TimeRange {
	return TimeRange{}
}

func StartingAt(t time.Time) TimeRange {
	return TimeRange{anchored: true, since: t}
}

// Since returns the lower bound and whether one is set.
func (r TimeRange) Since() (time.Time, bool) {
	return r.since, r.anchored
}

func (r TimeRange) Accepts(rec Record) bool {
	if !r.anchored {
		return true
	}
	start, ok := rec.StartTime()
	if !ok {
		return true
	}
	return !start.Before(r.since)
}

func (r TimeRange) String() string {
	if r.anchored {
		return "starting_at(" + r.since.Format(time.RFC3339) + ")"
	}
	return "new_records"
}

// Window bounds queries by record start time; Start is inclusive, End is
// exclusive and a zero bound is open.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(rec Record) bool {
	start, ok := rec.StartTime()
	if !ok {
		return true
	}
	if !w.Start.IsZero() && start.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !start.Before(w.End) {
		return false
	}
	return true
}

// Predicate filters records client side. A nil Predicate matches everything.
type Predicate func(Record) bool

func (p Predicate) Match(r Record) bool {
	return p == nil || p(r)
}

type SortOrder int

const (
	Unsorted SortOrder = iota
	Ascending
	Descending
)

func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "none":
		return Unsorted, nil
	case "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	}
	return Unsorted, fmt.Errorf("invalid sort order %q", s)
}

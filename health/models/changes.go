package models

// Change is one entry of the platform change feed: an Upsertion or a Deletion.
type Change interface {
	isChange()
}

type Upsertion struct {
	Record Record
}

type Deletion struct {
	RecordID string
}

func (Upsertion) isChange() {}
func (Deletion) isChange()  {}

// ChangesResponse is one page of the change feed.
type ChangesResponse struct {
	Changes             []Change
	NextChangesToken    string
	ChangesTokenExpired bool
	// HasMore is set when further pages are available right away.
	HasMore bool
}

// Partition splits changes into kept upserts and deletion ids. An upsert is
// kept only when accept reports true for it.
func Partition(changes []Change, accept func(Record) bool) ([]Record, []string) {
	var added []Record
	var deleted []string
	for _, c := range changes {
		switch c := c.(type) {
		case Upsertion:
			if accept(c.Record) {
				added = append(added, c.Record)
			}
		case Deletion:
			deleted = append(deleted, c.RecordID)
		}
	}
	return added, deleted
}

// QueryResult is produced by every anchored query. NextAnchor has to be
// kept by the caller to continue the feed.
type QueryResult[T Record] struct {
	Added      []T
	DeletedIDs []string
	NextAnchor *string
}

func (q QueryResult[T]) IsEmpty() bool {
	return len(q.Added) == 0 && len(q.DeletedIDs) == 0
}

// Narrow converts a result to a concrete record kind, dropping additions of
// any other kind.
func Narrow[T Record](q QueryResult[Record]) QueryResult[T] {
	out := QueryResult[T]{
		DeletedIDs: q.DeletedIDs,
		NextAnchor: q.NextAnchor,
	}
	for _, r := range q.Added {
		if t, ok := r.(T); ok {
			out.Added = append(out.Added, t)
		}
	}
	return out
}

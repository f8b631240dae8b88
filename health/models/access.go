package models

import (
	"slices"
)

// RecordTypeSet is an unordered set of record types.
type RecordTypeSet map[RecordType]struct{}

func NewRecordTypeSet(types ...RecordType) RecordTypeSet {
	s := make(RecordTypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s RecordTypeSet) Has(t RecordType) bool {
	_, ok := s[t]
	return ok
}

// Union returns a new set; neither operand is modified.
func (s RecordTypeSet) Union(o RecordTypeSet) RecordTypeSet {
	out := make(RecordTypeSet, len(s)+len(o))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range o {
		out[t] = struct{}{}
	}
	return out
}

// Sorted returns the members ordered by identifier.
func (s RecordTypeSet) Sorted() []RecordType {
	out := make([]RecordType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b RecordType) int {
		switch {
		case a.Kind < b.Kind:
			return -1
		case a.Kind > b.Kind:
			return 1
		}
		return 0
	})
	return out
}

// AccessRequirements accumulates the record types an application needs to
// read and write. The zero value is the identity for Plus.
type AccessRequirements struct {
	Read  RecordTypeSet
	Write RecordTypeSet
}

func ReadAccess(types ...RecordType) AccessRequirements {
	return AccessRequirements{Read: NewRecordTypeSet(types...)}
}

func WriteAccess(types ...RecordType) AccessRequirements {
	return AccessRequirements{Write: NewRecordTypeSet(types...)}
}

// Plus merges two requirements. It is commutative and associative.
func (a AccessRequirements) Plus(b AccessRequirements) AccessRequirements {
	return AccessRequirements{
		Read:  a.Read.Union(b.Read),
		Write: a.Write.Union(b.Write),
	}
}

func (a AccessRequirements) IsEmpty() bool {
	return len(a.Read) == 0 && len(a.Write) == 0
}

// Permissions returns every permission string needed to satisfy a, sorted
// and without duplicates.
func (a AccessRequirements) Permissions() []string {
	perms := make([]string, 0, len(a.Read)+len(a.Write))
	for t := range a.Read {
		perms = append(perms, t.ReadPermission)
	}
	for t := range a.Write {
		perms = append(perms, t.WritePermission)
	}
	slices.Sort(perms)
	return slices.Compact(perms)
}

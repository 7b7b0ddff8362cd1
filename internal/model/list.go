package model

import "sort"

// List is a named checklist shared between users.
type List struct {
	ID    ID       `json:"id"`
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func (l List) RecordID() string { return string(l.ID) }

func (l List) WithRecordID(id string) List {
	l.ID = ID(id)
	return l
}

func (l List) Clone() List {
	l.Items = cloneStrings(l.Items)
	return l
}

// ListLess orders lists by name.
func ListLess(a, b List) bool { return a.Name < b.Name }

// SortLists sorts lists by name, keeping the order of equal names.
func SortLists(lists []List) {
	sort.SliceStable(lists, func(i, j int) bool { return ListLess(lists[i], lists[j]) })
}

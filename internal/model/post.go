package model

import "sort"

// Post statuses.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusPublished = "published"
)

// Post is one scheduled content item.
type Post struct {
	ID        ID       `json:"id"`
	Date      string   `json:"date"`           // YYYY-MM-DD
	Time      string   `json:"time,omitempty"` // HH:MM, empty when AllDay
	AllDay    bool     `json:"allDay"`
	Status    string   `json:"status"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	Creators  []string `json:"creators,omitempty"`
	Designers []string `json:"designers,omitempty"`
	Editors   []string `json:"editors,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
}

func (p Post) RecordID() string { return string(p.ID) }

func (p Post) WithRecordID(id string) Post {
	p.ID = ID(id)
	return p
}

// Clone returns a deep copy of p.
func (p Post) Clone() Post {
	p.Creators = cloneStrings(p.Creators)
	p.Designers = cloneStrings(p.Designers)
	p.Editors = cloneStrings(p.Editors)
	p.Platforms = cloneStrings(p.Platforms)
	return p
}

// PostLess orders posts by date, then all-day before timed, then time.
func PostLess(a, b Post) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	return a.Time < b.Time
}

// SortPosts sorts posts in place. Posts with equal keys keep their order.
func SortPosts(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool { return PostLess(posts[i], posts[j]) })
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

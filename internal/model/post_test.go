package model

import (
	"encoding/json"
	"testing"
)

func TestSortPosts(t *testing.T) {
	tests := []struct {
		name  string
		posts []Post
		want  []ID
	}{
		{
			name: "same date, all-day first",
			posts: []Post{
				{ID: "2", Date: "2024-05-01", Time: "09:00"},
				{ID: "1", Date: "2024-05-01", AllDay: true},
			},
			want: []ID{"1", "2"},
		},
		{
			name: "date ascending",
			posts: []Post{
				{ID: "a", Date: "2024-06-01", AllDay: true},
				{ID: "b", Date: "2024-05-31", Time: "23:00"},
			},
			want: []ID{"b", "a"},
		},
		{
			name: "time ascending",
			posts: []Post{
				{ID: "late", Date: "2024-05-01", Time: "17:30"},
				{ID: "early", Date: "2024-05-01", Time: "08:15"},
				{ID: "noon", Date: "2024-05-01", Time: "12:00"},
			},
			want: []ID{"early", "noon", "late"},
		},
		{
			name: "ties keep insertion order",
			posts: []Post{
				{ID: "x", Date: "2024-05-01", AllDay: true},
				{ID: "y", Date: "2024-05-01", AllDay: true},
				{ID: "z", Date: "2024-05-01", AllDay: true},
			},
			want: []ID{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortPosts(tt.posts)
			for i, id := range tt.want {
				if tt.posts[i].ID != id {
					t.Fatalf("position %d = %q, want %q (got %v)", i, tt.posts[i].ID, id, ids(tt.posts))
				}
			}
		})
	}
}

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: `"abc"`, want: "abc"},
		{in: `42`, want: "42"},
		{in: `1700000000000`, want: "1700000000000"},
		{in: `null`, want: ""},
		{in: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.in), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && id != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
			}
		})
	}
}

func TestPost_NumericIDEncodedAsString(t *testing.T) {
	var p Post
	if err := json.Unmarshal([]byte(`{"id": 7, "date": "2024-05-01", "allDay": true}`), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["id"] != "7" {
		t.Errorf("encoded id = %#v, want \"7\"", raw["id"])
	}
}

func TestPost_CloneIsDeep(t *testing.T) {
	p := Post{ID: "1", Creators: []string{"ana"}}
	c := p.Clone()
	c.Creators[0] = "bo"
	if p.Creators[0] != "ana" {
		t.Errorf("Clone() shares the creators slice")
	}
}

func ids(posts []Post) []ID {
	out := make([]ID, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

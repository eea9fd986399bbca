// Package listitems is the reading list: list items read through the query
// cache, and create/update/remove mutations that patch the cached
// collection optimistically, roll it back when the server refuses, and
// invalidate it once the write settles.
package listitems

import (
	"encoding/json"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/books"
)

// CollectionKey is where the whole list of the signed-in user is cached.
var CollectionKey = querycache.NewKey("list-items")

// ListItem is one book on the user's list. Dates are unix milliseconds.
type ListItem struct {
	ID         string      `json:"id"`
	BookID     string      `json:"bookId"`
	OwnerID    string      `json:"ownerId"`
	StartDate  int64       `json:"startDate"`
	FinishDate *int64      `json:"finishDate"`
	Notes      string      `json:"notes"`
	Rating     int         `json:"rating"`
	Book       *books.Book `json:"book,omitempty"`
}

func (li ListItem) Finished() bool { return li.FinishDate != nil }

// Patch is a partial update of one list item. Nil fields are left alone;
// ClearFinish sets finishDate back to null (mark as unread).
type Patch struct {
	ID          string
	StartDate   *int64
	FinishDate  *int64
	ClearFinish bool
	Notes       *string
	Rating      *int
}

// Finish marks a list item read at t (unix ms).
func Finish(id string, t int64) Patch { return Patch{ID: id, FinishDate: &t} }

// Unfinish marks a list item unread.
func Unfinish(id string) Patch { return Patch{ID: id, ClearFinish: true} }

// Apply returns li with the patch's fields written over it.
func (p Patch) Apply(li ListItem) ListItem {
	if p.StartDate != nil {
		li.StartDate = *p.StartDate
	}
	switch {
	case p.ClearFinish:
		li.FinishDate = nil
	case p.FinishDate != nil:
		v := *p.FinishDate
		li.FinishDate = &v
	}
	if p.Notes != nil {
		li.Notes = *p.Notes
	}
	if p.Rating != nil {
		li.Rating = *p.Rating
	}
	return li
}

// MarshalJSON writes only the fields the patch sets, so the server leaves
// the others untouched.
func (p Patch) MarshalJSON() ([]byte, error) {
	m := map[string]any{"id": p.ID}
	if p.StartDate != nil {
		m["startDate"] = *p.StartDate
	}
	if p.ClearFinish {
		m["finishDate"] = nil
	} else if p.FinishDate != nil {
		m["finishDate"] = *p.FinishDate
	}
	if p.Notes != nil {
		m["notes"] = *p.Notes
	}
	if p.Rating != nil {
		m["rating"] = *p.Rating
	}
	return json.Marshal(m)
}

// Reading returns the items not finished yet, in order.
func Reading(items []ListItem) []ListItem {
	return partition(items, false)
}

// Finished returns the finished items, in order.
func Finished(items []ListItem) []ListItem {
	return partition(items, true)
}

func partition(items []ListItem, finished bool) []ListItem {
	out := make([]ListItem, 0, len(items))
	for _, li := range items {
		if li.Finished() == finished {
			out = append(out, li)
		}
	}
	return out
}

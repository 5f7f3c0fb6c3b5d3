// Package models contains data structures for the application's domain models.
package models

import "time"

// Post is a blog post. Posts are keyed by ID in the durable post map.
type Post struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// PostPatch is a partial update. Nil fields are left unchanged; an empty
// string is applied as an empty value.
type PostPatch struct {
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
	Author *string `json:"author,omitempty"`
}

// Apply returns p with the patch fields merged in. ID and timestamps are
// never touched.
func (patch PostPatch) Apply(p Post) Post {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Body != nil {
		p.Body = *patch.Body
	}
	if patch.Author != nil {
		p.Author = *patch.Author
	}
	return p
}

// LastModified returns UpdatedAt when set, CreatedAt otherwise.
func (p Post) LastModified() time.Time {
	if p.UpdatedAt != nil {
		return *p.UpdatedAt
	}
	return p.CreatedAt
}

// Package models defines core data structures for notes, questions, and answers.
package models

import "time"

// Note is a stored note. ID is assigned once and never changes.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NoteInput is the input for creating a note.
type NoteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

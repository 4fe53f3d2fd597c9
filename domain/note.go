package domain

import "time"

// Note types. Transcripts hold raw meeting text and feed the review workflow;
// plain notes are free text.
const (
	NoteTypeNote       = "note"
	NoteTypeTranscript = "transcript"
)

// Note is a note or transcript record attached to a student.
type Note struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileRecord is the metadata row for an uploaded attachment. The object itself
// lives in blob storage under BlobKey.
type FileRecord struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	Name       string    `json:"name"`
	BlobKey    string    `json:"blobKey"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

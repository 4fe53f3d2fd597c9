package api

import (
	"context"
	"io"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchStudents(ctx context.Context, counsellorID string) ([]domain.Student, error)
	FetchStudent(ctx context.Context, counsellorID, studentID string) (domain.Student, error)
	CreateStudent(ctx context.Context, st domain.Student) error
	UpdateStudent(ctx context.Context, counsellorID, studentID string, changes map[string]any) error
	FetchCounsellor(ctx context.Context, counsellorID string) (domain.Counsellor, error)

	FetchTaxonomy(ctx context.Context) ([]domain.Phase, []domain.Task, error)
	FetchSubtasks(ctx context.Context, studentID string) ([]domain.Subtask, error)
	UpsertSubtask(ctx context.Context, sub domain.Subtask) error
	UpdateSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID, changes map[string]any) error

	FetchNotes(ctx context.Context, studentID string) ([]domain.Note, error)
	FetchNote(ctx context.Context, studentID, noteID string) (domain.Note, error)
	CreateNote(ctx context.Context, n domain.Note) error
	MarkTranscriptProcessed(ctx context.Context, studentID, noteID, title string) error

	FetchFiles(ctx context.Context, studentID string) ([]domain.FileRecord, error)
	CreateFileRecord(ctx context.Context, f domain.FileRecord) error

	FetchCalendar(ctx context.Context, studentID string) ([]domain.CalendarEntry, error)

	PublishEvents(ctx context.Context, events []domain.UpdateEvent) error
}

// Objects abstracts blob uploads for the files handler.
type Objects interface {
	Upload(ctx context.Context, key string, body io.Reader) (string, error)
}

// Authenticator is implemented by types able to extract counsellor IDs from
// headers.
type Authenticator interface {
	CounsellorIDFromAuthHeader(string) (string, error)
}

// Deduper prevents duplicate subtask writes during commit retries.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, counsellorID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, counsellorID, key string) error
}

// Extractor turns transcript text into subtask proposals.
type Extractor interface {
	ExtractTasks(ctx context.Context, transcriptText string, phases []domain.Phase, tasks []domain.Task, studentID string) ([]domain.Proposal, error)
}

// Summarizer generates text from a prompt. Both the chat assistant and the
// student-context summary go through this shape.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

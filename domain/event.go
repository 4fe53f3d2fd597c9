package domain

import "encoding/json"

// Update event types consumed by the read-model updater.
const (
	EventSubtaskCreated = "subtask-created"
	EventSubtaskUpdated = "subtask-updated"
	EventNoteUpdated    = "note-updated"
	EventStudentUpdated = "student-updated"
)

// UpdateEvent describes a row change. Events are enqueued after storage writes
// and drive the calendar read model and the per-student realtime stream.
type UpdateEvent struct {
	ID         string          `json:"id"`
	StudentID  string          `json:"studentId"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
}

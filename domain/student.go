package domain

import "time"

// Student is a counselled student profile.
type Student struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Grade        string    `json:"grade,omitempty"`
	Target       string    `json:"target,omitempty"`
	CounsellorID string    `json:"counsellorId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Counsellor is a portal user who owns a set of students.
type Counsellor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

package domain

import "strings"

// ProposalID identifies a proposal within a review session. It is generated on
// creation and is never a table row key; committed subtask rows get their own
// SubtaskID so the two cannot be conflated.
type ProposalID string

// SubtaskID identifies a persisted subtask row.
type SubtaskID string

// Proposal priorities. Informational only; not written to the subtask row.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// Proposal is a candidate subtask extracted from a transcript (or added by
// hand) awaiting review. Suggested phase/task pointers are denormalized into
// the proposal so the working set is self-contained; empty strings mean the
// pointer is unresolved.
type Proposal struct {
	ID                 ProposalID `json:"id"`
	Description        string     `json:"description"`
	SuggestedPhaseID   string     `json:"suggestedPhaseId,omitempty"`
	SuggestedPhaseName string     `json:"suggestedPhaseName,omitempty"`
	SuggestedTaskID    string     `json:"suggestedTaskId,omitempty"`
	SuggestedTaskName  string     `json:"suggestedTaskName,omitempty"`
	Owner              string     `json:"owner"`
	DueDate            string     `json:"dueDate,omitempty"`
	Priority           string     `json:"priority"`
	Notes              string     `json:"notes,omitempty"`
	IsNew              bool       `json:"isNew"`
	IsDeleted          bool       `json:"isDeleted"`
}

// Committable reports whether commit turns this proposal into a subtask row.
// Deleted proposals, blank descriptions and unresolved task pointers are
// skipped silently.
func (p Proposal) Committable() bool {
	if p.IsDeleted {
		return false
	}
	if strings.TrimSpace(p.Description) == "" {
		return false
	}
	return p.SuggestedTaskID != ""
}

// ProposalPatch carries the fields of an inline edit. Nil pointers leave the
// corresponding field untouched.
type ProposalPatch struct {
	Description        *string `json:"description,omitempty"`
	SuggestedPhaseID   *string `json:"suggestedPhaseId,omitempty"`
	SuggestedPhaseName *string `json:"suggestedPhaseName,omitempty"`
	SuggestedTaskID    *string `json:"suggestedTaskId,omitempty"`
	SuggestedTaskName  *string `json:"suggestedTaskName,omitempty"`
	Owner              *string `json:"owner,omitempty"`
	DueDate            *string `json:"dueDate,omitempty"`
	Priority           *string `json:"priority,omitempty"`
	Notes              *string `json:"notes,omitempty"`
}

// Apply merges the patch into the proposal. Changing the suggested phase
// resets the suggested task, so a stale phase/task pairing cannot survive an
// edit.
func (p *Proposal) Apply(patch ProposalPatch) {
	if patch.SuggestedPhaseID != nil && *patch.SuggestedPhaseID != p.SuggestedPhaseID {
		p.SuggestedPhaseID = *patch.SuggestedPhaseID
		p.SuggestedTaskID = ""
		p.SuggestedTaskName = ""
	}
	if patch.SuggestedPhaseName != nil {
		p.SuggestedPhaseName = *patch.SuggestedPhaseName
	}
	if patch.SuggestedTaskID != nil {
		p.SuggestedTaskID = *patch.SuggestedTaskID
	}
	if patch.SuggestedTaskName != nil {
		p.SuggestedTaskName = *patch.SuggestedTaskName
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Owner != nil {
		p.Owner = *patch.Owner
	}
	if patch.DueDate != nil {
		p.DueDate = *patch.DueDate
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.Notes != nil {
		p.Notes = *patch.Notes
	}
}

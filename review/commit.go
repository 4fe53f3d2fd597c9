package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// Store is the slice of persistence the commit step needs.
type Store interface {
	UpsertSubtask(ctx context.Context, sub domain.Subtask) error
	MarkTranscriptProcessed(ctx context.Context, studentID, noteID, title string) error
	PublishEvents(ctx context.Context, events []domain.UpdateEvent) error
}

// Deduper guards subtask writes with idempotency keys so a commit retried
// after partial failure cannot duplicate rows.
type Deduper interface {
	Add(ctx context.Context, owner, key string) (bool, error)
	Remove(ctx context.Context, owner, key string) error
}

// CommitError wraps a failure inside the commit loop. Stage is "write" while
// subtask rows are being created and "finalize" for the transcript update, so
// callers can distinguish a processing error from generic failure.
type CommitError struct {
	Stage string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// CreatedSubtask maps a proposal onto the subtask row it became.
type CreatedSubtask struct {
	ProposalID domain.ProposalID `json:"proposalId"`
	SubtaskID  domain.SubtaskID  `json:"subtaskId"`
}

// CommitResult reports what a commit did.
type CommitResult struct {
	Created          []CreatedSubtask `json:"created"`
	AlreadyCommitted int              `json:"alreadyCommitted"`
	Skipped          int              `json:"skipped"`
	Title            string           `json:"title"`
}

// SubtaskIDFor derives the deterministic row ID for a proposal committed from
// a transcript. The same (noteID, proposalID) pair always yields the same
// subtask ID, which is what makes retried commits overwrite instead of
// duplicate.
func SubtaskIDFor(noteID string, proposalID domain.ProposalID) domain.SubtaskID {
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte(noteID))
	return domain.SubtaskID(uuid.NewSHA1(ns, []byte(proposalID)).String())
}

// Commit converts the surviving proposals into subtask rows, in working-set
// order, one write per proposal. Deleted proposals, blank descriptions and
// unresolved task pointers are skipped silently. An empty active set is
// legal: no rows are written but the transcript bookkeeping still runs.
//
// On any write failure the remaining iteration is aborted, the snapshot is
// left intact and the session returns to reviewing, so the reviewer can
// retry; rows written before the failure are guarded by their idempotency
// keys and will not be duplicated.
func (s *Session) Commit(ctx context.Context, store Store, deduper Deduper) (CommitResult, error) {
	s.mu.Lock()
	if err := s.guardMutableLocked(); err != nil {
		s.mu.Unlock()
		return CommitResult{}, err
	}
	if s.editing != "" {
		s.mu.Unlock()
		return CommitResult{}, ErrProposalEditing
	}
	s.state = StateCommitting
	proposals := append([]domain.Proposal(nil), s.proposals...)
	s.mu.Unlock()

	result := CommitResult{Created: []CreatedSubtask{}}
	events := make([]domain.UpdateEvent, 0, len(proposals)+1)

	fail := func(stage string, err error) (CommitResult, error) {
		s.mu.Lock()
		s.state = StateReviewing
		s.mu.Unlock()
		s.logger.WithFields(log.Fields{
			"student_id": s.key.StudentID,
			"note_id":    s.key.NoteID,
			"stage":      stage,
		}).WithError(err).Error("review.commit.failed")
		return result, &CommitError{Stage: stage, Err: err}
	}

	for _, p := range proposals {
		if !p.Committable() {
			if !p.IsDeleted {
				result.Skipped++
			}
			continue
		}

		subID := SubtaskIDFor(s.key.NoteID, p.ID)
		fresh, err := deduper.Add(ctx, s.counsellor.ID, string(subID))
		if err != nil {
			return fail("write", err)
		}
		if !fresh {
			result.AlreadyCommitted++
			continue
		}

		sub := domain.Subtask{
			ID:        subID,
			StudentID: s.key.StudentID,
			TaskID:    p.SuggestedTaskID,
			Name:      p.Description,
			Status:    domain.StatusYetToStart,
			Remark:    p.Notes,
			ETA:       p.DueDate,
			Owner:     p.Owner,
		}
		if err := store.UpsertSubtask(ctx, sub); err != nil {
			// Release the key so the retry re-attempts this row.
			if rmErr := deduper.Remove(ctx, s.counsellor.ID, string(subID)); rmErr != nil {
				s.logger.WithError(rmErr).Warn("review.commit.dedup_release_failed")
			}
			return fail("write", err)
		}

		result.Created = append(result.Created, CreatedSubtask{ProposalID: p.ID, SubtaskID: subID})
		data, _ := json.Marshal(sub)
		events = append(events, domain.UpdateEvent{
			ID:         uuid.NewString(),
			StudentID:  s.key.StudentID,
			EntityID:   string(subID),
			EntityType: "subtask",
			Type:       domain.EventSubtaskCreated,
			Data:       data,
			Time:       time.Now().UnixMilli(),
		})
	}

	total := len(result.Created) + result.AlreadyCommitted
	result.Title = fmt.Sprintf("Transcript processed: %d subtasks created", total)
	if err := store.MarkTranscriptProcessed(ctx, s.key.StudentID, s.key.NoteID, result.Title); err != nil {
		return fail("finalize", err)
	}

	if err := s.snapshots.Clear(ctx, s.key.StudentID, s.key.NoteID); err != nil {
		// The commit itself stands; a stale snapshot only costs a redundant
		// resume prompt.
		s.logger.WithError(err).Warn("review.snapshot.clear_failed")
	}

	events = append(events, domain.UpdateEvent{
		ID:         uuid.NewString(),
		StudentID:  s.key.StudentID,
		EntityID:   s.key.NoteID,
		EntityType: "note",
		Type:       domain.EventNoteUpdated,
		Time:       time.Now().UnixMilli(),
	})
	if err := store.PublishEvents(ctx, events); err != nil {
		s.logger.WithError(err).Warn("review.commit.publish_failed")
	}

	s.mu.Lock()
	s.state = StateSucceeded
	s.mu.Unlock()
	s.manager.remove(s.key)

	s.logger.WithFields(log.Fields{
		"student_id": s.key.StudentID,
		"note_id":    s.key.NoteID,
		"created":    len(result.Created),
		"skipped":    result.Skipped,
	}).Info("review.commit.succeeded")
	return result, nil
}

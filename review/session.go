// Package review implements the transcript review workflow: an editable
// working set of extracted subtask proposals, durably snapshotted on every
// mutation, and the commit step that turns surviving proposals into subtask
// rows.
package review

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// State of a review session. Idle and Loading live on the caller's side; a
// Session exists only once proposals do.
type State string

const (
	StateReviewing  State = "reviewing"
	StateCommitting State = "committing"
	StateSucceeded  State = "succeeded"
	StateCancelled  State = "cancelled"
)

var (
	// ErrProposalNotFound is returned when an operation names an unknown
	// proposal ID.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrSessionBusy is returned for mutations while a commit is running.
	ErrSessionBusy = errors.New("session is committing")
	// ErrProposalEditing is returned when a commit is attempted while a
	// proposal is still open for inline editing.
	ErrProposalEditing = errors.New("a proposal is being edited")
	// ErrSessionClosed is returned for operations on a committed or
	// cancelled session.
	ErrSessionClosed = errors.New("session is closed")
)

// Key identifies a review session: one transcript of one student.
type Key struct {
	StudentID string
	NoteID    string
}

// Session holds the editable working set for one transcript. All methods are
// safe for concurrent use; in practice a single reviewer drives it.
type Session struct {
	mu         sync.Mutex
	key        Key
	student    domain.Student
	counsellor domain.Counsellor
	phases     []domain.Phase
	proposals  []domain.Proposal
	editing    domain.ProposalID
	state      State

	manager   *Manager
	snapshots SnapshotStore
	logger    *log.Logger
}

// Manager owns the live review sessions and their snapshot store.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*Session

	snapshots SnapshotStore
	logger    *log.Logger
}

// NewManager creates a session manager over the given snapshot store.
func NewManager(snapshots SnapshotStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		sessions:  make(map[Key]*Session),
		snapshots: snapshots,
		logger:    logger,
	}
}

// Resume returns the live session for key, or rebuilds one from a persisted
// snapshot. The second return is false when no prior session exists, in which
// case the caller should run extraction and call Start. Resuming never
// re-invokes the extraction service.
func (m *Manager) Resume(ctx context.Context, key Key, student domain.Student, counsellor domain.Counsellor, phases []domain.Phase) (*Session, bool, error) {
	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, true, nil
	}
	m.mu.Unlock()

	proposals, ok, err := m.snapshots.Load(ctx, key.StudentID, key.NoteID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	s := m.register(key, student, counsellor, phases, proposals)
	m.logger.WithFields(log.Fields{
		"student_id": key.StudentID,
		"note_id":    key.NoteID,
		"proposals":  len(proposals),
	}).Info("review.session.resumed")
	return s, true, nil
}

// Start opens a fresh session from extraction output. Owners are normalized
// onto the student or counsellor identity, and an empty result set is
// replaced with one blank editable proposal so the reviewer never lands on a
// dead-end screen. The initial working set is snapshotted before the session
// is returned.
func (m *Manager) Start(ctx context.Context, key Key, student domain.Student, counsellor domain.Counsellor, phases []domain.Phase, extracted []domain.Proposal) (*Session, error) {
	proposals := make([]domain.Proposal, 0, len(extracted))
	for _, p := range extracted {
		p.Owner = NormalizeOwner(p.Owner, student.Name, counsellor.Name)
		if p.ID == "" {
			p.ID = domain.ProposalID(uuid.NewString())
		}
		proposals = append(proposals, p)
	}
	if len(proposals) == 0 {
		proposals = append(proposals, blankProposal(phases, counsellor.Name))
	}

	if err := m.snapshots.Save(ctx, key.StudentID, key.NoteID, proposals); err != nil {
		return nil, err
	}

	s := m.register(key, student, counsellor, phases, proposals)
	m.logger.WithFields(log.Fields{
		"student_id": key.StudentID,
		"note_id":    key.NoteID,
		"proposals":  len(proposals),
	}).Info("review.session.started")
	return s, nil
}

func (m *Manager) register(key Key, student domain.Student, counsellor domain.Counsellor, phases []domain.Phase, proposals []domain.Proposal) *Session {
	s := &Session{
		key:        key,
		student:    student,
		counsellor: counsellor,
		phases:     phases,
		proposals:  proposals,
		state:      StateReviewing,
		manager:    m,
		snapshots:  m.snapshots,
		logger:     m.logger,
	}
	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) remove(key Key) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

func blankProposal(phases []domain.Phase, counsellorName string) domain.Proposal {
	p := domain.Proposal{
		ID:       domain.ProposalID(uuid.NewString()),
		Owner:    counsellorName,
		Priority: domain.PriorityMedium,
		IsNew:    true,
	}
	if len(phases) > 0 {
		p.SuggestedPhaseID = phases[0].ID
		p.SuggestedPhaseName = phases[0].Name
	}
	return p
}

// State reports the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EditingID reports which proposal is open for inline editing, if any.
func (s *Session) EditingID() domain.ProposalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Proposals returns a copy of the working set, deleted entries included.
func (s *Session) Proposals() []domain.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Proposal(nil), s.proposals...)
}

// ActiveCount is the number of proposals that are not soft-deleted; it is the
// "count to create" shown to the reviewer.
func (s *Session) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

func (s *Session) activeCountLocked() int {
	n := 0
	for _, p := range s.proposals {
		if !p.IsDeleted {
			n++
		}
	}
	return n
}

func (s *Session) guardMutableLocked() error {
	switch s.state {
	case StateCommitting:
		return ErrSessionBusy
	case StateSucceeded, StateCancelled:
		return ErrSessionClosed
	}
	return nil
}

// Add appends a blank manually-created proposal and opens it for editing.
func (s *Session) Add(ctx context.Context) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardMutableLocked(); err != nil {
		return domain.Proposal{}, err
	}

	p := blankProposal(s.phases, s.counsellor.Name)
	s.proposals = append(s.proposals, p)
	s.editing = p.ID
	return p, s.persistLocked(ctx)
}

// Edit marks the proposal as the one open for inline editing. At most one
// proposal is in edit state at a time.
func (s *Session) Edit(id domain.ProposalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardMutableLocked(); err != nil {
		return err
	}
	if s.indexLocked(id) < 0 {
		return ErrProposalNotFound
	}
	s.editing = id
	return nil
}

// Save merges the patch into the proposal and exits edit state.
func (s *Session) Save(ctx context.Context, id domain.ProposalID, patch domain.ProposalPatch) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardMutableLocked(); err != nil {
		return domain.Proposal{}, err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return domain.Proposal{}, ErrProposalNotFound
	}

	s.proposals[i].Apply(patch)
	if s.editing == id {
		s.editing = ""
	}
	return s.proposals[i], s.persistLocked(ctx)
}

// SoftDelete flags the proposal deleted. The entry stays in the working set
// so it can be restored until the session ends.
func (s *Session) SoftDelete(ctx context.Context, id domain.ProposalID) error {
	return s.setDeleted(ctx, id, true)
}

// Restore clears the deleted flag.
func (s *Session) Restore(ctx context.Context, id domain.ProposalID) error {
	return s.setDeleted(ctx, id, false)
}

func (s *Session) setDeleted(ctx context.Context, id domain.ProposalID, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardMutableLocked(); err != nil {
		return err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return ErrProposalNotFound
	}
	s.proposals[i].IsDeleted = deleted
	if deleted && s.editing == id {
		s.editing = ""
	}
	return s.persistLocked(ctx)
}

func (s *Session) indexLocked(id domain.ProposalID) int {
	for i, p := range s.proposals {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Cancel abandons the session: in-memory state is discarded and the snapshot
// cleared immediately, without waiting for anything in flight.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSucceeded || s.state == StateCancelled {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateCancelled
	s.proposals = nil
	s.editing = ""
	s.mu.Unlock()

	s.manager.remove(s.key)
	if err := s.snapshots.Clear(ctx, s.key.StudentID, s.key.NoteID); err != nil {
		s.logger.WithError(err).Error("review.snapshot.clear_failed")
		return err
	}
	return nil
}

// persistLocked snapshots the full working set. The in-memory mutation stands
// even when the write fails; the caller surfaces the error and the next
// mutation retries the snapshot.
func (s *Session) persistLocked(ctx context.Context) error {
	if err := s.snapshots.Save(ctx, s.key.StudentID, s.key.NoteID, s.proposals); err != nil {
		s.logger.WithFields(log.Fields{
			"student_id": s.key.StudentID,
			"note_id":    s.key.NoteID,
		}).WithError(err).Error("review.snapshot.save_failed")
		return err
	}
	return nil
}

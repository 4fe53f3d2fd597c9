package api

import (
	"context"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// mockStore implements Storage with overridable function fields. Unset
// fetch fields return empty results; unset write fields record nothing.
type mockStore struct {
	fetchStudent  func(ctx context.Context, counsellorID, studentID string) (domain.Student, error)
	fetchTaxonomy func(ctx context.Context) ([]domain.Phase, []domain.Task, error)
	fetchSubtasks func(ctx context.Context, studentID string) ([]domain.Subtask, error)
	fetchNote     func(ctx context.Context, studentID, noteID string) (domain.Note, error)
	fetchNotes    func(ctx context.Context, studentID string) ([]domain.Note, error)

	mu       sync.Mutex
	students []domain.Student
	upserts  []domain.Subtask
	updates  []map[string]any
	notes    []domain.Note
	files    []domain.FileRecord
	events   []domain.UpdateEvent
	marked   []string
}

func (m *mockStore) FetchStudents(context.Context, string) ([]domain.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Student(nil), m.students...), nil
}

func (m *mockStore) FetchStudent(ctx context.Context, counsellorID, studentID string) (domain.Student, error) {
	if m.fetchStudent != nil {
		return m.fetchStudent(ctx, counsellorID, studentID)
	}
	return domain.Student{ID: studentID, Name: "Asha Rao", CounsellorID: counsellorID}, nil
}

func (m *mockStore) CreateStudent(_ context.Context, st domain.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append(m.students, st)
	return nil
}

func (m *mockStore) UpdateStudent(_ context.Context, _, _ string, changes map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, changes)
	return nil
}

func (m *mockStore) FetchCounsellor(_ context.Context, counsellorID string) (domain.Counsellor, error) {
	return domain.Counsellor{ID: counsellorID, Name: "Priya Menon"}, nil
}

func (m *mockStore) FetchTaxonomy(ctx context.Context) ([]domain.Phase, []domain.Task, error) {
	if m.fetchTaxonomy != nil {
		return m.fetchTaxonomy(ctx)
	}
	return []domain.Phase{{ID: "p1", Name: "Applications", Order: 1}},
		[]domain.Task{{ID: "t1", PhaseID: "p1", Name: "Essays", Order: 1}}, nil
}

func (m *mockStore) FetchSubtasks(ctx context.Context, studentID string) ([]domain.Subtask, error) {
	if m.fetchSubtasks != nil {
		return m.fetchSubtasks(ctx, studentID)
	}
	return nil, nil
}

func (m *mockStore) UpsertSubtask(_ context.Context, sub domain.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, sub)
	return nil
}

func (m *mockStore) UpdateSubtask(_ context.Context, _ string, _ domain.SubtaskID, changes map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, changes)
	return nil
}

func (m *mockStore) FetchNotes(ctx context.Context, studentID string) ([]domain.Note, error) {
	if m.fetchNotes != nil {
		return m.fetchNotes(ctx, studentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Note(nil), m.notes...), nil
}

func (m *mockStore) FetchNote(ctx context.Context, studentID, noteID string) (domain.Note, error) {
	if m.fetchNote != nil {
		return m.fetchNote(ctx, studentID, noteID)
	}
	return domain.Note{ID: noteID, StudentID: studentID, Body: "we discussed essays", Type: domain.NoteTypeTranscript}, nil
}

func (m *mockStore) CreateNote(_ context.Context, n domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

func (m *mockStore) MarkTranscriptProcessed(_ context.Context, _, noteID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, noteID+":"+title)
	return nil
}

func (m *mockStore) FetchFiles(context.Context, string) ([]domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.FileRecord(nil), m.files...), nil
}

func (m *mockStore) CreateFileRecord(_ context.Context, f domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, f)
	return nil
}

func (m *mockStore) FetchCalendar(context.Context, string) ([]domain.CalendarEntry, error) {
	return nil, nil
}

func (m *mockStore) PublishEvents(_ context.Context, events []domain.UpdateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *mockStore) Upserts() []domain.Subtask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Subtask(nil), m.upserts...)
}

type mockAuth struct{}

func (mockAuth) CounsellorIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "c1", nil
}

type mockObjects struct {
	keys []string
}

func (m *mockObjects) Upload(_ context.Context, key string, body io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	m.keys = append(m.keys, key)
	return "https://blobs.example/" + key, nil
}

func nullLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

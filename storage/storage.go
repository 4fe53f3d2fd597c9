package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// Tables holds the table names the portal uses.
type Tables struct {
	Students    string
	Counsellors string
	Phases      string
	Tasks       string
	Subtasks    string
	Notes       string
	Files       string
	Calendar    string
}

// tableClient is the subset of *aztables.Client the store needs. Narrowed so
// tests can inject fakes.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// lister produces entity pages for a filter; implemented over the pager so the
// fetch paths stay fakeable.
type lister func(ctx context.Context, table, filter string) ([][]byte, error)

// Store provides access to the portal's tables and the update-event queue.
type Store struct {
	svc         *aztables.ServiceClient
	tables      Tables
	students    tableClient
	counsellors tableClient
	phases      tableClient
	tasks       tableClient
	subtasks    tableClient
	notes       tableClient
	files       tableClient
	calendar    tableClient

	eventQueue       queueClient
	queueConcurrency int

	list lister
}

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// New creates a Store from the given connection string.
func New(connStr string, tables Tables, eventQueue string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}

	s := &Store{
		svc:              svc,
		tables:           tables,
		students:         svc.NewClient(tables.Students),
		counsellors:      svc.NewClient(tables.Counsellors),
		phases:           svc.NewClient(tables.Phases),
		tasks:            svc.NewClient(tables.Tasks),
		subtasks:         svc.NewClient(tables.Subtasks),
		notes:            svc.NewClient(tables.Notes),
		files:            svc.NewClient(tables.Files),
		calendar:         svc.NewClient(tables.Calendar),
		eventQueue:       q,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
	}
	s.list = s.listEntities
	return s, nil
}

func (s *Store) listEntities(ctx context.Context, table, filter string) ([][]byte, error) {
	client := s.svc.NewClient(table)
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := client.NewListEntitiesPager(opts)
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			out = append(out, e)
		}
	}
	return out, nil
}

func partitionFilter(pk string) string {
	return "PartitionKey eq '" + pk + "'"
}

// ---- students ----

type studentEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Email     string `json:"Email"`
	Grade     string `json:"Grade"`
	Target    string `json:"Target"`
	CreatedAt string `json:"CreatedAt"`
}

func decodeStudentEntity(data []byte) (domain.Student, error) {
	var ent studentEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Student{}, err
	}
	created, _ := time.Parse(time.RFC3339, ent.CreatedAt)
	return domain.Student{
		ID:           ent.RowKey,
		Name:         ent.Name,
		Email:        ent.Email,
		Grade:        ent.Grade,
		Target:       ent.Target,
		CounsellorID: ent.PartitionKey,
		CreatedAt:    created,
	}, nil
}

// FetchStudents retrieves every student assigned to the counsellor.
func (s *Store) FetchStudents(ctx context.Context, counsellorID string) ([]domain.Student, error) {
	rows, err := s.list(ctx, s.tables.Students, partitionFilter(counsellorID))
	if err != nil {
		return nil, err
	}
	students := []domain.Student{}
	for _, raw := range rows {
		st, err := decodeStudentEntity(raw)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students, nil
}

// FetchStudent retrieves a single student owned by the counsellor.
func (s *Store) FetchStudent(ctx context.Context, counsellorID, studentID string) (domain.Student, error) {
	resp, err := s.students.GetEntity(ctx, counsellorID, studentID, nil)
	if err != nil {
		return domain.Student{}, err
	}
	return decodeStudentEntity(resp.Value)
}

// CreateStudent inserts a new student row.
func (s *Store) CreateStudent(ctx context.Context, st domain.Student) error {
	ent := studentEntity{
		Entity:    aztables.Entity{PartitionKey: st.CounsellorID, RowKey: st.ID},
		Name:      st.Name,
		Email:     st.Email,
		Grade:     st.Grade,
		Target:    st.Target,
		CreatedAt: st.CreatedAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.students.AddEntity(ctx, payload, nil)
	return err
}

// UpdateStudent merges the changed profile fields into the student row.
func (s *Store) UpdateStudent(ctx context.Context, counsellorID, studentID string, changes map[string]any) error {
	updates := map[string]any{
		"PartitionKey": counsellorID,
		"RowKey":       studentID,
	}
	for k, v := range changes {
		if k == "" {
			continue
		}
		updates[k] = v
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.students.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// ---- counsellors ----

type counsellorEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Email string `json:"Email"`
}

func decodeCounsellorEntity(data []byte) (domain.Counsellor, error) {
	var ent counsellorEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Counsellor{}, err
	}
	return domain.Counsellor{ID: ent.RowKey, Name: ent.Name, Email: ent.Email}, nil
}

// FetchCounsellor retrieves the counsellor profile row.
func (s *Store) FetchCounsellor(ctx context.Context, counsellorID string) (domain.Counsellor, error) {
	resp, err := s.counsellors.GetEntity(ctx, counsellorID, counsellorID, nil)
	if err != nil {
		return domain.Counsellor{}, err
	}
	return decodeCounsellorEntity(resp.Value)
}

// ---- taxonomy ----

type phaseEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Order int    `json:"Order"`
}

type taskEntity struct {
	aztables.Entity
	PhaseID string `json:"PhaseId"`
	Name    string `json:"Name"`
	Order   int    `json:"Order"`
}

const (
	phasePartition = "phase"
	taskPartition  = "task"
)

// FetchTaxonomy retrieves the full phase/task taxonomy, ordered.
func (s *Store) FetchTaxonomy(ctx context.Context) ([]domain.Phase, []domain.Task, error) {
	rows, err := s.list(ctx, s.tables.Phases, partitionFilter(phasePartition))
	if err != nil {
		return nil, nil, err
	}
	phases := []domain.Phase{}
	for _, raw := range rows {
		var ent phaseEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, nil, err
		}
		phases = append(phases, domain.Phase{ID: ent.RowKey, Name: ent.Name, Order: ent.Order})
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].Order < phases[j].Order })

	rows, err = s.list(ctx, s.tables.Tasks, partitionFilter(taskPartition))
	if err != nil {
		return nil, nil, err
	}
	tasks := []domain.Task{}
	for _, raw := range rows {
		var ent taskEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, domain.Task{ID: ent.RowKey, PhaseID: ent.PhaseID, Name: ent.Name, Order: ent.Order})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return phases, tasks, nil
}

// ---- subtasks ----

type subtaskEntity struct {
	aztables.Entity
	TaskID string `json:"TaskId"`
	Name   string `json:"Name"`
	Status string `json:"Status"`
	Remark string `json:"Remark"`
	ETA    string `json:"Eta"`
	Owner  string `json:"Owner"`
}

func decodeSubtaskEntity(data []byte) (domain.Subtask, error) {
	var ent subtaskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Subtask{}, err
	}
	return domain.Subtask{
		ID:        domain.SubtaskID(ent.RowKey),
		StudentID: ent.PartitionKey,
		TaskID:    ent.TaskID,
		Name:      ent.Name,
		Status:    ent.Status,
		Remark:    ent.Remark,
		ETA:       ent.ETA,
		Owner:     ent.Owner,
	}, nil
}

// FetchSubtasks retrieves all subtasks for the student.
func (s *Store) FetchSubtasks(ctx context.Context, studentID string) ([]domain.Subtask, error) {
	rows, err := s.list(ctx, s.tables.Subtasks, partitionFilter(studentID))
	if err != nil {
		return nil, err
	}
	subtasks := []domain.Subtask{}
	for _, raw := range rows {
		st, err := decodeSubtaskEntity(raw)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, nil
}

// FetchSubtask retrieves a single subtask row.
func (s *Store) FetchSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID) (domain.Subtask, error) {
	resp, err := s.subtasks.GetEntity(ctx, studentID, string(subtaskID), nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	return decodeSubtaskEntity(resp.Value)
}

// UpsertSubtask writes the subtask row, replacing any existing row with the
// same key. Commit relies on this: row keys are derived deterministically, so
// a retried commit overwrites instead of duplicating.
func (s *Store) UpsertSubtask(ctx context.Context, sub domain.Subtask) error {
	ent := subtaskEntity{
		Entity: aztables.Entity{PartitionKey: sub.StudentID, RowKey: string(sub.ID)},
		TaskID: sub.TaskID,
		Name:   sub.Name,
		Status: sub.Status,
		Remark: sub.Remark,
		ETA:    sub.ETA,
		Owner:  sub.Owner,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	_, err = s.subtasks.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode})
	return err
}

// UpdateSubtask merges status/remark/eta changes into an existing row.
func (s *Store) UpdateSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID, changes map[string]any) error {
	updates := map[string]any{
		"PartitionKey": studentID,
		"RowKey":       string(subtaskID),
	}
	for k, v := range changes {
		if k == "" {
			continue
		}
		updates[k] = v
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.subtasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// ---- notes ----

type noteEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Body      string `json:"Body"`
	Type      string `json:"Type"`
	Processed bool   `json:"Processed"`
	CreatedAt string `json:"CreatedAt"`
}

func decodeNoteEntity(data []byte) (domain.Note, error) {
	var ent noteEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Note{}, err
	}
	created, _ := time.Parse(time.RFC3339, ent.CreatedAt)
	return domain.Note{
		ID:        ent.RowKey,
		StudentID: ent.PartitionKey,
		Title:     ent.Title,
		Body:      ent.Body,
		Type:      ent.Type,
		Processed: ent.Processed,
		CreatedAt: created,
	}, nil
}

// FetchNotes retrieves all notes and transcripts for the student, newest first.
func (s *Store) FetchNotes(ctx context.Context, studentID string) ([]domain.Note, error) {
	rows, err := s.list(ctx, s.tables.Notes, partitionFilter(studentID))
	if err != nil {
		return nil, err
	}
	notes := []domain.Note{}
	for _, raw := range rows {
		n, err := decodeNoteEntity(raw)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

// FetchNote retrieves one note row.
func (s *Store) FetchNote(ctx context.Context, studentID, noteID string) (domain.Note, error) {
	resp, err := s.notes.GetEntity(ctx, studentID, noteID, nil)
	if err != nil {
		return domain.Note{}, err
	}
	return decodeNoteEntity(resp.Value)
}

// CreateNote inserts a note or transcript row.
func (s *Store) CreateNote(ctx context.Context, n domain.Note) error {
	ent := noteEntity{
		Entity:    aztables.Entity{PartitionKey: n.StudentID, RowKey: n.ID},
		Title:     n.Title,
		Body:      n.Body,
		Type:      n.Type,
		Processed: n.Processed,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.notes.AddEntity(ctx, payload, nil)
	return err
}

// MarkTranscriptProcessed rewrites the transcript's title with the commit
// summary and flags it processed.
func (s *Store) MarkTranscriptProcessed(ctx context.Context, studentID, noteID, title string) error {
	updates := map[string]any{
		"PartitionKey": studentID,
		"RowKey":       noteID,
		"Title":        title,
		"Processed":    true,
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.notes.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// ---- files ----

type fileEntity struct {
	aztables.Entity
	Name       string `json:"Name"`
	BlobKey    string `json:"BlobKey"`
	URL        string `json:"Url"`
	Size       int64  `json:"Size"`
	UploadedAt string `json:"UploadedAt"`
}

func decodeFileEntity(data []byte) (domain.FileRecord, error) {
	var ent fileEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.FileRecord{}, err
	}
	uploaded, _ := time.Parse(time.RFC3339, ent.UploadedAt)
	return domain.FileRecord{
		ID:         ent.RowKey,
		StudentID:  ent.PartitionKey,
		Name:       ent.Name,
		BlobKey:    ent.BlobKey,
		URL:        ent.URL,
		Size:       ent.Size,
		UploadedAt: uploaded,
	}, nil
}

// FetchFiles retrieves the file metadata rows for the student.
func (s *Store) FetchFiles(ctx context.Context, studentID string) ([]domain.FileRecord, error) {
	rows, err := s.list(ctx, s.tables.Files, partitionFilter(studentID))
	if err != nil {
		return nil, err
	}
	files := []domain.FileRecord{}
	for _, raw := range rows {
		f, err := decodeFileEntity(raw)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].UploadedAt.After(files[j].UploadedAt) })
	return files, nil
}

// CreateFileRecord inserts the metadata row for an uploaded object.
func (s *Store) CreateFileRecord(ctx context.Context, f domain.FileRecord) error {
	ent := fileEntity{
		Entity:     aztables.Entity{PartitionKey: f.StudentID, RowKey: f.ID},
		Name:       f.Name,
		BlobKey:    f.BlobKey,
		URL:        f.URL,
		Size:       f.Size,
		UploadedAt: f.UploadedAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.files.AddEntity(ctx, payload, nil)
	return err
}

// ---- calendar read model ----

type calendarEntity struct {
	aztables.Entity
	Date  string `json:"Date"`
	Label string `json:"Label"`
	Owner string `json:"Owner"`
}

func decodeCalendarEntity(data []byte) (domain.CalendarEntry, error) {
	var ent calendarEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.CalendarEntry{}, err
	}
	return domain.CalendarEntry{
		StudentID: ent.PartitionKey,
		SubtaskID: domain.SubtaskID(ent.RowKey),
		Date:      ent.Date,
		Label:     ent.Label,
		Owner:     ent.Owner,
	}, nil
}

// FetchCalendar retrieves the deadline entries for the student, soonest first.
func (s *Store) FetchCalendar(ctx context.Context, studentID string) ([]domain.CalendarEntry, error) {
	rows, err := s.list(ctx, s.tables.Calendar, partitionFilter(studentID))
	if err != nil {
		return nil, err
	}
	entries := []domain.CalendarEntry{}
	for _, raw := range rows {
		e, err := decodeCalendarEntity(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries, nil
}

// UpsertCalendarEntry writes a deadline entry keyed by its subtask.
func (s *Store) UpsertCalendarEntry(ctx context.Context, e domain.CalendarEntry) error {
	ent := calendarEntity{
		Entity: aztables.Entity{PartitionKey: e.StudentID, RowKey: string(e.SubtaskID)},
		Date:   e.Date,
		Label:  e.Label,
		Owner:  e.Owner,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	_, err = s.calendar.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode})
	return err
}

// DeleteCalendarEntry removes the deadline entry for a subtask, if present.
func (s *Store) DeleteCalendarEntry(ctx context.Context, studentID string, subtaskID domain.SubtaskID) error {
	_, err := s.calendar.DeleteEntity(ctx, studentID, string(subtaskID), nil)
	return err
}

// ---- update events ----

// PublishEvents enqueues update events for the read-model updater. Sends run
// with bounded concurrency; the first failure cancels the rest.
func (s *Store) PublishEvents(ctx context.Context, events []domain.UpdateEvent) error {
	if len(events) == 0 {
		return nil
	}
	concurrency := s.queueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(events) {
		concurrency = len(events)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		go func(payload string) {
			defer func() { <-sem }()
			if _, err := s.eventQueue.EnqueueMessage(ctx, payload, nil); err != nil {
				errCh <- err
				cancel()
				return
			}
			errCh <- nil
		}(string(data))
	}

	var firstErr error
	for range events {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("publish events: %w", firstErr)
	}
	return nil
}

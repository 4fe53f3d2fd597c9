// Package extract talks to the two hosted text services: the transcript
// extraction endpoint that turns meeting text into candidate subtasks, and the
// summarization endpoint used for student chat context. Both are opaque
// JSON-over-HTTP boundaries.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

const defaultTimeout = 60 * time.Second

// ErrEmptyTranscript is returned when extraction is requested for a blank
// transcript; the remote service is never called in that case.
var ErrEmptyTranscript = errors.New("transcript text is empty")

// ServiceError reports an error payload returned by the remote service, as
// opposed to a transport failure.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return "extraction service: " + e.Message
}

// Client calls the transcript extraction service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a Client for the given endpoint. A zero timeout falls back to
// the default.
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	TranscriptText string         `json:"transcriptText"`
	Phases         []domain.Phase `json:"phases"`
	Tasks          []domain.Task  `json:"tasks"`
	StudentID      string         `json:"studentId"`
	APIKey         string         `json:"apiKey,omitempty"`
}

type extractedItem struct {
	Description        string `json:"description"`
	SuggestedPhaseID   string `json:"suggestedPhaseId"`
	SuggestedPhaseName string `json:"suggestedPhaseName"`
	SuggestedTaskID    string `json:"suggestedTaskId"`
	SuggestedTaskName  string `json:"suggestedTaskName"`
	Owner              string `json:"owner"`
	DueDate            string `json:"dueDate"`
	Priority           string `json:"priority"`
	Notes              string `json:"notes"`
}

type extractResponse struct {
	ExtractedTasks []extractedItem `json:"extractedTasks"`
	Error          string          `json:"error,omitempty"`
}

// ExtractTasks sends the transcript plus the roadmap taxonomy to the
// extraction service and returns the candidate proposals. The taxonomy is
// included so the service can align action items to existing phase/task slots
// by name. Each returned proposal carries a fresh ID; owners are the raw
// extracted text and still need normalization.
func (c *Client) ExtractTasks(ctx context.Context, transcriptText string, phases []domain.Phase, tasks []domain.Task, studentID string) ([]domain.Proposal, error) {
	if strings.TrimSpace(transcriptText) == "" {
		return nil, ErrEmptyTranscript
	}

	reqBody := extractRequest{
		TranscriptText: transcriptText,
		Phases:         phases,
		Tasks:          tasks,
		StudentID:      studentID,
		APIKey:         c.apiKey,
	}
	payload, err := sonic.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extraction response: %w", err)
	}

	var parsed extractResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("extraction response: %w", err)
	}
	if parsed.Error != "" {
		return nil, &ServiceError{Message: parsed.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	proposals := make([]domain.Proposal, 0, len(parsed.ExtractedTasks))
	for _, item := range parsed.ExtractedTasks {
		priority := item.Priority
		switch priority {
		case domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		default:
			priority = domain.PriorityMedium
		}
		proposals = append(proposals, domain.Proposal{
			ID:                 domain.ProposalID(uuid.NewString()),
			Description:        item.Description,
			SuggestedPhaseID:   item.SuggestedPhaseID,
			SuggestedPhaseName: item.SuggestedPhaseName,
			SuggestedTaskID:    item.SuggestedTaskID,
			SuggestedTaskName:  item.SuggestedTaskName,
			Owner:              item.Owner,
			DueDate:            item.DueDate,
			Priority:           priority,
			Notes:              item.Notes,
		})
	}
	return proposals, nil
}

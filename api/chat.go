package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

type chatRequest struct {
	Prompt    string `json:"prompt"`
	StudentID string `json:"studentId,omitempty"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	StudentContext string `json:"studentContext,omitempty"`
}

// inflightSummaries deduplicates concurrent context-summary calls per
// student: the first request triggers the remote call, later requests for the
// same student wait for that result instead of issuing their own. Requests
// for different students never block each other.
type inflightSummaries struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

type inflightCall struct {
	done    chan struct{}
	summary string
	err     error
}

func newInflightSummaries() *inflightSummaries {
	return &inflightSummaries{calls: make(map[string]*inflightCall)}
}

func (f *inflightSummaries) get(ctx context.Context, studentID string, build func() (string, error)) (string, error) {
	f.mu.Lock()
	if call, ok := f.calls[studentID]; ok {
		f.mu.Unlock()
		select {
		case <-call.done:
			return call.summary, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	f.calls[studentID] = call
	f.mu.Unlock()

	call.summary, call.err = build()

	f.mu.Lock()
	delete(f.calls, studentID)
	f.mu.Unlock()
	close(call.done)

	return call.summary, call.err
}

func postChat(cfg Config, inflight *inflightSummaries) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		var req chatRequest
		if err := decodeBody(c, &req); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Prompt) == "" {
			return jsonError(c, http.StatusBadRequest, "prompt is required")
		}

		studentContext := ""
		if req.StudentID != "" {
			student, err := cfg.Store.FetchStudent(ctx, counsellorID, req.StudentID)
			if err != nil {
				if isNotFound(err) {
					return jsonError(c, http.StatusNotFound, "student not found")
				}
				c.Logger().Error(err)
				return jsonError(c, http.StatusInternalServerError, err.Error())
			}
			studentContext, err = inflight.get(ctx, req.StudentID, func() (string, error) {
				return buildStudentSummary(ctx, cfg, student)
			})
			if err != nil {
				cfg.Logger.WithError(err).WithField("student_id", req.StudentID).Warn("chat.context_summary_failed")
				studentContext = ""
			}
		}

		prompt := req.Prompt
		if studentContext != "" {
			prompt = fmt.Sprintf("Student context:\n%s\n\nQuestion:\n%s", studentContext, req.Prompt)
		}
		reply, err := cfg.Assistant.Summarize(ctx, prompt)
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusBadGateway, "assistant unavailable")
		}

		return c.JSON(http.StatusOK, chatResponse{Reply: reply, StudentContext: studentContext})
	}
}

const maxContextNotes = 5

// buildStudentSummary assembles the student's roadmap state and recent notes
// into a prompt and asks the summarization service to condense it.
func buildStudentSummary(ctx context.Context, cfg Config, student domain.Student) (string, error) {
	subtasks, err := cfg.Store.FetchSubtasks(ctx, student.ID)
	if err != nil {
		return "", err
	}
	notes, err := cfg.Store.FetchNotes(ctx, student.ID)
	if err != nil {
		return "", err
	}
	if len(notes) > maxContextNotes {
		notes = notes[:maxContextNotes]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the current counselling state of %s (grade %s, target %s).\n", student.Name, student.Grade, student.Target)
	b.WriteString("Subtasks:\n")
	for _, sub := range subtasks {
		fmt.Fprintf(&b, "- %s [%s]", sub.Name, sub.Status)
		if sub.ETA != "" {
			fmt.Fprintf(&b, " due %s", sub.ETA)
		}
		if sub.Owner != "" {
			fmt.Fprintf(&b, " owner %s", sub.Owner)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Recent notes:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s: %s\n", n.Title, n.Body)
	}
	return cfg.Summaries.Summarize(ctx, b.String())
}

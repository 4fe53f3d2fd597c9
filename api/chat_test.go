package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

type mockSummarizer struct {
	calls int32
	reply func(prompt string) (string, error)
}

func (m *mockSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.reply != nil {
		return m.reply(prompt)
	}
	return "summary", nil
}

func TestInflightSummariesDeduplicates(t *testing.T) {
	inflight := newInflightSummaries()

	var builds int32
	release := make(chan struct{})
	build := func() (string, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return "shared summary", nil
	}

	const waiters = 5
	var wg sync.WaitGroup
	results := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := inflight.get(context.Background(), "stu-1", build)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = s
		}(i)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("concurrent requests must share one remote call, got %d", got)
	}
	for i, s := range results {
		if s != "shared summary" {
			t.Fatalf("waiter %d got %q", i, s)
		}
	}

	// A later request triggers a fresh call.
	fresh := func() (string, error) { return "fresh", nil }
	if s, err := inflight.get(context.Background(), "stu-1", fresh); err != nil || s != "fresh" {
		t.Fatalf("post-flight get = %q, %v", s, err)
	}
}

func TestInflightSummariesPerStudent(t *testing.T) {
	inflight := newInflightSummaries()

	blockA := make(chan struct{})
	go func() {
		_, _ = inflight.get(context.Background(), "stu-a", func() (string, error) {
			<-blockA
			return "a", nil
		})
	}()

	// A different student must not wait on stu-a's call.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if s, err := inflight.get(context.Background(), "stu-b", func() (string, error) { return "b", nil }); err != nil || s != "b" {
			t.Errorf("stu-b get = %q, %v", s, err)
		}
	}()
	<-done
	close(blockA)
}

func TestPostChatWithStudentContext(t *testing.T) {
	e := echo.New()
	store := &mockStore{}
	summaries := &mockSummarizer{reply: func(string) (string, error) { return "context summary", nil }}
	assistant := &mockSummarizer{reply: func(prompt string) (string, error) {
		if !strings.Contains(prompt, "context summary") {
			t.Errorf("assistant prompt must embed the student context, got %q", prompt)
		}
		return "assistant reply", nil
	}}

	cfg := testConfig(store)
	cfg.Summaries = summaries
	cfg.Assistant = assistant

	body := `{"prompt":"how is the essay going?","studentId":"stu-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postChat(cfg, newInflightSummaries())(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "assistant reply" || resp.StudentContext != "context summary" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPostChatWithoutPrompt(t *testing.T) {
	e := echo.New()
	cfg := testConfig(&mockStore{})
	cfg.Assistant = &mockSummarizer{}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"prompt":"  "}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postChat(cfg, newInflightSummaries())(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

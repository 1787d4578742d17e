package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedCompleter) Name() string {
	return "scripted"
}

func (s *scriptedCompleter) Complete(context.Context, string) (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return reply, err
}

func testClient(completer Completer, attempts int) *Client {
	return NewClient(completer, ClientOptions{
		RequestsPerMinute: 600000,
		Retry:             fastPolicy(attempts),
	}, zerolog.Nop())
}

func TestLabelMegatopicRetriesInvalidJSON(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []string{
		"I cannot answer that",
		"```json\n{\"megatopic_name\":\" Global heatwave \",\"category\":\"World\",\"outliers\":[1]}\n```",
	}}
	label, err := testClient(completer, 3).LabelMegatopic(context.Background(), []string{"Heatwave in Spain", "Football final"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completer.calls != 2 {
		t.Fatalf("unexpected call count: got %d want 2", completer.calls)
	}
	if label.Name != "Global heatwave" || label.Category != "World" {
		t.Fatalf("unexpected label: %+v", label)
	}
	if !reflect.DeepEqual(label.Outliers, []int{1}) {
		t.Fatalf("unexpected outliers: %v", label.Outliers)
	}
}

func TestLabelTopicExhaustsAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream down")
	completer := &scriptedCompleter{errs: []error{boom, boom, boom}}
	_, err := testClient(completer, 3).LabelTopic(context.Background(), []string{"a", "b"})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected error: got %v want %v", err, boom)
	}
	if completer.calls != 3 {
		t.Fatalf("unexpected call count: got %d want 3", completer.calls)
	}
}

func TestLabelTopicStances(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []string{
		`{"topic_name":"Rate decision","keywords":["fed"],"stances":{"factual":[0],"critical":[1]},"outliers":[2]}`,
	}}
	label, err := testClient(completer, 1).LabelTopic(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(label.Stances.Critical, []int{1}) || !reflect.DeepEqual(label.Outliers, []int{2}) {
		t.Fatalf("unexpected label: %+v", label)
	}
}

func TestOpenAICompleterAgainstServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"test","choices":[{"index":0,"message":{"role":"assistant","content":"{\"title\":\"Hello world\"}"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	completer, err := NewOpenAI("test-key", server.URL, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := testClient(completer, 3).Translate(context.Background(), "Hallo Welt", "", "de", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Title != "Hello world" {
		t.Fatalf("unexpected title: got %q want %q", out.Title, "Hello world")
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("unexpected request count: got %d want 2", got)
	}
}

func TestNewCompleterRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, _, err := NewCompleter(context.Background(), Config{Provider: "claude"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

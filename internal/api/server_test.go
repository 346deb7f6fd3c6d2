package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/narvanalabs/formlog/internal/models"
	"github.com/narvanalabs/formlog/internal/page"
	"github.com/narvanalabs/formlog/internal/recorder"
	"github.com/narvanalabs/formlog/internal/sink"
	"github.com/narvanalabs/formlog/internal/stream"
	"github.com/narvanalabs/formlog/pkg/config"
)

var lineRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},1,2\n$`)

type testEnv struct {
	server  *httptest.Server
	logPath string
	broker  *stream.Broker
}

func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...recorder.Option) *testEnv {
	t.Helper()

	cfg := config.LoadWithDefaults()
	cfg.LogPath = filepath.Join(t.TempDir(), "log.csv")
	cfg.StreamEnabled = true
	if mutate != nil {
		mutate(cfg)
	}

	fileSink := sink.NewFileSink(cfg.LogPath)
	broker := stream.NewBroker(nil)
	opts = append([]recorder.Option{recorder.WithPublisher(broker)}, opts...)
	rec := recorder.New(fileSink, opts...)

	srv := NewServer(cfg, fileSink, rec, broker, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		broker.Close()
		ts.Close()
	})

	return &testEnv{server: ts, logPath: cfg.LogPath, broker: broker}
}

func (e *testEnv) readLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.logPath)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	return string(data)
}

func (e *testEnv) postForm(t *testing.T, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/post_handler", "application/x-www-form-urlencoded", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestEndToEndSubmission(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) }
	env := newTestEnv(t, nil, recorder.WithClock(clock))

	status, body := env.postForm(t, "name=Alice&note=hello")

	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if !strings.Contains(body, page.Prompt) {
		t.Errorf("response missing prompt text:\n%s", body)
	}
	if got := env.readLog(t); got != "2024-01-01 00:00:00,Alice,hello\n" {
		t.Errorf("unexpected log contents %q", got)
	}
}

func TestPostAppendsMatchingLine(t *testing.T) {
	env := newTestEnv(t, nil)

	env.postForm(t, "a=1&b=2")

	if got := env.readLog(t); !lineRe.MatchString(got) {
		t.Errorf("log %q does not match %s", got, lineRe)
	}
}

func TestEmptyPostDoesNotLog(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.postForm(t, "")

	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if strings.Contains(body, "<h2>Submitted</h2>") {
		t.Error("confirmation shown without a submission")
	}
	if got := env.readLog(t); got != "" {
		t.Errorf("expected no log lines, got %q", got)
	}
}

func TestGetDoesNotLog(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/post_handler?a=1", strings.NewReader("a=1&b=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected text/html, got %q", ct)
	}
	if !strings.Contains(string(body), `<form action="/post_handler" method="POST">`) {
		t.Errorf("page missing self-targeting form:\n%s", body)
	}
	if got := env.readLog(t); got != "" {
		t.Errorf("expected no log lines, got %q", got)
	}
}

func TestConfirmationHeading(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, func(c *config.Config) { c.EmitConfirmation = true })
		_, body := env.postForm(t, "a=1")
		if !strings.HasPrefix(body, "<h2>Submitted</h2>") {
			t.Errorf("expected leading confirmation heading:\n%s", body)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, func(c *config.Config) { c.EmitConfirmation = false })
		_, body := env.postForm(t, "a=1")
		if strings.Contains(body, "Submitted") {
			t.Errorf("unexpected confirmation heading:\n%s", body)
		}
		if env.readLog(t) == "" {
			t.Error("line should still be logged")
		}
	})
}

func TestCommaValueWrittenVerbatim(t *testing.T) {
	env := newTestEnv(t, nil)

	env.postForm(t, "v="+url.QueryEscape("x,y"))

	got := strings.TrimSuffix(env.readLog(t), "\n")
	if !strings.HasSuffix(got, ",x,y") {
		t.Errorf("expected unescaped value, got %q", got)
	}
	if cols := len(strings.Split(got, ",")); cols != 3 {
		t.Errorf("expected 3 columns, got %d", cols)
	}
}

func TestHardenedEncoding(t *testing.T) {
	env := newTestEnv(t, nil, recorder.WithEncoder(models.Encoder{Encoding: models.EncodingRFC4180}))

	env.postForm(t, "v="+url.QueryEscape("x,y"))

	if got := env.readLog(t); !strings.HasSuffix(got, ",\"x,y\"\n") {
		t.Errorf("expected quoted value, got %q", got)
	}
}

func TestIdenticalSubmissionsAppendTwice(t *testing.T) {
	env := newTestEnv(t, nil)

	env.postForm(t, "a=1&b=2")
	env.postForm(t, "a=1&b=2")

	lines := strings.Split(strings.TrimSuffix(env.readLog(t), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if !lineRe.MatchString(l + "\n") {
			t.Errorf("line %q does not match %s", l, lineRe)
		}
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	env := newTestEnv(t, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(env.server.URL+"/post_handler", "application/x-www-form-urlencoded",
				strings.NewReader(fmt.Sprintf("v=%d", i)))
			if err != nil {
				t.Errorf("POST %d: %v", i, err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(env.readLog(t), "\n"), "\n")
	if len(lines) != n {
		t.Errorf("expected %d lines, got %d", n, len(lines))
	}
}

func TestWriteFailureStillReturnsPage(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.LogPath = filepath.Join(os.TempDir(), "formlog-missing-dir", "nested", "log.csv")
	})

	status, body := env.postForm(t, "a=1")

	if status != http.StatusOK {
		t.Errorf("expected 200 despite the write failure, got %d", status)
	}
	if !strings.Contains(body, page.Prompt) {
		t.Errorf("expected the static page:\n%s", body)
	}
}

func TestOversizedBodyIsNotLogged(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxBodyBytes = 16 })

	status, _ := env.postForm(t, "a="+strings.Repeat("x", 64))

	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if got := env.readLog(t); got != "" {
		t.Errorf("expected no log lines, got %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStreamReceivesRecordedLine(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) }
	env := newTestEnv(t, nil, recorder.WithClock(clock))

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	defer conn.Close()

	// Wait for the handler to subscribe before submitting.
	deadline := time.Now().Add(2 * time.Second)
	for env.broker.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream viewer never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.postForm(t, "name=Alice&note=hello")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(msg) != "2024-01-01 00:00:00,Alice,hello" {
		t.Errorf("unexpected streamed line %q", msg)
	}
}

func TestStreamDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.StreamEnabled = false })

	resp, err := http.Get(env.server.URL + "/stream")
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with streaming disabled, got %d", resp.StatusCode)
	}
}

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	cfhttp "github.com/Strob0t/stratos/internal/adapter/http"
	"github.com/Strob0t/stratos/internal/adapter/filestore"
	"github.com/Strob0t/stratos/internal/adapter/sqlite"
	"github.com/Strob0t/stratos/internal/domain/command"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/middleware"
	"github.com/Strob0t/stratos/internal/procpool"
	"github.com/Strob0t/stratos/internal/service"
)

type testEnv struct {
	srv    *httptest.Server
	health map[string]func(context.Context) error
}

func newTestEnv(t *testing.T, limiter *middleware.RateLimiter) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := sqlite.Open(ctx, filepath.Join(dir, "stratos.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := filestore.New(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}

	hub := service.NewHub()
	runner, err := service.NewRunner(service.RunnerConfig{OutputDir: filepath.Join(dir, "outputs")}, store, blobs, nil, hub)
	if err != nil {
		t.Fatal(err)
	}
	queue := service.NewQueue(ctx, runner, 3)
	t.Cleanup(queue.Wait)

	resolver := command.NewResolver(command.Builtins(), command.AICommands(command.AITools{}), store)
	env := &testEnv{health: map[string]func(context.Context) error{"store": store.Ping}}
	h := &cfhttp.Handlers{
		Tasks:    service.NewTaskService(service.TaskServiceConfig{MaxPageSize: 50}, store, resolver, queue, runner),
		Files:    service.NewFileService(service.FileServiceConfig{}, store, blobs),
		Streams:  service.NewStreamService(store, hub, 50*time.Millisecond),
		Previews: service.NewPreviewService(service.PreviewConfig{}, store, nil, procpool.New(1)),
		Health:   env.health,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	cfhttp.MountRoutes(r, h, limiter)
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, owner string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, owner, body, "application/json")
}

func (e *testEnv) upload(t *testing.T, owner, name, content string) file.File {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()

	resp := e.do(t, http.MethodPost, "/api/v1/files", owner, &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	return decode[file.File](t, resp)
}

func (e *testEnv) submit(t *testing.T, owner, cmd string) task.Task {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/tasks", owner, map[string]string{"command": cmd})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	return decode[task.Task](t, resp)
}

func (e *testEnv) waitTerminal(t *testing.T, id string) service.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := decode[service.TaskStatus](t, e.do(t, http.MethodGet, "/api/v1/tasks/"+id+"/status", "", nil, ""))
		if st.Status.IsTerminal() {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return service.TaskStatus{}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

type taskDetailBody struct {
	task.Task
	Files []struct {
		Name        string `json:"filename"`
		DownloadURL string `json:"download_url"`
	} `json:"files"`
}

type commandsBody struct {
	Builtin []command.Definition `json:"builtin"`
	AI      []command.Definition `json:"ai"`
}

type healthBody struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Missing []string `json:"missing"`
}

func TestUploadSubmitAndDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "notes.txt", "hello")
	if f.Owner != "alice" || f.Name != "notes.txt" || f.Size != 5 {
		t.Fatalf("file = %+v", f)
	}

	created := env.submit(t, "alice", "cp "+f.ID+" copy.txt")
	if created.Status != task.StatusPending || created.Owner != "alice" {
		t.Fatalf("task = %+v", created)
	}
	if st := env.waitTerminal(t, created.ID); st.Status != task.StatusCompleted {
		t.Fatalf("status = %+v", st)
	}

	detail := decode[taskDetailBody](t, env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, "", nil, ""))
	if len(detail.Files) != 1 || detail.Files[0].Name != "copy.txt" {
		t.Fatalf("files = %+v", detail.Files)
	}

	resp := env.do(t, http.MethodGet, detail.Files[0].DownloadURL, "", nil, "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "hello" {
		t.Fatalf("download = %d %q", resp.StatusCode, body)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "copy.txt") {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}

	resp = env.do(t, http.MethodGet, "/api/v1/files/"+f.ID+"/content", "", nil, "")
	body, _ = io.ReadAll(resp.Body)
	if string(body) != "hello" || resp.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("file content = %q (%s)", body, resp.Header.Get("Content-Type"))
	}
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	missing := uuid.NewString()

	tests := []struct {
		name    string
		payload any
		code    string
	}{
		{"empty command", map[string]string{"command": ""}, ""},
		{"no file reference", map[string]string{"command": "ls -la"}, string(command.CodeNoFileReference)},
		{"unknown file", map[string]string{"command": "cp " + missing + " out"}, string(command.CodeUnresolvedReference)},
		{"unknown builtin", map[string]string{"command": "/nope " + missing}, string(command.CodeUnknownCommand)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.doJSON(t, http.MethodPost, "/api/v1/tasks", "alice", tt.payload)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if got := decode[errorBody](t, resp); got.Code != tt.code {
				t.Errorf("code = %q, want %q (%s)", got.Code, tt.code, got.Error)
			}
		})
	}

	resp := env.do(t, http.MethodPost, "/api/v1/tasks", "alice", strings.NewReader("{"), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

func TestUnresolvedReferenceListsMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	missing := uuid.NewString()

	resp := env.doJSON(t, http.MethodPost, "/api/v1/tasks", "alice", map[string]string{"command": "cat " + missing})
	got := decode[errorBody](t, resp)
	if len(got.Missing) != 1 || got.Missing[0] != missing {
		t.Fatalf("missing = %v", got.Missing)
	}
}

func TestTaskLookupErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/v1/tasks/not-a-uuid", "/api/v1/tasks/not-a-uuid/status", "/api/v1/tasks/not-a-uuid/progress"} {
		if resp := env.do(t, http.MethodGet, path, "", nil, ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, resp.StatusCode)
		}
	}
	unknown := uuid.NewString()
	for _, path := range []string{"/api/v1/tasks/" + unknown, "/api/v1/tasks/" + unknown + "/progress", "/api/v1/tasks/" + unknown + "/preview"} {
		if resp := env.do(t, http.MethodGet, path, "", nil, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestProgressStreamOfFinishedTask(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "a.txt", "x")
	created := env.submit(t, "alice", "cp "+f.ID+" b.txt")
	env.waitTerminal(t, created.ID)

	resp := env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID+"/progress", "", nil, "")
	body, _ := io.ReadAll(resp.Body)
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if string(body) != "event: progress\ndata: 1\n\n" {
		t.Errorf("body = %q", body)
	}
}

func TestProgressStreamEndsWhenTaskFinishes(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "a.txt", "x")
	created := env.submit(t, "alice", "sleep 0.3; cp "+f.ID+" b.txt")

	resp := env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID+"/progress", "", nil, "")
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	if !strings.HasSuffix(text, "event: progress\ndata: 1\n\n") {
		t.Fatalf("stream did not end with final progress: %q", text)
	}
	if !strings.HasPrefix(text, "event: heartbeat\n") && !strings.HasPrefix(text, "event: progress\n") {
		t.Errorf("unexpected first event: %q", text)
	}
}

func TestListTasksScopedToOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "a.txt", "x")
	for range 3 {
		env.waitTerminal(t, env.submit(t, "alice", "cp "+f.ID+" out.txt").ID)
	}
	env.waitTerminal(t, env.submit(t, "bob", "cp "+f.ID+" out.txt").ID)

	page := decode[task.Page](t, env.do(t, http.MethodGet, "/api/v1/tasks?limit=2", "alice", nil, ""))
	if len(page.Items) != 2 || !page.HasMore || page.NextCursor == "" {
		t.Fatalf("page 1 = %+v", page)
	}
	page = decode[task.Page](t, env.do(t, http.MethodGet, "/api/v1/tasks?limit=2&cursor="+page.NextCursor, "alice", nil, ""))
	if len(page.Items) != 1 || page.HasMore {
		t.Fatalf("page 2 = %+v", page)
	}
	for _, it := range page.Items {
		if it.Owner != "alice" {
			t.Errorf("foreign task listed: %+v", it)
		}
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/tasks?cursor=garbage", "alice", nil, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d", resp.StatusCode)
	}
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "a.txt", "x")
	created := env.submit(t, "alice", "cp "+f.ID+" out.txt")
	env.waitTerminal(t, created.ID)

	if resp := env.do(t, http.MethodDelete, "/api/v1/tasks/"+created.ID, "", nil, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/api/v1/tasks/"+created.ID, "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete = %d", resp.StatusCode)
	}
}

func TestPreviewInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "a.txt", "x")
	created := env.submit(t, "alice", "cp "+f.ID+" out.txt")
	env.waitTerminal(t, created.ID)

	info := decode[service.PreviewInfo](t, env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID+"/preview", "", nil, ""))
	if info.Available || info.OriginalPath == "" {
		t.Fatalf("info = %+v", info)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID+"/preview?download=1", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("download without preview = %d", resp.StatusCode)
	}
}

func TestFileEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.upload(t, "alice", "clip.mp4", "frames")
	env.upload(t, "bob", "other.mp4", "frames")

	page := decode[file.Page](t, env.do(t, http.MethodGet, "/api/v1/files", "alice", nil, ""))
	if len(page.Items) != 1 || page.Items[0].ID != f.ID {
		t.Fatalf("alice's files = %+v", page.Items)
	}

	got := decode[file.File](t, env.do(t, http.MethodGet, "/api/v1/files/"+f.ID, "", nil, ""))
	if got.MimeType != "video/mp4" {
		t.Errorf("file = %+v", got)
	}

	resp := env.doJSON(t, http.MethodPatch, "/api/v1/files/"+f.ID+"/expiry", "", map[string]int{"hours": 48})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extend = %d", resp.StatusCode)
	}
	if ext := decode[file.File](t, resp); !ext.ExpiresAt.After(f.ExpiresAt) {
		t.Errorf("expires_at not extended: %v -> %v", f.ExpiresAt, ext.ExpiresAt)
	}
	if resp := env.doJSON(t, http.MethodPatch, "/api/v1/files/"+f.ID+"/expiry", "", map[string]int{"hours": 0}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("extend 0h = %d", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodDelete, "/api/v1/files/"+f.ID, "", nil, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/files/"+f.ID+"/content", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("content after delete = %d", resp.StatusCode)
	}
}

func TestUploadRequiresMultipartFile(t *testing.T) {
	env := newTestEnv(t, nil)
	if resp := env.do(t, http.MethodPost, "/api/v1/files", "", strings.NewReader("raw"), "text/plain"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart = %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()
	if resp := env.do(t, http.MethodPost, "/api/v1/files", "", &buf, mw.FormDataContentType()); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing file field = %d", resp.StatusCode)
	}
}

func TestCommandEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	all := decode[commandsBody](t, env.do(t, http.MethodGet, "/api/v1/commands", "", nil, ""))
	if len(all.Builtin) == 0 || len(all.AI) == 0 {
		t.Fatalf("commands = %+v", all)
	}

	def := decode[command.Definition](t, env.do(t, http.MethodGet, "/api/v1/commands/extract-audio", "", nil, ""))
	if def.Name != "extract-audio" || len(def.Options) == 0 {
		t.Errorf("definition = %+v", def)
	}
	ai := decode[[]command.Definition](t, env.do(t, http.MethodGet, "/api/v1/commands/ai", "", nil, ""))
	if len(ai) != len(all.AI) {
		t.Errorf("ai commands = %d, want %d", len(ai), len(all.AI))
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/commands/nope", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown command = %d", resp.StatusCode)
	}
}

func TestQueueStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	stats := decode[service.QueueStats](t, env.do(t, http.MethodGet, "/api/v1/queue/stats", "", nil, ""))
	if stats.MaxConcurrent != 3 || stats.Running != 0 {
		t.Errorf("stats = %+v", stats)
	}

	if resp := env.do(t, http.MethodGet, "/health", "", nil, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, nil)
	env.health["nats"] = func(context.Context) error { return errors.New("disconnected") }

	resp := env.do(t, http.MethodGet, "/health", "", nil, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded health = %d", resp.StatusCode)
	}
	body := decode[healthBody](t, resp)
	if body.Status != "degraded" || body.Components["nats"] != "disconnected" || body.Components["store"] != "ok" {
		t.Errorf("health body = %+v", body)
	}
}

func TestSubmitRateLimitedPerOwner(t *testing.T) {
	env := newTestEnv(t, middleware.NewRateLimiter(0.001, 1))
	f := env.upload(t, "alice", "a.txt", "x")

	env.submit(t, "alice", "cp "+f.ID+" out.txt")
	resp := env.doJSON(t, http.MethodPost, "/api/v1/tasks", "alice", map[string]string{"command": "cp " + f.ID + " out.txt"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second submit = %d, want 429", resp.StatusCode)
	}
	env.submit(t, "bob", "cp "+f.ID+" out.txt")
}

package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/assetpipe/internal/build"
	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/dev"
	"github.com/vango-dev/assetpipe/internal/errors"
)

type fakeBuilder struct {
	mu       sync.Mutex
	cleanErr error
	fail     map[config.AssetKind]error
	ran      []string
}

func (f *fakeBuilder) Clean() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, TaskClean)
	return f.cleanErr
}

func (f *fakeBuilder) Run(ctx context.Context, kind config.AssetKind) (*build.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, string(kind))
	return &build.Result{Kind: kind}, f.fail[kind]
}

func (f *fakeBuilder) setFail(kind config.AssetKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[config.AssetKind]error)
	}
	f.fail[kind] = err
}

func (f *fakeBuilder) tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	success  []string
	failures []string
	errs     []error
}

func (r *recordingNotifier) Success(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, message)
}

func (r *recordingNotifier) Failure(task string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, task)
	r.errs = append(r.errs, err)
}

type recordingObserver struct {
	mu    sync.Mutex
	tasks map[string]bool
}

func (r *recordingObserver) ObserveTask(task string, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks == nil {
		r.tasks = make(map[string]bool)
	}
	r.tasks[task] = err == nil
}

func TestBuildAll(t *testing.T) {
	fb := &fakeBuilder{}
	notifier := &recordingNotifier{}
	obs := &recordingObserver{}
	p := New(config.New(), Options{Builder: fb, Notifier: notifier, Observer: obs})

	report, err := p.BuildAll(context.Background())
	if err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if report.RunID == "" {
		t.Error("RunID should be set")
	}
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %v", report.Failed)
	}

	ran := fb.tasks()
	if ran[0] != TaskClean {
		t.Errorf("first task = %q, want clean", ran[0])
	}
	if len(ran) != 1+len(config.Kinds) {
		t.Errorf("ran %v", ran)
	}

	sort.Strings(notifier.success)
	if strings.Join(notifier.success, ",") != "scripts compiled,styles compiled" {
		t.Errorf("success notifications = %v", notifier.success)
	}
	if len(obs.tasks) != 1+len(config.Kinds) {
		t.Errorf("observed %v", obs.tasks)
	}
}

func TestBuildAll_TaskFailureDoesNotBlockOthers(t *testing.T) {
	fb := &fakeBuilder{fail: map[config.AssetKind]error{
		config.KindStyles: stderrors.New("undefined variable"),
		config.KindImages: stderrors.New("corrupt jpeg"),
	}}
	notifier := &recordingNotifier{}
	p := New(config.New(), Options{Builder: fb, Notifier: notifier})

	report, err := p.BuildAll(context.Background())
	if err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if strings.Join(report.Failed, ",") != "styles,images" {
		t.Errorf("Failed = %v, want styles,images", report.Failed)
	}
	if len(fb.tasks()) != 1+len(config.Kinds) {
		t.Errorf("every task should run, ran %v", fb.tasks())
	}
	// Images failures are logged, not notified.
	if strings.Join(notifier.failures, ",") != "styles" {
		t.Errorf("failure notifications = %v", notifier.failures)
	}
}

func TestBuildAll_UncodedErrorsGetKindCode(t *testing.T) {
	cause := stderrors.New("undefined variable")
	fb := &fakeBuilder{fail: map[config.AssetKind]error{
		config.KindStyles:  cause,
		config.KindScripts: errors.New("E103").WithDetail("unknown script target"),
	}}
	notifier := &recordingNotifier{}
	p := New(config.New(), Options{Builder: fb, Notifier: notifier})

	if _, err := p.BuildAll(context.Background()); err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if len(notifier.errs) != 2 {
		t.Fatalf("failure notifications = %v", notifier.failures)
	}
	for i, task := range notifier.failures {
		err := notifier.errs[i]
		var pe *errors.PipelineError
		if !stderrors.As(err, &pe) {
			t.Fatalf("%s error %v is not coded", task, err)
		}
		switch task {
		case "styles":
			if pe.Code != "E110" || !stderrors.Is(err, cause) {
				t.Errorf("styles error = %v, want E110 wrapping the cause", err)
			}
		case "scripts":
			if pe.Code != "E103" {
				t.Errorf("scripts error = %v, coded errors must keep their code", err)
			}
		}
	}
}

func TestBuildAll_CleanFailureSkipsBuild(t *testing.T) {
	fb := &fakeBuilder{cleanErr: stderrors.New("E102: unsafe clean target")}
	p := New(config.New(), Options{Builder: fb})

	report, err := p.BuildAll(context.Background())
	if err == nil {
		t.Fatal("BuildAll() should fail when clean fails")
	}
	if len(fb.tasks()) != 1 {
		t.Errorf("ran %v, want only clean", fb.tasks())
	}
	for _, kind := range config.Kinds {
		if got := report.Result.States[string(kind)]; got != "skipped" {
			t.Errorf("%s state = %q, want skipped", kind, got)
		}
	}
}

func TestRebuild(t *testing.T) {
	fb := &fakeBuilder{fail: map[config.AssetKind]error{config.KindScripts: stderrors.New("syntax error")}}
	notifier := &recordingNotifier{}
	obs := &recordingObserver{}
	p := New(config.New(), Options{Builder: fb, Notifier: notifier, Observer: obs})

	if err := p.Rebuild(context.Background(), config.KindStyles); err != nil {
		t.Fatalf("Rebuild(styles) error = %v", err)
	}
	if err := p.Rebuild(context.Background(), config.KindScripts); err == nil {
		t.Fatal("Rebuild(scripts) should fail")
	}

	if strings.Join(fb.tasks(), ",") != "styles,scripts" {
		t.Errorf("ran %v; Rebuild must not clean", fb.tasks())
	}
	if strings.Join(notifier.success, ",") != "styles compiled" {
		t.Errorf("success = %v", notifier.success)
	}
	if strings.Join(notifier.failures, ",") != "scripts" {
		t.Errorf("failures = %v", notifier.failures)
	}
	if !obs.tasks["styles"] || obs.tasks["scripts"] {
		t.Errorf("observed = %v", obs.tasks)
	}
}

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.SetDir(t.TempDir())
	cfg.Dev.Host = "127.0.0.1"
	cfg.Dev.Port = 0
	return cfg
}

func TestDev_MissingSourceRoot(t *testing.T) {
	cfg := devConfig(t)
	fb := &fakeBuilder{}
	p := New(cfg, Options{Builder: fb})

	err := p.Dev(context.Background(), DevOptions{})
	if err == nil || !strings.Contains(err.Error(), "E101") {
		t.Fatalf("Dev() error = %v, want E101", err)
	}
	if len(fb.tasks()) != 0 {
		t.Errorf("no task should run, ran %v", fb.tasks())
	}
}

func TestDev_BuildsThenServes(t *testing.T) {
	cfg := devConfig(t)
	if err := os.MkdirAll(filepath.Join(cfg.Dir(), "src", "scss"), 0755); err != nil {
		t.Fatal(err)
	}

	fb := &fakeBuilder{}
	p := New(cfg, Options{Builder: fb})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Dev(ctx, DevOptions{OpenBrowser: func(url string) { opened <- url }})
	}()

	select {
	case url := <-opened:
		if !strings.HasPrefix(url, "http://127.0.0.1:") {
			t.Errorf("opened %q", url)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never started")
	}

	// serve only starts after every build task finished.
	if len(fb.tasks()) != 1+len(config.Kinds) {
		t.Errorf("ran %v before serving", fb.tasks())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Dev() error = %v after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Dev() did not return after cancel")
	}
}

type reloadRecorder struct {
	mu      sync.Mutex
	types   []string
	clients int
}

func (r *reloadRecorder) ObserveReload(msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, msgType)
}

func (r *reloadRecorder) SetReloadClients(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = n
}

func (r *reloadRecorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...), r.clients
}

func (r *reloadRecorder) saw(msgType string) bool {
	types, _ := r.snapshot()
	return slices.Contains(types, msgType)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDev_WatchRebuildsChangedKindOnly(t *testing.T) {
	cfg := devConfig(t)
	cfg.Dev.Delay = "50ms"
	dir := cfg.Dir()
	for _, d := range []string{"src/scss", "src/js", "dist/css"} {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(d)), 0755); err != nil {
			t.Fatal(err)
		}
	}
	// fakeBuilder.Clean leaves dist alone, so this stands in for the last
	// good stylesheet.
	if err := os.WriteFile(filepath.Join(dir, "dist", "css", "a.css"), []byte(".a{color:red}"), 0644); err != nil {
		t.Fatal(err)
	}

	fb := &fakeBuilder{}
	obs := &reloadRecorder{}
	p := New(cfg, Options{Builder: fb})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Dev(ctx, DevOptions{
			ReloadObserver: obs,
			OpenBrowser:    func(url string) { opened <- url },
		})
	}()

	var base string
	select {
	case base = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("server never started")
	}
	initial := len(fb.tasks())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+dev.ReloadPath, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	frames := make(chan dev.ReloadMessage, 16)
	go func() {
		defer close(frames)
		for {
			var msg dev.ReloadMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			frames <- msg
		}
	}()
	waitFor(t, "browser to connect", func() bool {
		_, n := obs.snapshot()
		return n == 1
	})

	// One script edit: one scripts rebuild, one reload.
	if err := os.WriteFile(filepath.Join(dir, "src", "js", "application.js"), []byte("console.log(1)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reload broadcast", func() bool { return obs.saw("reload") })
	// Several settle delays: a duplicate rebuild would show up here.
	time.Sleep(300 * time.Millisecond)

	if got := fb.tasks()[initial:]; strings.Join(got, ",") != "scripts" {
		t.Errorf("rebuilt %v, want only scripts", got)
	}
	if types, _ := obs.snapshot(); strings.Join(types, ",") != "clear,reload" {
		t.Errorf("broadcasts = %v, want clear,reload", types)
	}
	reloads := 0
	for len(frames) > 0 {
		if msg := <-frames; msg.Type == dev.ReloadTypeFull {
			reloads++
		}
	}
	if reloads != 1 {
		t.Errorf("browser got %d reload frames, want 1", reloads)
	}

	// A broken stylesheet keeps the server up and the last output served.
	fb.setFail(config.KindStyles, errors.New("E110").WithDetail("a.scss: Undefined variable."))
	if err := os.WriteFile(filepath.Join(dir, "src", "scss", "a.scss"), []byte(".a { color: $oops; }"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error broadcast", func() bool { return obs.saw("error") })

	resp, err := http.Get(base + "/css/a.css")
	if err != nil {
		t.Fatalf("GET a.css error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != ".a{color:red}" {
		t.Errorf("GET a.css = %d %q, want the previous stylesheet", resp.StatusCode, body)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dev() returned %v after a failed rebuild", err)
	default:
	}

	// Fixing the file recovers without a restart.
	fb.setFail(config.KindStyles, nil)
	if err := os.WriteFile(filepath.Join(dir, "src", "scss", "a.scss"), []byte(".a { color: blue; }"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "css broadcast", func() bool { return obs.saw("css") })

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Dev() error = %v after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Dev() did not return after cancel")
	}
}

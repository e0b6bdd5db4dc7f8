package reload

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rekindle/internal/config"
	"rekindle/internal/vmservice"
)

// fakeTransport scripts the reload service. Errors fire once and are
// then cleared so the next call behaves normally.
type fakeTransport struct {
	mu          sync.Mutex
	isolates    []vmservice.Isolate
	listErr     error
	reloadErr   error
	result      vmservice.ReloadResult
	listCalls   int
	reloadCalls int
	closed      bool
}

func (f *fakeTransport) ListIsolates() ([]vmservice.Isolate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		err := f.listErr
		f.listErr = nil
		return nil, err
	}
	return f.isolates, nil
}

func (f *fakeTransport) ReloadSources(isolateID string) (vmservice.ReloadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadCalls++
	if f.reloadErr != nil {
		err := f.reloadErr
		f.reloadErr = nil
		return vmservice.ReloadResult{}, err
	}
	return f.result, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadCalls
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func healthyTransport() *fakeTransport {
	return &fakeTransport{
		isolates: []vmservice.Isolate{{ID: "isolates/1", Name: "main"}},
		result:   vmservice.ReloadResult{Success: true},
	}
}

// dialer returns a Dial function handing out the given transports in
// order and counting calls.
type dialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      int
}

func (d *dialer) dial(string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.transports) {
		panic("dial called more times than transports provided")
	}
	transport := d.transports[d.calls]
	d.calls++
	return transport, nil
}

func (d *dialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testSettings(debounce time.Duration) config.Settings {
	settings := config.Settings{
		ServiceURL: "ws://localhost:8181/ws",
		Debounce:   debounce,
	}
	return settings
}

func newTestCoordinator(t *testing.T, debounce time.Duration, watch *fakeWatch, dial *dialer) *Coordinator {
	t.Helper()
	coordinator, err := New(Options{
		Settings: testSettings(debounce),
		Watch:    watch,
		Dial:     dial.dial,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Terminate() })
	return coordinator
}

func TestNewRejectsUnsupportedServiceURL(t *testing.T) {
	for _, serviceURL := range []string{"", "http://localhost:8181/ws", "ws://", ":/bad"} {
		_, err := New(Options{Settings: config.Settings{ServiceURL: serviceURL}})
		if !errors.Is(err, ErrHotReloadUnsupported) {
			t.Fatalf("url %q: expected ErrHotReloadUnsupported, got %v", serviceURL, err)
		}
	}
}

func TestCoordinatorStartStopLifecycle(t *testing.T) {
	watch := newFakeWatch()
	coordinator := newTestCoordinator(t, 50*time.Millisecond, watch, &dialer{})

	if coordinator.State() != Idle {
		t.Fatalf("expected idle, got %s", coordinator.State())
	}

	dir := t.TempDir()
	if err := coordinator.RegisterPath(dir); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !coordinator.IsRunning() {
		t.Fatal("expected running after Start")
	}
	if !coordinator.IsWatching(dir) {
		t.Fatal("expected registered path to be watched")
	}

	if err := coordinator.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if coordinator.State() != Idle {
		t.Fatalf("expected idle after Stop, got %s", coordinator.State())
	}
	if coordinator.IsWatching(dir) {
		t.Fatal("expected no active watch after Stop")
	}

	// Stopping again while idle is a no-op.
	if err := coordinator.Stop(); err != nil {
		t.Fatalf("repeated Stop: %v", err)
	}
}

func TestCoordinatorRestartPicksUpNewRegistrations(t *testing.T) {
	watch := newFakeWatch()
	coordinator := newTestCoordinator(t, 50*time.Millisecond, watch, &dialer{})

	first := t.TempDir()
	if err := coordinator.RegisterPath(first); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second := t.TempDir()
	if err := coordinator.RegisterPath(second); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}
	if coordinator.IsWatching(second) {
		t.Fatal("registration must not take effect before restart")
	}

	if err := coordinator.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !coordinator.IsWatching(first) || !coordinator.IsWatching(second) {
		t.Fatalf("expected both paths watched, got %v", coordinator.WatchedPaths())
	}
	if watch.closeCalls(resolved(t, first)) != 1 {
		t.Fatal("expected the first watch to be replaced on restart")
	}
}

func TestCoordinatorTerminateIsAbsorbing(t *testing.T) {
	watch := newFakeWatch()
	dial := &dialer{transports: []*fakeTransport{healthyTransport()}}
	coordinator := newTestCoordinator(t, 50*time.Millisecond, watch, dial)

	dir := t.TempDir()
	if err := coordinator.RegisterPath(dir); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := coordinator.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	changes, cancelChanges := coordinator.Changes()
	defer cancelChanges()
	reloads, cancelReloads := coordinator.Reloads()
	defer cancelReloads()

	if err := coordinator.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if coordinator.State() != Terminated {
		t.Fatalf("expected terminated, got %s", coordinator.State())
	}

	if err := coordinator.Start(); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Start after terminate: %v", err)
	}
	if err := coordinator.Stop(); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Stop after terminate: %v", err)
	}
	if err := coordinator.Reload(); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Reload after terminate: %v", err)
	}
	if err := coordinator.RegisterPath(t.TempDir()); !errors.Is(err, ErrTerminated) {
		t.Fatalf("RegisterPath after terminate: %v", err)
	}

	for name, stream := range map[string]func() bool{
		"changes": func() bool { _, open := <-changes; return open },
		"reloads": func() bool { _, open := <-reloads; return open },
	} {
		if stream() {
			t.Fatalf("expected %s stream closed after terminate", name)
		}
	}

	// History stays observable after termination.
	if len(coordinator.ReloadHistory()) != 1 {
		t.Fatalf("expected 1 reload in history, got %d", len(coordinator.ReloadHistory()))
	}

	if !dial.transports[0].wasClosed() {
		t.Fatal("expected the session to be closed on terminate")
	}

	// Repeated terminate is a no-op.
	if err := coordinator.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}

func TestReloadPublishesCompletion(t *testing.T) {
	dial := &dialer{transports: []*fakeTransport{healthyTransport()}}
	coordinator := newTestCoordinator(t, 50*time.Millisecond, newFakeWatch(), dial)

	reloads, cancel := coordinator.Reloads()
	defer cancel()

	before := time.Now().UTC()
	if err := coordinator.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	select {
	case completed := <-reloads:
		if completed.CompletedAt.Before(before) {
			t.Fatalf("completion timestamp %s predates the call", completed.CompletedAt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestReloadRejectedCarriesDetail(t *testing.T) {
	transport := healthyTransport()
	transport.result = vmservice.ReloadResult{Success: false, Reason: "compilation error in lib/app.dart"}
	dial := &dialer{transports: []*fakeTransport{transport}}
	coordinator := newTestCoordinator(t, 50*time.Millisecond, newFakeWatch(), dial)

	err := coordinator.Reload()
	var rejected *ReloadRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *ReloadRejectedError, got %v", err)
	}
	if rejected.Detail != "compilation error in lib/app.dart" {
		t.Fatalf("unexpected detail %q", rejected.Detail)
	}
	if len(coordinator.ReloadHistory()) != 0 {
		t.Fatal("rejected reload must not publish a completion")
	}
}

func TestReloadWithoutTargets(t *testing.T) {
	transport := &fakeTransport{result: vmservice.ReloadResult{Success: true}}
	dial := &dialer{transports: []*fakeTransport{transport}}
	coordinator := newTestCoordinator(t, 50*time.Millisecond, newFakeWatch(), dial)

	if err := coordinator.Reload(); !errors.Is(err, ErrNoReloadTargets) {
		t.Fatalf("expected ErrNoReloadTargets, got %v", err)
	}
}

func TestReloadRedialsAfterTransportError(t *testing.T) {
	broken := healthyTransport()
	broken.listErr = errors.New("connection reset")
	replacement := healthyTransport()
	dial := &dialer{transports: []*fakeTransport{broken, replacement}}
	coordinator := newTestCoordinator(t, 50*time.Millisecond, newFakeWatch(), dial)

	if err := coordinator.Reload(); err == nil {
		t.Fatal("expected the first reload to fail")
	}
	if !broken.wasClosed() {
		t.Fatal("expected the failed session to be discarded")
	}

	if err := coordinator.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if dial.dialCalls() != 2 {
		t.Fatalf("expected a fresh dial after the failure, got %d", dial.dialCalls())
	}
	if replacement.reloads() != 1 {
		t.Fatalf("expected 1 reload on the new session, got %d", replacement.reloads())
	}
}

func TestChangesStreamSeesEveryEvent(t *testing.T) {
	watch := newFakeWatch()
	coordinator := newTestCoordinator(t, time.Hour, watch, &dialer{})

	dir := t.TempDir()
	if err := coordinator.RegisterPath(dir); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}

	changes, cancel := coordinator.Changes()
	defer cancel()

	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !watch.emit(resolved(t, dir)) {
			t.Fatal("expected an active watch")
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case change := <-changes:
			if change.Path != resolved(t, dir) {
				t.Fatalf("unexpected change path %q", change.Path)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d change events", i)
		}
	}
	if len(coordinator.ChangeHistory()) != 3 {
		t.Fatalf("expected 3 events in history, got %d", len(coordinator.ChangeHistory()))
	}
}

func TestBurstTriggersSingleReload(t *testing.T) {
	watch := newFakeWatch()
	dial := &dialer{transports: []*fakeTransport{healthyTransport()}}
	coordinator := newTestCoordinator(t, 100*time.Millisecond, watch, dial)

	dir := t.TempDir()
	if err := coordinator.RegisterPath(dir); err != nil {
		t.Fatalf("RegisterPath: %v", err)
	}

	reloads, cancel := coordinator.Reloads()
	defer cancel()

	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, delay := range []time.Duration{0, 30 * time.Millisecond, 30 * time.Millisecond} {
		time.Sleep(delay)
		if !watch.emit(resolved(t, dir)) {
			t.Fatal("expected an active watch")
		}
	}

	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reload")
	}

	// A quiet interval must not produce a second reload.
	select {
	case <-reloads:
		t.Fatal("unexpected second reload for a single burst")
	case <-time.After(300 * time.Millisecond):
	}
	if got := dial.transports[0].reloads(); got != 1 {
		t.Fatalf("expected exactly 1 reload call, got %d", got)
	}
}

package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	urls    []string
	body    []byte
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, req.URL)
	block, started, body, err := f.block, f.started, f.body, f.err
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, ContentType: "text/plain", StatusCode: 200}, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) LastURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		return ""
	}
	return f.urls[len(f.urls)-1]
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
	targets  []Target
	err      error
}

func (s *recordingSink) Persist(ctx context.Context, target Target, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, append([]byte(nil), body...))
	s.targets = append(s.targets, target)
	return nil
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fakeProgress struct {
	mu      sync.Mutex
	updates map[string]time.Time
	count   int
}

func (f *fakeProgress) UpdateLastProcessed(ctx context.Context, name string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]time.Time)
	}
	f.updates[name] = at
	f.count++
	return nil
}

func (f *fakeProgress) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func testSource(name string) Source {
	return Source{ID: 1, Name: name, Endpoint: "http://x/ok", Interval: time.Hour, Timeout: time.Second}
}

func TestPoller_StartFetchesImmediatelyAndPersists(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("hi")}
	sink := &recordingSink{}
	progress := &fakeProgress{}
	p := New("A", fetcher, sink, progress, nil)

	p.Start(testSource("A"), nil)
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool { return progress.Count() == 1 })

	if !p.Running() {
		t.Fatalf("expected poller to be running")
	}
	if got := string(sink.payloads[0]); got != "hi" {
		t.Fatalf("expected payload hi, got %q", got)
	}
	if sink.targets[0].Source != "A" {
		t.Fatalf("expected target source A, got %q", sink.targets[0].Source)
	}
	if _, ok := progress.updates["A"]; !ok {
		t.Fatalf("expected last processed update for A")
	}
	if p.LastPoll().IsZero() {
		t.Fatalf("expected last poll timestamp to be set")
	}
}

func TestPoller_NoSinkCallsAfterStop(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("hi")}
	sink := &recordingSink{}
	p := New("A", fetcher, sink, nil, nil)

	src := testSource("A")
	src.Interval = 20 * time.Millisecond
	p.Start(src, nil)

	waitFor(t, 2*time.Second, func() bool { return sink.Count() >= 1 })
	p.Stop()

	after := sink.Count()
	time.Sleep(100 * time.Millisecond)
	if sink.Count() != after {
		t.Fatalf("expected no sink calls after stop, got %d more", sink.Count()-after)
	}
	if p.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", p.State())
	}
}

func TestPoller_StartTwiceSchedulesOneTimer(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("x")}
	p := New("A", fetcher, &recordingSink{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Start(testSource("A"), nil)
		}()
	}
	wg.Wait()
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	if calls := fetcher.Calls(); calls != 1 {
		t.Fatalf("expected exactly one immediate fetch, got %d", calls)
	}
}

func TestPoller_EmptyEndpointReportsInvalidConfig(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := New("B", fetcher, &recordingSink{}, nil, nil)

	var gotID int64
	var gotErr error
	src := testSource("B")
	src.ID = 42
	src.Endpoint = ""
	p.Start(src, func(id int64, err error) {
		gotID = id
		gotErr = err
	})

	if !errors.Is(gotErr, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", gotErr)
	}
	if gotID != 42 {
		t.Fatalf("expected source id 42, got %d", gotID)
	}
	if p.Running() {
		t.Fatalf("expected poller to stay stopped")
	}
	time.Sleep(20 * time.Millisecond)
	if fetcher.Calls() != 0 {
		t.Fatalf("expected no fetch, got %d", fetcher.Calls())
	}
}

func TestPoller_MalformedEndpointReportsInvalidConfig(t *testing.T) {
	p := New("B", &fakeFetcher{}, &recordingSink{}, nil, nil)

	var gotErr error
	src := testSource("B")
	src.Endpoint = "not a url"
	p.Start(src, func(_ int64, err error) { gotErr = err })

	if !errors.Is(gotErr, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", gotErr)
	}
}

func TestPoller_StopDuringInFlightTick(t *testing.T) {
	fetcher := &fakeFetcher{
		body:    []byte("late"),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	sink := &recordingSink{}
	progress := &fakeProgress{}
	p := New("A", fetcher, sink, progress, nil)

	p.Start(testSource("A"), nil)

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	p.Stop()
	close(fetcher.block)

	time.Sleep(50 * time.Millisecond)
	if sink.Count() != 0 {
		t.Fatalf("expected no sink side effect after stop, got %d", sink.Count())
	}
	if progress.Count() != 0 {
		t.Fatalf("expected no progress update after stop, got %d", progress.Count())
	}
}

func TestPoller_SinkErrorDoesNotAdvanceLastProcessed(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	progress := &fakeProgress{}
	fetcher := &fakeFetcher{body: []byte("hi")}
	p := New("A", fetcher, sink, progress, nil)

	p.Start(testSource("A"), nil)
	waitFor(t, 2*time.Second, func() bool { return fetcher.Calls() == 1 })
	p.Stop()

	if progress.Count() != 0 {
		t.Fatalf("expected last processed untouched on sink error, got %d updates", progress.Count())
	}
}

func TestPoller_FetchErrorKeepsTimerAlive(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	sink := &recordingSink{}
	p := New("A", fetcher, sink, nil, nil)

	src := testSource("A")
	src.Interval = 10 * time.Millisecond
	p.Start(src, nil)
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool { return fetcher.Calls() >= 3 })
	if !p.Running() {
		t.Fatalf("expected poller to keep running after fetch errors")
	}
	if sink.Count() != 0 {
		t.Fatalf("expected no sink calls, got %d", sink.Count())
	}
}

func TestPoller_CloseRejectsStart(t *testing.T) {
	p := New("A", &fakeFetcher{}, &recordingSink{}, nil, nil)
	p.Start(testSource("A"), nil)
	p.Close()

	var gotErr error
	p.Start(testSource("A"), func(_ int64, err error) { gotErr = err })

	if !errors.Is(gotErr, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", gotErr)
	}
	if p.Running() {
		t.Fatalf("expected disposed poller to stay stopped")
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := New("A", &fakeFetcher{}, &recordingSink{}, nil, nil)

	// must not block or panic
	p.Stop()
	p.Start(testSource("A"), nil)
	p.Stop()
	p.Stop()
}

func TestPoller_RestartUsesNewSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("x")}
	p := New("A", fetcher, &recordingSink{}, nil, nil)

	p.Start(testSource("A"), nil)
	waitFor(t, 2*time.Second, func() bool { return fetcher.Calls() == 1 })
	p.Stop()

	src := testSource("A")
	src.Endpoint = "http://x/v2"
	p.Start(src, nil)
	defer p.Stop()
	waitFor(t, 2*time.Second, func() bool { return fetcher.Calls() == 2 })

	if got := fetcher.LastURL(); got != "http://x/v2" {
		t.Fatalf("expected new endpoint after restart, got %s", got)
	}
	snap, ok := p.Source()
	if !ok || snap.Endpoint != "http://x/v2" {
		t.Fatalf("expected snapshot endpoint http://x/v2, got %+v", snap)
	}
}

func TestPoller_ConcurrentStartStop(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("x")}
	sink := &recordingSink{}
	p := New("A", fetcher, sink, nil, nil)

	src := testSource("A")
	src.Interval = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Start(src, nil)
		}()
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()
	p.Stop()

	after := sink.Count()
	time.Sleep(30 * time.Millisecond)
	if sink.Count() != after {
		t.Fatalf("expected no ticks after final stop")
	}
}

func TestPoller_SlowSourceDoesNotDelayOther(t *testing.T) {
	slow := &fakeFetcher{body: []byte("c"), block: make(chan struct{}), started: make(chan struct{}, 1)}
	fast := &fakeFetcher{body: []byte("d")}
	slowSink, fastSink := &recordingSink{}, &recordingSink{}

	c := New("C", slow, slowSink, nil, nil)
	d := New("D", fast, fastSink, nil, nil)

	c.Start(testSource("C"), nil)
	defer c.Stop()
	<-slow.started

	d.Start(testSource("D"), nil)
	defer d.Stop()

	waitFor(t, time.Second, func() bool { return fastSink.Count() == 1 })
	if slowSink.Count() != 0 {
		t.Fatalf("expected slow source still in flight")
	}
	close(slow.block)
}

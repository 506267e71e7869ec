package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/client/adapters/audio"
	"github.com/satriahrh/arunika/client/domain/repositories"
)

// fakeSound is a Sound with directly settable status
type fakeSound struct {
	mu       sync.Mutex
	uri      string
	status   repositories.SoundStatus
	seeks    []time.Duration
	unloaded bool
	onFinish func()
}

func (s *fakeSound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Playing = true
	return nil
}

func (s *fakeSound) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Playing = false
	return nil
}

func (s *fakeSound) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Playing = false
	s.status.Position = 0
	return nil
}

func (s *fakeSound) Seek(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, d)
	s.status.Position = d
	return nil
}

func (s *fakeSound) Status() repositories.SoundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSound) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloaded = true
	return nil
}

func (s *fakeSound) isUnloaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloaded
}

// finish simulates the natural end of the media
func (s *fakeSound) finish() {
	s.mu.Lock()
	s.status.Playing = false
	s.status.Position = s.status.Duration
	fn := s.onFinish
	s.mu.Unlock()
	fn()
}

// fakeLoader hands out fakeSounds. Loads of URIs registered in gates block
// until the gate is closed.
type fakeLoader struct {
	mu     sync.Mutex
	gates  map[string]chan struct{}
	fail   map[string]error
	sounds []*fakeSound
	calls  int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{gates: map[string]chan struct{}{}, fail: map[string]error{}}
}

func (l *fakeLoader) gate(uri string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.gates[uri] = ch
	return ch
}

func (l *fakeLoader) Load(ctx context.Context, uri string, onFinish func()) (repositories.Sound, error) {
	l.mu.Lock()
	l.calls++
	gate := l.gates[uri]
	err := l.fail[uri]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := &fakeSound{
		uri:      uri,
		status:   repositories.SoundStatus{Duration: 5 * time.Second},
		onFinish: onFinish,
	}
	l.mu.Lock()
	l.sounds = append(l.sounds, s)
	l.mu.Unlock()
	return s, nil
}

func (l *fakeLoader) soundFor(uri string) *fakeSound {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sounds {
		if s.uri == uri {
			return s
		}
	}
	return nil
}

func newTestController(t *testing.T, loader repositories.SoundLoader) *Controller {
	t.Helper()
	c := NewController(loader, nil, zaptest.NewLogger(t))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestController_LastSetSourceWins(t *testing.T) {
	loader := newFakeLoader()
	gateA := loader.gate("uri-a")
	c := newTestController(t, loader)

	resultA := make(chan error, 1)
	go func() {
		resultA <- c.SetSource(context.Background(), "uri-a", true)
	}()

	// Wait until A is loading
	deadline := time.Now().Add(2 * time.Second)
	for c.Status().Source != "uri-a" {
		if time.Now().After(deadline) {
			t.Fatal("uri-a never started loading")
		}
		time.Sleep(time.Millisecond)
	}
	if c.Status().State != StateLoading {
		t.Fatalf("Expected loading state, got %s", c.Status().State)
	}

	if err := c.SetSource(context.Background(), "uri-b", false); err != nil {
		t.Fatalf("SetSource(uri-b) failed: %v", err)
	}

	// A completes after B
	close(gateA)
	if err := <-resultA; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded for uri-a, got %v", err)
	}

	status := c.Status()
	if status.Source != "uri-b" || status.State != StateLoaded {
		t.Errorf("Expected uri-b loaded, got %+v", status)
	}
	if status.Playing {
		t.Error("Expected superseded auto-play not to start uri-b")
	}
	if a := loader.soundFor("uri-a"); a == nil || !a.isUnloaded() {
		t.Error("Expected superseded sound to be unloaded")
	}
}

func TestController_SameSourceIsNoop(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)
	ctx := context.Background()

	if err := c.SetSource(ctx, "uri-a", false); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	gen := c.Status().Generation

	if err := c.SetSource(ctx, "uri-a", true); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if loader.calls != 1 {
		t.Errorf("Expected a single load, got %d", loader.calls)
	}
	if c.Status().Generation != gen {
		t.Error("Expected generation unchanged for the same source")
	}
}

func TestController_ReplacingReleasesPrevious(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)
	ctx := context.Background()

	c.SetSource(ctx, "uri-a", false)
	c.SetSource(ctx, "uri-b", false)

	if !loader.soundFor("uri-a").isUnloaded() {
		t.Error("Expected previous sound to be unloaded")
	}

	if err := c.SetSource(ctx, "", false); err != nil {
		t.Fatalf("SetSource(\"\") failed: %v", err)
	}
	if !loader.soundFor("uri-b").isUnloaded() {
		t.Error("Expected sound to be unloaded on empty source")
	}
	if status := c.Status(); status.State != StateUnloaded || status.Source != "" {
		t.Errorf("Expected unloaded state, got %+v", status)
	}
}

func TestController_AutoPlay(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	if err := c.SetSource(context.Background(), "uri-a", true); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if !c.Status().Playing {
		t.Error("Expected auto-play to start playback")
	}

	c.SetSource(context.Background(), "uri-b", false)
	if c.Status().Playing {
		t.Error("Expected no playback without auto-play")
	}
}

func TestController_LoadFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.fail["uri-bad"] = errors.New("decode failed")
	c := newTestController(t, loader)

	err := c.SetSource(context.Background(), "uri-bad", true)
	if err == nil {
		t.Fatal("Expected load error")
	}
	status := c.Status()
	if status.State != StateUnloaded || status.Error == "" {
		t.Errorf("Expected unloaded state with error, got %+v", status)
	}

	// Retrying the same source loads again
	delete(loader.fail, "uri-bad")
	if err := c.SetSource(context.Background(), "uri-bad", false); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if c.Status().State != StateLoaded {
		t.Error("Expected retry to load")
	}
}

func TestController_PlayPause(t *testing.T) {
	tests := []struct {
		name        string
		position    time.Duration
		playing     bool
		wantPlaying bool
		wantSeek    bool
	}{
		{"pause while playing", 2 * time.Second, true, false, false},
		{"resume mid-way", 2 * time.Second, false, true, false},
		{"replay near end", 4500 * time.Millisecond, false, true, true},
		{"replay exactly at tolerance", 4 * time.Second, false, true, true},
		{"replay at end", 5 * time.Second, false, true, true},
		{"resume just before tolerance", 3999 * time.Millisecond, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newFakeLoader()
			c := newTestController(t, loader)
			c.SetSource(context.Background(), "uri-a", false)

			sound := loader.soundFor("uri-a")
			sound.status.Position = tt.position
			sound.status.Playing = tt.playing

			if err := c.PlayPause(); err != nil {
				t.Fatalf("PlayPause failed: %v", err)
			}

			status := c.Status()
			if status.Playing != tt.wantPlaying {
				t.Errorf("Expected playing %v, got %v", tt.wantPlaying, status.Playing)
			}
			if tt.wantSeek {
				if len(sound.seeks) != 1 || sound.seeks[0] != 0 || status.Position != 0 {
					t.Errorf("Expected rewind to 0, got seeks %v position %v", sound.seeks, status.Position)
				}
			} else if len(sound.seeks) != 0 {
				t.Errorf("Expected no seek, got %v", sound.seeks)
			}
		})
	}
}

func TestController_NoopWhenUnloaded(t *testing.T) {
	c := newTestController(t, newFakeLoader())

	if err := c.PlayPause(); err != nil {
		t.Errorf("Expected PlayPause no-op, got %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Expected Stop no-op, got %v", err)
	}
	if c.Status().State != StateUnloaded {
		t.Error("Expected controller to stay unloaded")
	}
}

func TestController_Stop(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)
	c.SetSource(context.Background(), "uri-a", true)
	loader.soundFor("uri-a").status.Position = 3 * time.Second

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	status := c.Status()
	if status.Playing || status.Position != 0 {
		t.Errorf("Expected stopped at 0, got %+v", status)
	}
}

func TestController_NaturalEndKeepsPosition(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	var mu sync.Mutex
	var events []Status
	c.OnChange(func(s Status) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})

	c.SetSource(context.Background(), "uri-a", true)
	loader.soundFor("uri-a").finish()

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.Playing || last.Position != 5*time.Second {
		t.Errorf("Expected stopped at the end, got %+v", last)
	}

	// Playing again replays from the start
	c.PlayPause()
	if status := c.Status(); !status.Playing || status.Position != 0 {
		t.Errorf("Expected replay from 0, got %+v", status)
	}
}

func TestController_StaleFinishIgnored(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	calls := 0
	c.SetSource(context.Background(), "uri-a", true)
	c.SetSource(context.Background(), "uri-b", false)
	c.OnChange(func(Status) { calls++ })

	loader.soundFor("uri-a").finish()
	if calls != 0 {
		t.Errorf("Expected finish of a replaced sound to be ignored, got %d events", calls)
	}
}

func TestController_CloseDuringLoad(t *testing.T) {
	loader := newFakeLoader()
	gate := loader.gate("uri-a")
	c := NewController(loader, nil, zaptest.NewLogger(t))

	result := make(chan error, 1)
	go func() {
		result <- c.SetSource(context.Background(), "uri-a", true)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.Status().State != StateLoading {
		if time.Now().After(deadline) {
			t.Fatal("uri-a never started loading")
		}
		time.Sleep(time.Millisecond)
	}

	c.Close()
	close(gate)

	if err := <-result; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded after Close, got %v", err)
	}
	if !loader.soundFor("uri-a").isUnloaded() {
		t.Error("Expected in-flight sound to be released after Close")
	}
	if err := c.SetSource(context.Background(), "uri-b", false); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// The replay rule holds with the clock-driven sound used in production:
// duration 5000ms, position 4500ms, play starts again from 0.
func TestController_ReplayWithClockSound(t *testing.T) {
	mock := clock.NewMock()
	logger := zaptest.NewLogger(t)
	loader := loaderFunc(func(_ context.Context, uri string, onFinish func()) (repositories.Sound, error) {
		return audio.NewClockSound(mock, 5000*time.Millisecond, uri, nil, onFinish, logger), nil
	})
	c := newTestController(t, loader)

	c.SetSource(context.Background(), "answer.mp3", true)
	mock.Add(4500 * time.Millisecond)
	c.PlayPause() // pause at 4.5s

	if got := c.Status().Position; got != 4500*time.Millisecond {
		t.Fatalf("Expected paused at 4.5s, got %v", got)
	}

	c.PlayPause()
	status := c.Status()
	if !status.Playing || status.Position != 0 {
		t.Errorf("Expected playback restarted from 0, got %+v", status)
	}
}

type loaderFunc func(ctx context.Context, uri string, onFinish func()) (repositories.Sound, error)

func (f loaderFunc) Load(ctx context.Context, uri string, onFinish func()) (repositories.Sound, error) {
	return f(ctx, uri, onFinish)
}

func TestController_ListenersSeeEveryTransition(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	var first, second []State
	c.OnChange(func(s Status) { first = append(first, s.State) })
	unsubscribe := c.OnChange(func(s Status) { second = append(second, s.State) })

	c.SetSource(context.Background(), "uri-a", false)
	unsubscribe()
	c.SetSource(context.Background(), "uri-b", false)

	want := []State{StateLoading, StateLoaded, StateLoading, StateLoaded}
	if len(first) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), first)
	}
	for i := range want {
		if first[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], first[i])
		}
	}
	if len(second) != 2 {
		t.Errorf("Expected unsubscribed listener to stop after 2 events, got %v", second)
	}
}

func TestController_EndedFlag(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	c.SetSource(context.Background(), "uri-a", true)
	if c.Status().Ended {
		t.Fatal("Expected a fresh sound not to be ended")
	}

	loader.soundFor("uri-a").finish()
	if !c.Status().Ended {
		t.Fatal("Expected ended after the natural end")
	}

	if err := c.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	status := c.Status()
	if status.Ended || !status.Playing || status.Position != 0 {
		t.Errorf("Expected replay from 0 with ended cleared, got %+v", status)
	}
}

func TestController_Play(t *testing.T) {
	loader := newFakeLoader()
	c := newTestController(t, loader)

	if err := c.Play(); err != nil {
		t.Errorf("Expected Play no-op while unloaded, got %v", err)
	}

	c.SetSource(context.Background(), "uri-a", false)
	sound := loader.soundFor("uri-a")
	sound.status.Position = 2 * time.Second

	if err := c.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !c.Status().Playing {
		t.Fatal("Expected playback to start")
	}
	if len(sound.seeks) != 0 {
		t.Errorf("Expected resume without seek, got %v", sound.seeks)
	}

	// Play never pauses
	if err := c.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !c.Status().Playing {
		t.Error("Expected Play to keep playing")
	}
}

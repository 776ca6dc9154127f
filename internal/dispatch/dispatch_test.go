package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/semaphore"

	"socialbot/internal/model"
	"socialbot/internal/publish"
)

var errNotFound = errors.New("not found")

type mockCreds map[string]model.Account

func (m mockCreds) LookupAccount(_ context.Context, p model.Platform, name string) (model.Account, error) {
	acc, ok := m[string(p)+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%s account %q: %w", p, name, errNotFound)
	}
	return acc, nil
}

type mockPublisher struct {
	mu      sync.Mutex
	sent    []string
	fail    map[string]error
	block   chan struct{}
	started chan string

	active    int
	maxActive int
	ctxErrs   []error
}

func (m *mockPublisher) Publish(ctx context.Context, acc model.Account, post publish.Post) error {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()

	if m.started != nil {
		m.started <- acc.BotName()
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if err := m.fail[acc.BotName()]; err != nil {
		return err
	}
	m.sent = append(m.sent, acc.BotName()+": "+post.Body)
	return nil
}

func allEnabled() Settings {
	return Settings{
		Enabled: map[model.Platform]bool{
			model.PlatformChat: true, model.PlatformMicroblog: true, model.PlatformProfessional: true,
		},
		PublishTimeout: time.Second,
	}
}

func newTestRouter(creds Credentials, pub Publisher, pool *semaphore.Weighted) *Router {
	r := New(creds, pub, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.jitter = func(time.Duration) time.Duration { return 0 }
	return r
}

var testCreds = mockCreds{
	"chat/quiet":      model.ChatAccount{Name: "quiet", Service: model.ChatTelegram, Token: "t1", ChatID: "1", Mute: true},
	"chat/loud":       model.ChatAccount{Name: "loud", Service: model.ChatTelegram, Token: "t2", ChatID: "2"},
	"microblog/bsky":  model.MicroblogAccount{Name: "bsky", Handle: "h", Password: "p"},
	"professional/li": model.ProfessionalAccount{Name: "li", URN: "u", AccessToken: "a"},
}

var testItem = model.Item{Link: "https://news.example/a", Title: "T", Description: "D"}

func TestDispatch(t *testing.T) {
	targets := map[model.Platform][]string{
		model.PlatformProfessional: {"li", "ghost"},
		model.PlatformChat:         {"quiet", "loud"},
		model.PlatformMicroblog:    {"bsky"},
	}

	tests := []struct {
		name     string
		muted    bool
		settings func(Settings) Settings
		fail     map[string]error
		want     []model.Outcome
	}{
		{
			name:  "muted window skips muted accounts only",
			muted: true,
			fail:  map[string]error{"bsky": errors.New("503 from pds")},
			want: []model.Outcome{
				{Platform: model.PlatformChat, BotName: "quiet", Status: model.OutcomeMuted, Reason: "muted"},
				{Platform: model.PlatformChat, BotName: "loud", Status: model.OutcomeSent},
				{Platform: model.PlatformMicroblog, BotName: "bsky", Status: model.OutcomeFailed, Reason: "503 from pds"},
				{Platform: model.PlatformProfessional, BotName: "li", Status: model.OutcomeSent},
				{Platform: model.PlatformProfessional, BotName: "ghost", Status: model.OutcomeSkipped, Reason: `professional account "ghost": not found`},
			},
		},
		{
			name:  "outside window muted accounts publish",
			muted: false,
			want: []model.Outcome{
				{Platform: model.PlatformChat, BotName: "quiet", Status: model.OutcomeSent},
				{Platform: model.PlatformChat, BotName: "loud", Status: model.OutcomeSent},
				{Platform: model.PlatformMicroblog, BotName: "bsky", Status: model.OutcomeSent},
				{Platform: model.PlatformProfessional, BotName: "li", Status: model.OutcomeSent},
				{Platform: model.PlatformProfessional, BotName: "ghost", Status: model.OutcomeSkipped, Reason: `professional account "ghost": not found`},
			},
		},
		{
			name: "disabled platform",
			settings: func(s Settings) Settings {
				s.Enabled = map[model.Platform]bool{model.PlatformChat: true}
				return s
			},
			want: []model.Outcome{
				{Platform: model.PlatformChat, BotName: "quiet", Status: model.OutcomeSent},
				{Platform: model.PlatformChat, BotName: "loud", Status: model.OutcomeSent},
				{Platform: model.PlatformMicroblog, BotName: "bsky", Status: model.OutcomeSkipped, Reason: ReasonDisabled},
				{Platform: model.PlatformProfessional, BotName: "li", Status: model.OutcomeSkipped, Reason: ReasonDisabled},
				{Platform: model.PlatformProfessional, BotName: "ghost", Status: model.OutcomeSkipped, Reason: ReasonDisabled},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{fail: tt.fail}
			r := newTestRouter(testCreds, pub, semaphore.NewWeighted(4))
			s := allEnabled()
			if tt.settings != nil {
				s = tt.settings(s)
			}

			got := r.Dispatch(context.Background(), testItem, targets, tt.muted, s)
			want := model.DispatchReport{Link: testItem.Link, Outcomes: tt.want}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Dispatch mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatchRendersBody(t *testing.T) {
	pub := &mockPublisher{}
	r := newTestRouter(testCreds, pub, nil)
	item := testItem
	item.AIComment = "Worth a read."

	r.Dispatch(context.Background(), item, map[model.Platform][]string{model.PlatformChat: {"loud"}}, false, allEnabled())
	if diff := cmp.Diff([]string{"loud: Worth a read."}, pub.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchBoundedPool(t *testing.T) {
	creds := mockCreds{}
	var names []string
	for i := range 6 {
		name := fmt.Sprintf("bot%d", i)
		creds["chat/"+name] = model.ChatAccount{Name: name, Service: model.ChatTelegram, Token: "t", ChatID: "1"}
		names = append(names, name)
	}

	pub := &mockPublisher{block: make(chan struct{}), started: make(chan string, len(names))}
	r := newTestRouter(creds, pub, semaphore.NewWeighted(2))

	done := make(chan model.DispatchReport)
	go func() {
		done <- r.Dispatch(context.Background(), testItem, map[model.Platform][]string{model.PlatformChat: names}, false, allEnabled())
	}()

	// Release one attempt per start so the pool drains.
	for range names {
		<-pub.started
		pub.block <- struct{}{}
	}
	report := <-done

	if got := report.Count(model.OutcomeSent); got != len(names) {
		t.Errorf("expected %d sent, got %d", len(names), got)
	}
	if pub.maxActive > 2 {
		t.Errorf("pool exceeded: %d concurrent publishes", pub.maxActive)
	}
}

func TestDispatchShutdown(t *testing.T) {
	t.Run("not yet issued", func(t *testing.T) {
		pub := &mockPublisher{}
		r := newTestRouter(testCreds, pub, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		got := r.Dispatch(ctx, testItem, map[model.Platform][]string{model.PlatformChat: {"loud"}}, false, allEnabled())
		want := []model.Outcome{{Platform: model.PlatformChat, BotName: "loud", Status: model.OutcomeSkipped, Reason: ReasonShutdown}}
		if diff := cmp.Diff(want, got.Outcomes); diff != "" {
			t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
		}
		if len(pub.sent) != 0 {
			t.Errorf("expected nothing sent, got %v", pub.sent)
		}
	})

	t.Run("in flight completes", func(t *testing.T) {
		pub := &mockPublisher{block: make(chan struct{}), started: make(chan string, 1)}
		r := newTestRouter(testCreds, pub, semaphore.NewWeighted(1))
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan model.DispatchReport)
		go func() {
			done <- r.Dispatch(ctx, testItem, map[model.Platform][]string{model.PlatformChat: {"loud"}}, false, allEnabled())
		}()

		<-pub.started
		cancel()
		close(pub.block)
		got := <-done

		if diff := cmp.Diff(1, got.Count(model.OutcomeSent)); diff != "" {
			t.Errorf("sent count mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]error{nil}, pub.ctxErrs, cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
			t.Errorf("publish context should outlive shutdown (-want +got):\n%s", diff)
		}
	})

	t.Run("waiting for pool slot", func(t *testing.T) {
		pub := &mockPublisher{block: make(chan struct{}), started: make(chan string, 2)}
		r := newTestRouter(testCreds, pub, semaphore.NewWeighted(1))
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan model.DispatchReport)
		go func() {
			done <- r.Dispatch(ctx, testItem, map[model.Platform][]string{model.PlatformChat: {"quiet", "loud"}}, false, allEnabled())
		}()

		<-pub.started
		cancel()
		close(pub.block)
		got := <-done

		if diff := cmp.Diff(1, got.Count(model.OutcomeSent)); diff != "" {
			t.Errorf("sent count mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, got.Count(model.OutcomeSkipped)); diff != "" {
			t.Errorf("skipped count mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDispatchProfessionalJitter(t *testing.T) {
	pub := &mockPublisher{}
	r := newTestRouter(testCreds, pub, nil)
	var mu sync.Mutex
	var asked []time.Duration
	r.jitter = func(max time.Duration) time.Duration {
		mu.Lock()
		asked = append(asked, max)
		mu.Unlock()
		return time.Millisecond
	}

	s := allEnabled()
	s.ProfessionalJitter = 30 * time.Second
	targets := map[model.Platform][]string{model.PlatformChat: {"loud"}, model.PlatformProfessional: {"li"}}
	got := r.Dispatch(context.Background(), testItem, targets, false, s)

	if diff := cmp.Diff(2, got.Count(model.OutcomeSent)); diff != "" {
		t.Errorf("sent count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{30 * time.Second}, asked); diff != "" {
		t.Errorf("jitter should apply to professional targets only (-want +got):\n%s", diff)
	}
}

func TestRandomJitter(t *testing.T) {
	for range 100 {
		d := randomJitter(time.Second)
		if d < 0 || d >= time.Second {
			t.Fatalf("jitter %v out of range", d)
		}
	}
	if d := randomJitter(0); d != 0 {
		t.Errorf("expected 0 for zero max, got %v", d)
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus/hooks/test"

	"gpsp-bot/internal/heartbeat"
	"gpsp-bot/internal/media"
	"gpsp-bot/internal/platform"
)

// fakeMessenger records every facade call as "kind:detail" in order.
type fakeMessenger struct {
	mu      sync.Mutex
	events  []string
	videos  []platform.Video
	replies []mo.Option[string]
	nextID  int

	editErr    error
	videoErr   error
	videoDelay time.Duration
	onMessage  func(text string)
}

func (m *fakeMessenger) record(e string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID, text string, replyTo mo.Option[string]) (platform.MessageRef, error) {
	if m.onMessage != nil {
		m.onMessage(text)
	}
	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("m%d", m.nextID)
	m.replies = append(m.replies, replyTo)
	m.mu.Unlock()
	m.record("send:" + text)
	return platform.MessageRef{ChatID: chatID, MessageID: id}, nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, ref platform.MessageRef, text string) error {
	if m.editErr != nil {
		return m.editErr
	}
	m.record("edit:" + ref.MessageID + ":" + text)
	return nil
}

func (m *fakeMessenger) SendChatAction(_ context.Context, _ string, action platform.ChatAction) error {
	m.record("action:" + string(action))
	return nil
}

func (m *fakeMessenger) SendVideo(_ context.Context, _ string, v platform.Video) error {
	if m.videoErr != nil {
		return m.videoErr
	}
	m.mu.Lock()
	m.videos = append(m.videos, v)
	m.mu.Unlock()
	m.record("video:" + v.Path)
	time.Sleep(m.videoDelay)
	return nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _ string, messageID string) error {
	m.record("delete:" + messageID)
	return nil
}

func (m *fakeMessenger) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *fakeMessenger) without(prefix string) []string {
	var out []string
	for _, e := range m.Events() {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// lastIndex returns the index of the last event with prefix, or -1.
func lastIndex(events []string, prefix string) int {
	idx := -1
	for i, e := range events {
		if strings.HasPrefix(e, prefix) {
			idx = i
		}
	}
	return idx
}

// fakePipeline hands out artifacts by name and records what was removed.
type fakePipeline struct {
	mu sync.Mutex

	fetch       mo.Option[media.Artifact]
	fetchPanic  bool
	fetchDelay  time.Duration
	cutOK       bool
	truncateNew bool
	truncateOK  bool
	reencode    bool
	probeErr    error

	sources []string
	cuts    []media.CutSpec
	removed []string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		fetch:      mo.Some(media.Artifact{Path: "fetched.mp4"}),
		cutOK:      true,
		truncateOK: true,
	}
}

func (p *fakePipeline) Fetch(_ context.Context, source string, _ int64) mo.Option[media.Artifact] {
	if p.fetchDelay > 0 {
		time.Sleep(p.fetchDelay)
	}
	if p.fetchPanic {
		panic("downloader exploded")
	}
	p.mu.Lock()
	p.sources = append(p.sources, source)
	p.mu.Unlock()
	return p.fetch
}

func (p *fakePipeline) ProbeDimensions(context.Context, media.Artifact) (int, int, error) {
	if p.probeErr != nil {
		return 0, 0, p.probeErr
	}
	return 1280, 720, nil
}

func (p *fakePipeline) Truncate(_ context.Context, a media.Artifact, _, _ int64) mo.Option[media.Artifact] {
	if !p.truncateOK {
		return mo.None[media.Artifact]()
	}
	if p.truncateNew {
		return mo.Some(media.Artifact{Path: "truncated-" + a.Path})
	}
	return mo.Some(a)
}

func (p *fakePipeline) EnsureH264(_ context.Context, a media.Artifact) media.Artifact {
	if p.reencode {
		return media.Artifact{Path: "h264-" + a.Path}
	}
	return a
}

func (p *fakePipeline) Cut(_ context.Context, a media.Artifact, spec media.CutSpec) mo.Option[media.Artifact] {
	p.mu.Lock()
	p.cuts = append(p.cuts, spec)
	p.mu.Unlock()
	if !p.cutOK {
		return mo.None[media.Artifact]()
	}
	return mo.Some(media.Artifact{Path: "cut.mp4"})
}

func (p *fakePipeline) Remove(a media.Artifact) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, a.Path)
}

// fakeLanguage counts calls per operation.
type fakeLanguage struct {
	mu sync.Mutex

	reword    func(text string) (mo.Option[string], error)
	cutArgs   mo.Option[media.CutSpec]
	cutErr    error
	rewords   int
	cutInputs []string
}

func (l *fakeLanguage) Reword(_ context.Context, text string) (mo.Option[string], error) {
	l.mu.Lock()
	l.rewords++
	fn := l.reword
	l.mu.Unlock()
	if fn == nil {
		return mo.Some(text + " ei"), nil
	}
	return fn(text)
}

func (l *fakeLanguage) CutArgs(_ context.Context, text string) (mo.Option[media.CutSpec], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutInputs = append(l.cutInputs, text)
	return l.cutArgs, l.cutErr
}

func (l *fakeLanguage) rewordCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rewords
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSweeper) Sweep(time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return []string{"old.mp4"}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (r *fakeRecorder) CommandHandled(command, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]string)
	}
	r.outcomes[command] = outcome
}

type harness struct {
	bot       *Bot
	messenger *fakeMessenger
	pipeline  *fakePipeline
	language  *fakeLanguage
	sweeper   *fakeSweeper
	recorder  *fakeRecorder
	logs      *test.Hook
}

func newHarness(t *testing.T, dice ...int) *harness {
	t.Helper()
	h := &harness{
		messenger: &fakeMessenger{},
		pipeline:  newFakePipeline(),
		language:  &fakeLanguage{},
		sweeper:   &fakeSweeper{},
		recorder:  &fakeRecorder{},
	}
	log, hook := test.NewNullLogger()
	h.logs = hook

	var mu sync.Mutex
	die := func() int {
		mu.Lock()
		defer mu.Unlock()
		if len(dice) == 0 {
			return 1
		}
		v := dice[0]
		dice = dice[1:]
		return v
	}

	hb := heartbeat.New(h.messenger, time.Millisecond, platform.ActionUploadVideo, log)
	h.bot = NewBot(h.messenger, h.pipeline, h.language, hb, h.sweeper, h.recorder, Options{
		Limits:   platform.Limits{Soft: 45 << 20, Hard: 50 << 20},
		SweepAge: 48 * time.Hour,
		Die:      die,
	}, log)
	return h
}

func textUpdate(text string) platform.Update {
	return platform.Update{
		ID:        7,
		ChatID:    "100",
		MessageID: mo.Some("55"),
		ReplyToID: mo.Some("54"),
		Text:      mo.Some(text),
	}
}

var errBoom = errors.New("boom")

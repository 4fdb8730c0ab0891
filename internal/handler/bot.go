// Package handler runs one workflow per parsed chat command.
package handler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/command"
	"gpsp-bot/internal/heartbeat"
	"gpsp-bot/internal/media"
	"gpsp-bot/internal/platform"
)

// Fixed replies.
const (
	PongText       = "pong"
	ApologyText    = "Hyvä linkki..."
	rollFirstText  = "Noppa 1: %d"
	rollBothText   = "Noppa 1: %d\nNoppa 2: %d"
	rollDoubleText = "Tuplat tuli, %s. 😎"
	rollMissText   = "Ei tuplia, %s. 😿"
	rollFailText   = "Ei tuplia. Sanoitus epäonnistui. 😿"
)

// Pipeline is the media work a download needs.
type Pipeline interface {
	Fetch(ctx context.Context, source string, budget int64) mo.Option[media.Artifact]
	ProbeDimensions(ctx context.Context, a media.Artifact) (int, int, error)
	Truncate(ctx context.Context, a media.Artifact, soft, hard int64) mo.Option[media.Artifact]
	Cut(ctx context.Context, a media.Artifact, spec media.CutSpec) mo.Option[media.Artifact]
	EnsureH264(ctx context.Context, a media.Artifact) media.Artifact
	Remove(a media.Artifact)
}

// Language is the natural-language service.
type Language interface {
	Reword(ctx context.Context, text string) (mo.Option[string], error)
	CutArgs(ctx context.Context, text string) (mo.Option[media.CutSpec], error)
}

// Sweeper deletes stale artifacts.
type Sweeper interface {
	Sweep(maxAge time.Duration) ([]string, error)
}

// Recorder observes finished workflows.
type Recorder interface {
	CommandHandled(command, outcome string, elapsed time.Duration)
}

// Workflow outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeIgnored  = "ignored"
)

// Options configures a Bot.
type Options struct {
	Limits         platform.Limits
	AnimationDelay time.Duration
	RevealDelay    time.Duration
	SweepAge       time.Duration
	// Die returns a value in [1, 6]. Defaults to a uniform random roll.
	Die func() int
}

// Bot dispatches updates to workflows. A Bot is safe for concurrent use;
// workflows share nothing but their collaborators.
type Bot struct {
	messenger platform.Messenger
	media     Pipeline
	language  Language
	heartbeat *heartbeat.Notifier
	sweeper   Sweeper
	recorder  Recorder
	opts      Options
	log       logrus.FieldLogger
}

// NewBot creates a Bot. sweeper and recorder may be nil.
func NewBot(messenger platform.Messenger, pipeline Pipeline, language Language, hb *heartbeat.Notifier, sweeper Sweeper, recorder Recorder, opts Options, log logrus.FieldLogger) *Bot {
	if opts.Die == nil {
		opts.Die = func() int { return rand.IntN(6) + 1 }
	}
	return &Bot{
		messenger: messenger,
		media:     pipeline,
		language:  language,
		heartbeat: hb,
		sweeper:   sweeper,
		recorder:  recorder,
		opts:      opts,
		log:       log,
	}
}

// Handle parses the update's text and runs the matching workflow to
// completion.
func (b *Bot) Handle(ctx context.Context, u platform.Update) {
	text, ok := u.Text.Get()
	if !ok {
		return
	}

	cmd := command.Parse(text)
	log := b.log.WithFields(logrus.Fields{
		"update":  u.ID,
		"chat":    u.ChatID,
		"command": cmd.Name(),
		"sender":  u.Sender,
	})

	start := time.Now()
	var outcome string
	switch c := cmd.(type) {
	case command.Ping:
		outcome = b.ping(ctx, u, log)
	case command.Roll:
		outcome = b.roll(ctx, u, c, log)
	case command.Download:
		outcome = b.download(ctx, u, c.URL, c.Leftover, log)
	case command.Search:
		outcome = b.download(ctx, u, searchSource(c.Query), "", log)
	case command.Noop:
		return
	default:
		log.Warnf("Unhandled command %T", cmd)
		return
	}

	log.WithFields(logrus.Fields{"outcome": outcome, "elapsed": time.Since(start).Round(time.Millisecond)}).Info("Command handled")
	if b.recorder != nil {
		b.recorder.CommandHandled(cmd.Name(), outcome, time.Since(start))
	}
}

func (b *Bot) ping(ctx context.Context, u platform.Update, log logrus.FieldLogger) string {
	if _, err := b.messenger.SendMessage(ctx, u.ChatID, PongText, mo.None[string]()); err != nil {
		log.WithError(err).Error("Failed to send pong")
		return OutcomeFailed
	}
	return OutcomeOK
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

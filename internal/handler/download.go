package handler

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/media"
	"gpsp-bot/internal/platform"
)

func searchSource(query string) string {
	return fmt.Sprintf(`ytsearch:"%s"`, query)
}

// download fetches source and posts it back to the chat, trimmed by the
// instructions in leftover when there are any. Every artifact created on
// the way is removed before returning.
func (b *Bot) download(ctx context.Context, u platform.Update, source, leftover string, log logrus.FieldLogger) string {
	hb := b.heartbeat.Start(ctx, u.ChatID)
	defer hb.Stop()

	var artifacts []media.Artifact
	defer func() {
		for _, a := range artifacts {
			b.media.Remove(a)
		}
		b.sweep(log)
	}()
	track := func(a media.Artifact) {
		for _, known := range artifacts {
			if known.Path == a.Path {
				return
			}
		}
		artifacts = append(artifacts, a)
	}

	fetching := spawn(log, "fetch", func() (mo.Option[media.Artifact], error) {
		return b.media.Fetch(ctx, source, b.opts.Limits.Hard), nil
	})
	cutArgs := completed(mo.None[media.CutSpec]())
	if leftover != "" {
		cutArgs = spawn(log, "cut-args", func() (mo.Option[media.CutSpec], error) {
			return b.language.CutArgs(ctx, leftover)
		})
	}

	fetched, ok := fetching.Wait().OrElse(mo.None[media.Artifact]()).Get()
	spec, err := cutArgs.Wait().Get()
	if err != nil {
		log.WithError(err).Warn("Cut arguments unavailable, sending whole video")
		spec = mo.None[media.CutSpec]()
	}

	if !ok {
		log.WithField("source", source).Warn("Fetch produced no video")
		hb.Stop()
		b.apologize(ctx, u, log)
		return OutcomeFailed
	}
	track(fetched)

	outcome := OutcomeOK
	video := fetched
	if s, ok := spec.Get(); ok {
		if cut, ok := b.media.Cut(ctx, fetched, s).Get(); ok {
			track(cut)
			video = cut
		} else {
			log.Warn("Cut failed, falling back to the whole video")
			outcome = OutcomeFallback
		}
	}

	video = b.media.EnsureH264(ctx, video)
	track(video)

	sendable, ok := b.media.Truncate(ctx, video, b.opts.Limits.Soft, b.opts.Limits.Hard).Get()
	if !ok {
		hb.Stop()
		b.apologize(ctx, u, log)
		return OutcomeFailed
	}
	track(sendable)

	width, height, err := b.media.ProbeDimensions(ctx, sendable)
	if err != nil {
		log.WithError(err).Warn("Unknown video dimensions")
		width, height = 0, 0
	}

	// The upload indicator stays on while the video is sent.
	err = b.messenger.SendVideo(ctx, u.ChatID, platform.Video{
		Path:    sendable.Path,
		Width:   width,
		Height:  height,
		ReplyTo: u.ReplyToID,
	})
	hb.Stop()
	if err != nil {
		log.WithError(err).Error("Failed to send video")
		b.apologize(ctx, u, log)
		return OutcomeFailed
	}

	if id, ok := u.MessageID.Get(); ok {
		if err := b.messenger.DeleteMessage(ctx, u.ChatID, id); err != nil {
			log.WithError(err).Warn("Failed to delete source message")
		}
	}
	return outcome
}

func (b *Bot) apologize(ctx context.Context, u platform.Update, log logrus.FieldLogger) {
	if _, err := b.messenger.SendMessage(ctx, u.ChatID, ApologyText, u.MessageID); err != nil && !isCancelled(err) {
		log.WithError(err).Error("Failed to send apology")
	}
}

func (b *Bot) sweep(log logrus.FieldLogger) {
	if b.sweeper == nil || b.opts.SweepAge <= 0 {
		return
	}
	removed, err := b.sweeper.Sweep(b.opts.SweepAge)
	if err != nil {
		log.WithError(err).Warn("Sweeping stale artifacts failed")
		return
	}
	if len(removed) > 0 {
		log.WithField("count", len(removed)).Info("Swept stale artifacts")
	}
}

package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/command"
	"gpsp-bot/internal/platform"
)

type dice struct{ first, second int }

func (d dice) double() bool { return d.first == d.second }

// roll reports the first die before the second is revealed. The rewording
// call runs alongside the reveal delays and is skipped on a double.
func (b *Bot) roll(ctx context.Context, u platform.Update, c command.Roll, log logrus.FieldLogger) string {
	d, err := protect(func() dice { return dice{first: b.opts.Die(), second: b.opts.Die()} })
	if err != nil {
		log.WithError(err).Error("Rolling dice failed")
		return OutcomeFailed
	}
	log = log.WithFields(logrus.Fields{"die1": d.first, "die2": d.second})

	var wording *task[mo.Option[string]]
	if !d.double() {
		wording = spawn(log, "reword", func() (mo.Option[string], error) {
			return b.language.Reword(ctx, c.Text)
		})
	}

	ref, err := b.messenger.SendMessage(ctx, u.ChatID, fmt.Sprintf(rollFirstText, d.first), u.MessageID)
	if err != nil {
		log.WithError(err).Error("Failed to send first die")
		if wording != nil {
			wording.Wait()
		}
		return OutcomeFailed
	}
	// A reply clears the typing indicator on some platforms.
	if err := b.messenger.SendChatAction(ctx, u.ChatID, platform.ActionTyping); err != nil {
		log.WithError(err).Debug("Typing indicator failed")
	}

	if err := sleep(ctx, b.opts.AnimationDelay); err != nil {
		if wording != nil {
			wording.Wait()
		}
		return OutcomeFailed
	}
	ref = b.editOrSend(ctx, ref, fmt.Sprintf(rollBothText, d.first, d.second), log)

	if err := sleep(ctx, b.opts.RevealDelay); err != nil {
		if wording != nil {
			wording.Wait()
		}
		return OutcomeFailed
	}

	verdict, outcome := b.verdict(d, c.Text, wording, log)
	b.editOrSend(ctx, ref, fmt.Sprintf(rollBothText, d.first, d.second)+"\n"+verdict, log)
	return outcome
}

func (b *Bot) verdict(d dice, text string, wording *task[mo.Option[string]], log logrus.FieldLogger) (string, string) {
	if d.double() {
		return fmt.Sprintf(rollDoubleText, strings.TrimSpace(text)), OutcomeOK
	}

	reworded, err := wording.Wait().Get()
	if err != nil {
		log.WithError(err).Warn("Rewording failed")
		return rollFailText, OutcomeFallback
	}
	// Input too short to reword is echoed back as is.
	return fmt.Sprintf(rollMissText, reworded.OrElse(strings.TrimSpace(text))), OutcomeOK
}

// editOrSend replaces the text of ref, sending a new message when the
// platform refuses the edit.
func (b *Bot) editOrSend(ctx context.Context, ref platform.MessageRef, text string, log logrus.FieldLogger) platform.MessageRef {
	err := b.messenger.EditMessage(ctx, ref, text)
	if err == nil {
		return ref
	}
	log.WithError(err).Warn("Edit failed, sending a new message")

	next, err := b.messenger.SendMessage(ctx, ref.ChatID, text, mo.None[string]())
	if err != nil {
		log.WithError(err).Error("Failed to send roll update")
		return ref
	}
	return next
}

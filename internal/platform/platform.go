// Package platform defines the chat-facing contracts shared by the Telegram
// and Discord front ends.
package platform

import (
	"context"

	"github.com/samber/mo"
)

// ChatAction is an ephemeral presence indicator.
type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadVideo ChatAction = "upload_video"
)

// Update is one inbound chat event. ID increases per source and is used as
// the polling cursor.
type Update struct {
	ID        int64
	ChatID    string
	MessageID mo.Option[string]
	ReplyToID mo.Option[string]
	Text      mo.Option[string]
	Private   bool
	// Sender is the author's display name, attached to workflow logs.
	Sender string
}

// MessageRef identifies a message sent by the bot so it can be edited.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// Video is a local file to upload. Width and Height are zero when unknown.
type Video struct {
	Path    string
	Width   int
	Height  int
	ReplyTo mo.Option[string]
}

// Messenger is the outbound facade of a chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string, replyTo mo.Option[string]) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	SendChatAction(ctx context.Context, chatID string, action ChatAction) error
	SendVideo(ctx context.Context, chatID string, video Video) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// Batch is the result of one long-poll.
type Batch struct {
	OK      bool
	Updates []Update
}

// Source is a pull-based update feed.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) (Batch, error)
}

// Limits are the upload size thresholds of a platform in bytes.
type Limits struct {
	Soft int64
	Hard int64
}

// Package telegram adapts the Telegram Bot API to the platform contracts.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/samber/mo"
	"gopkg.in/telebot.v4"

	"gpsp-bot/internal/platform"
)

// Client implements platform.Messenger and platform.Source on a telebot
// Bot. telebot calls are not context aware; ctx is checked before each call.
type Client struct {
	bot *telebot.Bot
}

// New wraps bot.
func New(bot *telebot.Bot) *Client {
	return &Client{bot: bot}
}

func parseChat(chatID string) (telebot.ChatID, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return telebot.ChatID(id), nil
}

func replyOptions(chat telebot.ChatID, replyTo mo.Option[string]) *telebot.SendOptions {
	opts := &telebot.SendOptions{ParseMode: telebot.ModeDefault}
	if id, ok := replyTo.Get(); ok {
		if n, err := strconv.Atoi(id); err == nil {
			opts.ReplyTo = &telebot.Message{ID: n, Chat: &telebot.Chat{ID: int64(chat)}}
			opts.AllowWithoutReply = true
		}
	}
	return opts
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string, replyTo mo.Option[string]) (platform.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return platform.MessageRef{}, err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return platform.MessageRef{}, err
	}
	msg, err := c.bot.Send(chat, text, replyOptions(chat, replyTo))
	if err != nil {
		return platform.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return platform.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(msg.ID)}, nil
}

func (c *Client) EditMessage(ctx context.Context, ref platform.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := parseChat(ref.ChatID)
	if err != nil {
		return err
	}
	stored := telebot.StoredMessage{MessageID: ref.MessageID, ChatID: int64(chat)}
	if _, err := c.bot.Edit(stored, text); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (c *Client) SendChatAction(ctx context.Context, chatID string, action platform.ChatAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return err
	}
	a := telebot.Typing
	if action == platform.ActionUploadVideo {
		a = telebot.UploadingVideo
	}
	return c.bot.Notify(chat, a)
}

// SendVideo uploads the file from disk; telebot streams multipart bodies.
func (c *Client) SendVideo(ctx context.Context, chatID string, v platform.Video) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return err
	}
	video := &telebot.Video{
		File:      telebot.FromDisk(v.Path),
		Width:     v.Width,
		Height:    v.Height,
		Streaming: true,
	}
	if _, err := c.bot.Send(chat, video, replyOptions(chat, v.ReplyTo)); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return err
	}
	return c.bot.Delete(telebot.StoredMessage{MessageID: messageID, ChatID: int64(chat)})
}

type updatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telebot.Update `json:"result"`
}

// GetUpdates long-polls getUpdates. A cancelled ctx returns at once; the
// abandoned request finishes in the background.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) (platform.Batch, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.bot.Raw("getUpdates", map[string]string{
			"offset":          strconv.FormatInt(offset, 10),
			"timeout":         strconv.Itoa(timeoutSec),
			"allowed_updates": `["message"]`,
		})
		done <- result{data: data, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return platform.Batch{}, ctx.Err()
	}
	// Raw reports ok=false as an error but still returns the body.
	var resp updatesResponse
	if err := json.Unmarshal(r.data, &resp); err != nil {
		if r.err != nil {
			return platform.Batch{}, fmt.Errorf("get updates: %w", r.err)
		}
		return platform.Batch{}, fmt.Errorf("decode updates: %w", err)
	}
	if !resp.OK {
		return platform.Batch{OK: false}, r.err
	}

	batch := platform.Batch{OK: true, Updates: make([]platform.Update, 0, len(resp.Result))}
	for _, u := range resp.Result {
		batch.Updates = append(batch.Updates, convert(u))
	}
	return batch, nil
}

// convert maps a Bot API update. Updates without a message keep their id
// so the cursor still advances past them.
func convert(u telebot.Update) platform.Update {
	out := platform.Update{ID: int64(u.ID)}
	m := u.Message
	if m == nil {
		return out
	}

	out.MessageID = mo.Some(strconv.Itoa(m.ID))
	if m.Chat != nil {
		out.ChatID = strconv.FormatInt(m.Chat.ID, 10)
		out.Private = m.Chat.Type == telebot.ChatPrivate
	}
	if m.ReplyTo != nil {
		out.ReplyToID = mo.Some(strconv.Itoa(m.ReplyTo.ID))
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text != "" {
		out.Text = mo.Some(text)
	}
	if m.Sender != nil {
		out.Sender = m.Sender.FirstName
		if m.Sender.Username != "" {
			out.Sender = m.Sender.Username
		}
	}
	return out
}

var (
	_ platform.Messenger = (*Client)(nil)
	_ platform.Source    = (*Client)(nil)
)

// Package discord adapts a discordgo session to the platform contracts.
package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"

	"gpsp-bot/internal/platform"
)

// Session is the subset of *discordgo.Session the client uses.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Client implements platform.Messenger. Chat ids are channel ids.
type Client struct {
	session Session
}

// New wraps session.
func New(session Session) *Client {
	return &Client{session: session}
}

func reference(channelID string, replyTo mo.Option[string]) *discordgo.MessageReference {
	id, ok := replyTo.Get()
	if !ok {
		return nil
	}
	failIfNotExists := false
	return &discordgo.MessageReference{
		MessageID:       id,
		ChannelID:       channelID,
		FailIfNotExists: &failIfNotExists,
	}
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string, replyTo mo.Option[string]) (platform.MessageRef, error) {
	msg, err := c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:   text,
		Reference: reference(chatID, replyTo),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return platform.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (c *Client) EditMessage(ctx context.Context, ref platform.MessageRef, text string) error {
	if _, err := c.session.ChannelMessageEdit(ref.ChatID, ref.MessageID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SendChatAction shows the typing indicator; Discord has no upload action.
func (c *Client) SendChatAction(ctx context.Context, chatID string, _ platform.ChatAction) error {
	return c.session.ChannelTyping(chatID, discordgo.WithContext(ctx))
}

// SendVideo attaches the file; dimensions are not part of the Discord API.
func (c *Client) SendVideo(ctx context.Context, chatID string, v platform.Video) error {
	f, err := os.Open(v.Path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	_, err = c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        filepath.Base(v.Path),
			ContentType: "video/mp4",
			Reader:      f,
		}},
		Reference: reference(chatID, v.ReplyTo),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return c.session.ChannelMessageDelete(chatID, messageID, discordgo.WithContext(ctx))
}

var (
	_ platform.Messenger = (*Client)(nil)
	_ Session            = (*discordgo.Session)(nil)
)

package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/platform"
)

// Intents needed to read message text in guilds and DMs.
const Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

// Dispatcher accepts updates for handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, u platform.Update) error
}

// Gateway feeds gateway message events to a Dispatcher. Events carry no
// cursor, so each gets the next value of a local counter as its id. Ids are
// handed to the dispatcher in increasing order.
type Gateway struct {
	session    *discordgo.Session
	dispatcher Dispatcher
	log        logrus.FieldLogger

	mu     sync.Mutex
	nextID int64
}

// NewGateway creates a Gateway on session.
func NewGateway(session *discordgo.Session, dispatcher Dispatcher, log logrus.FieldLogger) *Gateway {
	return &Gateway{session: session, dispatcher: dispatcher, log: log}
}

// Run opens the gateway and blocks until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	g.session.Identify.Intents = Intents
	remove := g.session.AddHandler(g.handler(ctx))
	defer remove()

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	g.log.Info("Discord gateway connected")

	<-ctx.Done()

	if err := g.session.Close(); err != nil {
		g.log.WithError(err).Warn("Closing discord gateway failed")
	}
	g.log.Info("Discord gateway closed")
	return nil
}

func (g *Gateway) handler(ctx context.Context) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		g.accept(ctx, selfID, m)
	}
}

func (g *Gateway) accept(ctx context.Context, selfID string, m *discordgo.MessageCreate) {
	u, ok := convert(selfID, m)
	if !ok {
		return
	}
	// Handlers run on their own goroutines; numbering and dispatch happen
	// under one lock so a waiting permit cannot reorder them.
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	u.ID = g.nextID
	if err := g.dispatcher.Dispatch(ctx, u); err != nil {
		g.log.WithField("update", u.ID).WithError(err).Info("Dropped message during shutdown")
	}
}

// convert maps a message event. Messages by the bot itself are skipped.
func convert(selfID string, m *discordgo.MessageCreate) (platform.Update, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return platform.Update{}, false
	}
	if m.Author.ID == selfID {
		return platform.Update{}, false
	}

	u := platform.Update{
		ChatID:    m.ChannelID,
		MessageID: mo.Some(m.ID),
		Private:   m.GuildID == "",
		Sender:    m.Author.Username,
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		u.ReplyToID = mo.Some(m.MessageReference.MessageID)
	}
	if m.Content != "" {
		u.Text = mo.Some(m.Content)
	}
	return u, true
}

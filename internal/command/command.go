// Package command turns free-form chat text into a typed bot command.
package command

import (
	"strings"
)

// Command is one of Ping, Roll, Download, Search or Noop.
type Command interface {
	// Args returns the command arguments in positional form.
	Args() []string
	Name() string
	isCommand()
}

// Ping asks for a fixed acknowledgement.
type Ping struct{}

// Roll asks for a two dice double game about Text.
type Roll struct {
	Text string
}

// Download asks for the video behind URL. Leftover is the rest of the
// message, later read as cut instructions.
type Download struct {
	URL      string
	Leftover string
}

// Search asks for the first site search hit for Query.
type Search struct {
	Query string
}

// Noop is the fallback for text that is not a command.
type Noop struct{}

func (Ping) Args() []string { return nil }
func (r Roll) Args() []string { return []string{r.Text} }
func (d Download) Args() []string { return []string{d.URL, d.Leftover} }
func (s Search) Args() []string { return []string{s.Query} }
func (Noop) Args() []string { return nil }

func (Ping) Name() string { return "ping" }
func (Roll) Name() string { return "roll" }
func (Download) Name() string { return "download" }
func (Search) Name() string { return "search" }
func (Noop) Name() string { return "noop" }

func (Ping) isCommand() {}
func (Roll) isCommand() {}
func (Download) isCommand() {}
func (Search) isCommand() {}
func (Noop) isCommand() {}

// Trigger tokens. Matching is case sensitive.
const (
	PingTrigger   = "ping"
	RollTrigger   = "tuplilla"
	SearchTrigger = "s"
)

// commandPrefixes may precede a trigger word ("/ping", "!tuplilla").
var commandPrefixes = []string{"/", "!"}

type argTrigger struct {
	token string
	build func(arg string) Command
}

// argTriggers are tried in order after the ping check.
var argTriggers = []argTrigger{
	{RollTrigger, func(arg string) Command { return Roll{Text: arg} }},
	{SearchTrigger, func(arg string) Command { return Search{Query: arg} }},
}

// Parse maps text to exactly one Command. It never fails; unrecognized
// input is Noop.
func Parse(text string) Command {
	trimmed := strings.TrimSpace(text)
	body := stripCommandPrefix(trimmed)

	if strings.HasPrefix(body, PingTrigger) {
		return Ping{}
	}

	for _, t := range argTriggers {
		if arg, ok := matchArgTrigger(body, t.token); ok {
			return t.build(arg)
		}
	}

	if url, ok := FirstURL(trimmed); ok {
		leftover := strings.Replace(trimmed, url, "", 1)
		return Download{
			URL:      url,
			Leftover: strings.Join(strings.Fields(leftover), " "),
		}
	}

	return Noop{}
}

func stripCommandPrefix(s string) string {
	for _, p := range commandPrefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest
		}
	}
	return s
}

// matchArgTrigger checks the first whitespace delimited word against token.
// The word may carry a mention suffix ("s@somebot"). A trigger without any
// following text does not match.
func matchArgTrigger(body, token string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", false
	}
	first := fields[0]
	if !strings.HasPrefix(first, token) {
		return "", false
	}
	if rest := first[len(token):]; rest != "" && !strings.HasPrefix(rest, "@") {
		return "", false
	}
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), first))
	if arg == "" {
		return "", false
	}
	return arg, true
}

// Package llm turns free chat text into rewordings and cut instructions with
// a language model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/media"
)

// ErrDisabled is returned by a client that has no credentials.
var ErrDisabled = errors.New("language model disabled")

// ErrNoToolCall is returned when the model answered without calling the
// requested tool.
var ErrNoToolCall = errors.New("model did not call the tool")

// minInputLen is the longest input, in characters, that is never sent.
const minInputLen = 3

// Exchange is one few-shot example.
type Exchange struct {
	User      string
	Assistant string
}

// Tool forces a structured answer. Properties is a JSON schema object map.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request is one completion call.
type Request struct {
	System   string
	Examples []Exchange
	Input    string
	Tool     mo.Option[Tool]
}

// Response holds the model's text, or the raw tool input when a tool was
// requested.
type Response struct {
	Text      string
	ToolInput json.RawMessage
}

// Client performs completions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Service exposes the two bot-level language operations.
type Service struct {
	client Client
	log    logrus.FieldLogger
}

// NewService wraps client.
func NewService(client Client, log logrus.FieldLogger) *Service {
	return &Service{client: client, log: log}
}

func tooShort(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) <= minInputLen
}

const negationPrompt = `Olet botti joka palauttaa virkkeen käänteisellä merkityksellä.
Voit muuttaa sanamuotoja tarpeen mukaan.
Saat luvan lisätä vastaukseen nimen vain jos se esiintyy myös käyttäjän viimeisessä viestissä.
Nimet ovat todennäköisesti suomalaisia etunimiä.
Jos virkkeessä on useampi lause, palauta kielteinen muoto kaikista niistä.
Vastaa pelkällä virkkeellä.`

var negationExamples = []Exchange{
	{User: "mikko menee töihin", Assistant: "mikko ei mene töihin"},
	{User: "auto ostoon", Assistant: "ei laiteta autoa ostoon"},
	{User: "takaisin töihin", Assistant: "ei mennä takaisin töihin"},
	{User: "esitän puhelimessa mikko mallikasta ja jätän 200$ tarjouksen", Assistant: "en esitä puhelimessa mikko mallikasta enkä jätä 200$ tarjousta"},
}

// Reword returns text with its meaning negated. Input of three or fewer
// characters is not sent and yields None without an error.
func (s *Service) Reword(ctx context.Context, text string) (mo.Option[string], error) {
	if tooShort(text) {
		return mo.None[string](), nil
	}

	resp, err := s.client.Complete(ctx, Request{
		System:   negationPrompt,
		Examples: negationExamples,
		Input:    text,
	})
	if err != nil {
		return mo.None[string](), fmt.Errorf("reword: %w", err)
	}

	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return mo.None[string](), fmt.Errorf("reword: empty answer")
	}
	return mo.Some(out), nil
}

const cutToolName = "cut_video"

var cutTool = Tool{
	Name: cutToolName,
	Description: `Cut video with subsecond level accuracy. Instructions are likely in English or Finnish.
Some examples:
* 1m33s- => start_minutes = 1, start_seconds = 33
* 20s-45s => start_minutes = 0, start_seconds = 20, duration_minutes = 0, duration_seconds = 25
* vikat 2m34s => start_minutes = -2, start_seconds = -34
* ekat 6m8s => start_minutes = 0, start_seconds = 0, duration_minutes = 6, duration_seconds = 8
* 1m3.5s- => start_minutes = 1, start_seconds = 3.5`,
	Properties: map[string]any{
		"start_minutes": map[string]string{
			"type":        "number",
			"description": "Start minutes of resulting clip. SHOULD BE NEGATIVE if instructed to get e.g. last 15s.",
		},
		"start_seconds": map[string]string{
			"type":        "number",
			"description": "Start seconds of resulting clip. SHOULD BE NEGATIVE if instructed to get e.g. last 15s.",
		},
		"duration_minutes": map[string]string{
			"type":        "number",
			"description": "Duration of the resulting clip in minutes or 0 if the clip should continue until end of the video.",
		},
		"duration_seconds": map[string]string{
			"type":        "number",
			"description": "Duration of the resulting clip in seconds or 0 if the clip should continue until end of the video.",
		},
	},
	Required: []string{"start_minutes", "start_seconds"},
}

type cutArgs struct {
	StartMinutes    float64 `json:"start_minutes"`
	StartSeconds    float64 `json:"start_seconds"`
	DurationMinutes float64 `json:"duration_minutes"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Spec maps the tool answer to a CutSpec. A zero start with no duration
// means no trimming and yields None.
func (a cutArgs) Spec() mo.Option[media.CutSpec] {
	start := a.StartMinutes*60 + a.StartSeconds
	duration := a.DurationMinutes*60 + a.DurationSeconds

	if math.IsNaN(start) || math.IsInf(start, 0) {
		return mo.None[media.CutSpec]()
	}
	spec := media.CutSpec{Start: start}
	if duration > 0 && !math.IsInf(duration, 0) {
		spec.Duration = mo.Some(duration)
	}
	if spec.Start == 0 && spec.Duration.IsAbsent() {
		return mo.None[media.CutSpec]()
	}
	return mo.Some(spec)
}

// CutArgs interprets leftover message text as a trim request. Short input,
// an answer without a trim and any service failure all yield None; the
// error is returned for logging only.
func (s *Service) CutArgs(ctx context.Context, text string) (mo.Option[media.CutSpec], error) {
	if tooShort(text) {
		return mo.None[media.CutSpec](), nil
	}

	resp, err := s.client.Complete(ctx, Request{
		Input: text,
		Tool:  mo.Some(cutTool),
	})
	if err != nil {
		return mo.None[media.CutSpec](), fmt.Errorf("cut args: %w", err)
	}
	if len(resp.ToolInput) == 0 {
		return mo.None[media.CutSpec](), fmt.Errorf("cut args: %w", ErrNoToolCall)
	}

	var args cutArgs
	if err := json.Unmarshal(resp.ToolInput, &args); err != nil {
		return mo.None[media.CutSpec](), fmt.Errorf("cut args: decode tool input: %w", err)
	}

	spec := args.Spec()
	if s.log != nil {
		s.log.WithFields(logrus.Fields{"input": text, "present": spec.IsPresent()}).Debug("Parsed cut arguments")
	}
	return spec, nil
}

// DisabledClient is used when no API key is configured.
type DisabledClient struct{}

func (DisabledClient) Complete(context.Context, Request) (Response, error) {
	return Response{}, ErrDisabled
}

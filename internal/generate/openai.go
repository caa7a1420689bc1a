// Package generate produces post content for automation rules.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// Config controls the OpenAI-backed generator.
type Config struct {
	APIKey string
	Model  string
	// MaxTokens caps completion length; 0 keeps the API default.
	MaxTokens int
}

// OpenAI implements automation.ContentGenerator over the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	max    int
	log    logx.Logger
}

func NewOpenAI(cfg Config, log logx.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenAI{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		max:    cfg.MaxTokens,
		log:    log,
	}, nil
}

func (g *OpenAI) Generate(ctx context.Context, req automation.GenerateRequest) (automation.Content, error) {
	prompt := buildPrompt(req)

	creq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Language)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if g.max > 0 {
		creq.MaxCompletionTokens = g.max
	}

	resp, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return automation.Content{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return automation.Content{}, fmt.Errorf("empty completion for content type %s", req.Type)
	}

	g.log.Debug("content generated",
		logx.String("type", string(req.Type)),
		logx.String("lang", req.Language),
		logx.String("finish_reason", string(resp.Choices[0].FinishReason)))

	return automation.Content{
		Type:     req.Type,
		Language: req.Language,
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

func systemPrompt(lang string) string {
	if lang == "" {
		lang = "en"
	}
	return "You write short, engaging posts for a sports community channel. " +
		"Answer with the post text only, no preamble. Language: " + lang + "."
}

func buildPrompt(req automation.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %q post.", string(req.Type))
	if a := req.Anchor; a != nil {
		fmt.Fprintf(&b, " Context: %s vs %s", a.Home, a.Away)
		if a.Competition != "" {
			fmt.Fprintf(&b, " (%s)", a.Competition)
		}
		fmt.Fprintf(&b, ", kick-off %s.", a.StartsAt.Format("Mon 15:04 MST"))
	}
	return b.String()
}

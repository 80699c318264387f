package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	openai "github.com/openai/openai-go/v3"

	"hark/internal/i18n"
)

const DefaultSystemPrompt = `You are hark, a desktop voice assistant.
Your answers are spoken aloud, so keep them to one or two short sentences.
Do not use markdown, lists or emoji.
Answer in the language the user spoke.`

var errEmptyReply = errors.New("empty message content")

// Chat answers anything the local handlers did not take with an OpenAI
// chat completion. It always handles the command: failures are answered
// with an apology.
type Chat struct {
	client *openai.Client
	model  string
	prompt string
	tr     *i18n.Translator
	logger *slog.Logger
}

// NewChat returns the language model handler. A nil client means no API key
// is configured.
func NewChat(client *openai.Client, model, prompt string, tr *i18n.Translator, logger *slog.Logger) *Chat {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{
		client: client,
		model:  model,
		prompt: prompt,
		tr:     tr,
		logger: logger,
	}
}

func (c *Chat) Name() string { return "llm" }

func (c *Chat) Handle(ctx context.Context, text string) (string, bool, error) {
	if c.client == nil {
		return c.tr.T("llm_unconfigured"), true, nil
	}

	content, err := complete(ctx, c.client, c.model, c.prompt, text)
	switch {
	case errors.Is(err, errEmptyReply):
		return c.tr.T("empty_response"), true, nil
	case err != nil:
		return c.tr.T("request_error"), true, err
	}

	c.logger.Debug("Processed", "data", content)
	return content, true, nil
}

func complete(ctx context.Context, client *openai.Client, model, system, user string) (string, error) {
	return ask(ctx, client, model, openai.SystemMessage(system), openai.UserMessage(user))
}

func ask(ctx context.Context, client *openai.Client, model string, msgs ...openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", errEmptyReply)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyReply
	}

	return content, nil
}

// stripFences unwraps a reply the model put in a markdown code block,
// dropping the language tag after the opening fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	body := s[3:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = strings.TrimLeftFunc(body, unicode.IsLetter)
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")

	return strings.TrimSpace(body)
}

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// Intent is the classifier's reading of an utterance.
type Intent struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities"`
	Query    string            `json:"query"`
}

const intentPrompt = `
You are the intent classifier of a voice assistant.
Your ONLY job is to convert the user's utterance into a minimal structured JSON.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the question.
3. Output ONLY JSON. No markdown.
4. Never hallucinate unknown devices.

OUTPUT FORMAT:
{
  "intent": "<string>",
  "entities": { "device": "<device name or empty>" },
  "query": "<original user text>"
}

INTENTS:
- "turn_on"
- "turn_off"
- "unknown"  (anything else, including questions)

DEVICE REGISTRY:
%s

Map synonyms and other languages onto a registry name.
If no device is relevant, leave device empty.
If the meaning is unclear, intent = "unknown".
`

// Intents maps free-form phrasing such as "switch the light off please"
// onto a configured device using the language model. Anything that is not
// a device command is left to the next handler.
type Intents struct {
	client  *openai.Client
	model   string
	devices *Devices
	logger  *slog.Logger
}

func NewIntents(client *openai.Client, model string, devices *Devices, logger *slog.Logger) *Intents {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intents{
		client:  client,
		model:   model,
		devices: devices,
		logger:  logger,
	}
}

func (i *Intents) Name() string { return "intent" }

func (i *Intents) Handle(ctx context.Context, text string) (string, bool, error) {
	if i.client == nil || len(i.devices.Names()) == 0 {
		return "", false, nil
	}

	res, err := i.Analyze(ctx, text)
	if err != nil {
		return "", false, err
	}

	var on bool
	switch res.Intent {
	case "turn_on":
		on = true
	case "turn_off":
	default:
		return "", false, nil
	}

	dev, ok := i.devices.Lookup(res.Entities["device"])
	if !ok {
		return "", false, nil
	}

	reply, err := i.devices.Switch(ctx, dev, on)
	return reply, true, err
}

// Analyze classifies text against the device registry.
func (i *Intents) Analyze(ctx context.Context, text string) (Intent, error) {
	var registry strings.Builder
	for _, name := range i.devices.Names() {
		fmt.Fprintf(&registry, "- %q\n", name)
	}

	content, err := complete(ctx, i.client, i.model, fmt.Sprintf(intentPrompt, registry.String()), text)
	if err != nil {
		return Intent{}, err
	}

	i.logger.Debug("Processed", "data", content)

	content = stripFences(content)

	var out Intent
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Intent{}, fmt.Errorf("unmarshal intent: %w (raw: %s)", err, content)
	}

	return out, nil
}

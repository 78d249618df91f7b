package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"sakhivox/pkg/remote"
)

const systemPrompt = `
You are SAKHI, the voice assistant of a credit-score dashboard used by
Self-Help-Group (SHG) representatives.
Your job is to answer the user briefly and map the utterance to ONE action.

INPUT: JSON {"text": "<utterance>", "language": "<code>", "metrics": {...}}
"metrics" holds the current dashboard inputs. Read them, never invent them.

OUTPUT: ONLY a JSON object, no markdown:
{
  "reply": "<one short sentence in the user's language>",
  "action": { "type": "<type>", ... }
}

ACTION TYPES:
- {"type": "set_field", "field": "<field>", "value": <number>}
    change one dashboard input. The reply restates the change.
- {"type": "navigate", "target": "<view>"}
    open a view. Known views: "history", "dashboard", "loan".
- {"type": "show_logs"}
    read the recent prediction history.
- {"type": "predict"}
    compute the credit score for the current inputs.
- {"type": "none"}
    questions, greetings, anything else. Answer in "reply".

FIELDS (canonical, with bounds):
- "savings"     monthly savings per member in INR, 100–5000
- "attendance"  meeting attendance in percent, 0–100
- "repayment"   loan repayment rate in percent, 0–100

RULES:
1. Map synonyms in any language (बचत = savings, हाजिरी = attendance, etc).
2. Numbers are plain numbers: "three thousand" -> 3000, "90%" -> 90.
3. If a value is outside the bounds, use "none" and say so in "reply".
4. Never chain actions. Never hallucinate fields or views.
`

type OpenAI struct {
	client openai.Client
	model  shared.ChatModel
	logger *log.Logger
}

func NewOpenAI(client openai.Client, model string, logger *log.Logger) *OpenAI {
	m := shared.ChatModel(model)
	if m == "" {
		m = openai.ChatModelGPT5Nano
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAI{client: client, model: m, logger: logger.With("component", "nlu", "provider", "openai")}
}

func (o *OpenAI) Resolve(ctx context.Context, req Request) (Result, error) {
	in, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(in)),
		},
		Model: o.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		var oe *openai.Error
		if errors.As(err, &oe) {
			err = &remote.APIError{Service: "intent", StatusCode: oe.StatusCode, Body: oe.Message}
		}
		return Result{}, fmt.Errorf("%w: chat completion: %w", ErrResolutionFailed, err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in response", ErrResolutionFailed)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return Result{}, fmt.Errorf("%w: empty message content", ErrResolutionFailed)
	}

	o.logger.Debug("Processed", "data", content)

	res, err := decodeResult([]byte(content))
	if err != nil {
		return Result{}, fmt.Errorf("%w (raw: %s)", err, content)
	}
	if m, ok := res.Action.(MalformedAction); ok {
		o.logger.Warn("Malformed action", "err", m.Err, "raw", string(m.Raw))
	}
	return res, nil
}

package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"sakhivox/pkg/remote"
)

// OpenAI transcribes through the OpenAI audio transcription endpoint.
type OpenAI struct {
	client openai.Client
	model  openai.AudioModel
	logger *log.Logger
}

func NewOpenAI(client openai.Client, model string, logger *log.Logger) *OpenAI {
	m := openai.AudioModel(model)
	if m == "" {
		m = openai.AudioModelWhisper1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAI{client: client, model: m, logger: logger.With("component", "stt", "provider", "openai")}
}

func (o *OpenAI) Accepts() []string {
	return []string{"audio/webm", "audio/ogg", "audio/mpeg", "audio/flac", "audio/wav"}
}

func (o *OpenAI) Transcribe(ctx context.Context, req Request) (Result, error) {
	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(req.Audio), Filename(req.MimeType), req.MimeType),
		Model:          o.model,
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if !isAuto(req.Language) {
		params.Language = openai.String(req.Language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, apiError(err))
	}

	res := Result{Text: resp.Text, Language: LanguageCode(resp.Language)}
	o.logger.Debug("Transcribed", "text", res.Text, "lang", res.Language)
	return res, nil
}

// apiError maps an OpenAI status error onto remote.APIError so callers see one
// error shape whatever the provider.
func apiError(err error) error {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return &remote.APIError{Service: service, StatusCode: oe.StatusCode, Body: oe.Message}
	}
	return err
}

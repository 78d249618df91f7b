// Package tts turns reply text into spoken audio through a remote service and
// keeps the decoded clips in memory.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"

	openai "github.com/openai/openai-go/v3"

	"sakhivox/pkg/remote"
)

var ErrSynthesisFailed = errors.New("synthesis failed")

const service = "tts"

// maxAudio bounds a synthesized reply; anything bigger is not a spoken sentence.
const maxAudio = 16 << 20

type Audio struct {
	Data     []byte
	MimeType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Audio, error)
}

type HTTPOptions struct {
	BaseURL string // "/voice/speak" is appended
	Token   string
	Doer    remote.Doer
	Logger  *log.Logger
}

// HTTP posts {"text", "language"} and reads the audio body back.
type HTTP struct {
	url    string
	token  string
	doer   remote.Doer
	logger *log.Logger
}

func NewHTTP(opt HTTPOptions) *HTTP {
	if opt.Doer == nil {
		opt.Doer = http.DefaultClient
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &HTTP{
		url:    remote.Endpoint(opt.BaseURL, "/voice/speak"),
		token:  opt.Token,
		doer:   opt.Doer,
		logger: opt.Logger.With("component", "tts"),
	}
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (h *HTTP) Synthesize(ctx context.Context, text, language string) (Audio, error) {
	req, err := newJSONRequest(ctx, h.url, speakRequest{Text: text, Language: language})
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	req.Header.Set("Accept", "audio/*")
	remote.Bearer(h.token)(req)

	resp, err := h.doer.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	return readAudio(resp)
}

func readAudio(resp *http.Response) (Audio, error) {
	if err := remote.CheckStatus(service, resp); err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxAudio))
	if err != nil {
		return Audio{}, fmt.Errorf("%w: read body: %v", ErrSynthesisFailed, err)
	}
	if len(b) == 0 {
		return Audio{}, fmt.Errorf("%w: empty audio", ErrSynthesisFailed)
	}
	return Audio{Data: b, MimeType: resp.Header.Get("Content-Type")}, nil
}

// OpenAI synthesizes through the OpenAI speech endpoint. The model picks the
// pronunciation from the text itself, so the language is not sent.
type OpenAI struct {
	client openai.Client
	model  openai.SpeechModel
	voice  string
	logger *log.Logger
}

func NewOpenAI(client openai.Client, model, voice string, logger *log.Logger) *OpenAI {
	m := openai.SpeechModel(model)
	if m == "" {
		m = openai.SpeechModelGPT4oMiniTTS
	}
	if voice == "" {
		voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAI{client: client, model: m, voice: voice, logger: logger.With("component", "tts", "provider", "openai")}
}

func (o *OpenAI) Synthesize(ctx context.Context, text, _ string) (Audio, error) {
	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          o.model,
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		var oe *openai.Error
		if errors.As(err, &oe) {
			err = &remote.APIError{Service: service, StatusCode: oe.StatusCode, Body: oe.Message}
		}
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	a, err := readAudio(resp)
	if err != nil {
		return Audio{}, err
	}
	if a.MimeType == "" {
		a.MimeType = "audio/mpeg"
	}
	return a, nil
}

func newJSONRequest(ctx context.Context, url string, v any) (*http.Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

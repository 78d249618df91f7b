package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"sakhivox/pkg/remote"
)

const service = "stt"

var defaultAccepts = []string{"audio/webm", "audio/ogg", "audio/wav"}

type HTTPOptions struct {
	BaseURL string      // service root, "/voice/transcribe" is appended
	Token   string      // bearer token, optional
	Accepts []string    // nil => webm, ogg, wav
	Doer    remote.Doer // nil => http.DefaultClient
	Logger  *log.Logger
}

// HTTP posts the utterance as multipart form data ("audio", "language") and
// expects {"text": ..., "language": ...} back.
type HTTP struct {
	url     string
	token   string
	accepts []string
	doer    remote.Doer
	logger  *log.Logger
}

func NewHTTP(opt HTTPOptions) *HTTP {
	if opt.Doer == nil {
		opt.Doer = http.DefaultClient
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	if len(opt.Accepts) == 0 {
		opt.Accepts = defaultAccepts
	}
	return &HTTP{
		url:     remote.Endpoint(opt.BaseURL, "/voice/transcribe"),
		token:   opt.Token,
		accepts: opt.Accepts,
		doer:    opt.Doer,
		logger:  opt.Logger.With("component", "stt"),
	}
}

func (h *HTTP) Accepts() []string { return h.accepts }

type transcribeResponse struct {
	Text     string  `json:"text"`
	Language *string `json:"language"`
}

func (h *HTTP) Transcribe(ctx context.Context, req Request) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, Filename(req.MimeType)))
	hdr.Set("Content-Type", req.MimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	lang := req.Language
	if lang == "" {
		lang = LanguageAuto
	}
	if err := mw.WriteField("language", lang); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	hreq.Header.Set("Content-Type", mw.FormDataContentType())
	hreq.Header.Set("Accept", "application/json")
	remote.Bearer(h.token)(hreq)

	resp, err := h.doer.Do(hreq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	if err := remote.CheckStatus(service, resp); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrTranscriptionFailed, err)
	}

	res := Result{Text: out.Text}
	if out.Language != nil {
		res.Language = LanguageCode(*out.Language)
	}
	h.logger.Debug("Transcribed", "text", res.Text, "lang", res.Language, "bytes", len(req.Audio))
	return res, nil
}

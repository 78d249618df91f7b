// Package stt holds the remote speech-to-text clients.
package stt

import (
	"context"
	"errors"
	"mime"
	"strings"
)

var ErrTranscriptionFailed = errors.New("transcription failed")

// LanguageAuto asks the service to detect the spoken language.
const LanguageAuto = "auto"

type Request struct {
	Audio    []byte
	MimeType string // e.g. "audio/wav"
	Language string // BCP-47 hint or "auto"
}

type Result struct {
	Text     string
	Language string // detected ISO-639-1 code, empty when unknown
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
	// Accepts lists the MIME types the service understands, best first.
	Accepts() []string
}

// Filename picks an upload name whose extension matches the MIME type.
// Some services sniff the format from the name.
func Filename(mimeType string) string {
	base, _, _ := mime.ParseMediaType(mimeType)
	switch base {
	case "audio/webm":
		return "utterance.webm"
	case "audio/ogg", "audio/opus":
		return "utterance.ogg"
	case "audio/mpeg", "audio/mp3":
		return "utterance.mp3"
	case "audio/flac":
		return "utterance.flac"
	case "audio/mp4", "audio/m4a":
		return "utterance.m4a"
	default:
		return "utterance.wav"
	}
}

func isAuto(lang string) bool {
	lang = strings.TrimSpace(lang)
	return lang == "" || strings.EqualFold(lang, LanguageAuto)
}

var languageCodes = map[string]string{
	"english":   "en",
	"hindi":     "hi",
	"marathi":   "mr",
	"bengali":   "bn",
	"tamil":     "ta",
	"telugu":    "te",
	"kannada":   "kn",
	"malayalam": "ml",
	"gujarati":  "gu",
	"punjabi":   "pa",
	"urdu":      "ur",
	"odia":      "or",
	"oriya":     "or",
	"assamese":  "as",
	"nepali":    "ne",
}

// LanguageCode normalizes a detected language to ISO-639-1. Whisper reports
// names ("english"), other services codes or locales ("hi", "en-IN").
// Anything unrecognized comes back empty.
func LanguageCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if c, ok := languageCodes[l]; ok {
		return c
	}
	if i := strings.IndexAny(l, "-_"); i == 2 {
		l = l[:2]
	}
	if len(l) == 2 && l[0] >= 'a' && l[0] <= 'z' && l[1] >= 'a' && l[1] <= 'z' {
		return l
	}
	return ""
}

package tts

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"sakhivox/internal/playback"
	"sakhivox/internal/telemetry"
	"sakhivox/pkg/audioconv"
)

type Options struct {
	Synth      Synthesizer
	Player     playback.Player // nil => clips are cached but never played
	SampleRate int             // decode target, normally the speaker rate; 0 keeps source rate
	Metrics    *telemetry.Metrics
	Logger     *log.Logger
}

type key struct {
	lang string
	text string
}

// Cache maps (language, text) to a decoded clip. Entries live for the process
// lifetime. Two concurrent misses for the same key may both hit the service;
// the later store wins.
type Cache struct {
	synth   Synthesizer
	player  playback.Player
	rate    int
	metrics *telemetry.Metrics
	logger  *log.Logger

	mu    sync.RWMutex
	clips map[key]*playback.Clip
}

func NewCache(opt Options) *Cache {
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Cache{
		synth:   opt.Synth,
		player:  opt.Player,
		rate:    opt.SampleRate,
		metrics: opt.Metrics,
		logger:  opt.Logger.With("component", "speech"),
		clips:   make(map[key]*playback.Clip),
	}
}

// Speak plays text, synthesizing it on a cache miss. Speech is best effort:
// failures are logged and Speak still returns nil so the caller's turn goes on.
func (c *Cache) Speak(ctx context.Context, text, language string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	clip, err := c.Prepare(ctx, text, language)
	if err != nil {
		c.logger.Warn("Speech abandoned", "err", err, "text", text, "lang", language)
		return nil
	}
	if c.player == nil {
		return nil
	}

	// newest wins
	c.player.Stop()
	if err := c.player.Play(clip); err != nil {
		c.logger.Warn("Playback failed", "err", err)
	}
	return nil
}

// Prepare returns the clip for text without playing it.
func (c *Cache) Prepare(ctx context.Context, text, language string) (*playback.Clip, error) {
	k := key{lang: language, text: strings.TrimSpace(text)}
	if k.text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	c.mu.RLock()
	clip, ok := c.clips[k]
	c.mu.RUnlock()
	c.metrics.CacheLookup(ok)
	if ok {
		return clip, nil
	}

	start := time.Now()
	a, err := c.synth.Synthesize(ctx, k.text, k.lang)
	c.metrics.Stage("synthesize", start)
	if err != nil {
		return nil, err
	}

	pcm, err := audioconv.Decode(a.Data, a.MimeType, audioconv.Options{SampleRate: c.rate})
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrSynthesisFailed, err)
	}
	clip = playback.NewClip(pcm)

	c.mu.Lock()
	c.clips[k] = clip
	c.mu.Unlock()

	c.logger.Debug("Cached", "text", k.text, "lang", k.lang, "dur", clip.Duration())
	return clip, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clips)
}

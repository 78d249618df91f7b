package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/faiface/beep"
	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"sakhivox/internal/audio"
	"sakhivox/internal/backend"
	"sakhivox/internal/config"
	"sakhivox/internal/conversation"
	"sakhivox/internal/dispatch"
	"sakhivox/internal/form"
	"sakhivox/internal/ipc"
	"sakhivox/internal/nlu"
	"sakhivox/internal/playback"
	"sakhivox/internal/proxy"
	"sakhivox/internal/telemetry"
	"sakhivox/internal/tts"
	"sakhivox/internal/vox"
	"sakhivox/pkg/protocol"
	"sakhivox/pkg/remote"
	"sakhivox/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "sakhivox.yaml", "YAML config path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks Proxy Address")
	hubURL := cli.StringP("url", "u", "", "Url of dashboard hub")
	provider := cli.String("provider", "", "Voice provider: http|openai")
	language := cli.String("lang", "", "Language hint for transcription, auto to detect")
	socket := cli.StringP("socket", "s", "", "Control socket path")
	metricsAddr := cli.StringP("metrics", "m", "", "Serve Prometheus metrics on this address")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	cfg, err := config.Load(*cfgFile, *envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	override(&cfg.Proxy, *proxyAddr)
	override(&cfg.Dashboard.URL, *hubURL)
	override(&cfg.Provider, *provider)
	override(&cfg.Voice.Language, *language)
	override(&cfg.Socket, *socket)
	override(&cfg.MetricsAddr, *metricsAddr)
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded config", "provider", cfg.Provider, "api", cfg.API.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := telemetry.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, tel)
	}

	httpClient, err := proxy.NewHTTPClient(cfg.Proxy, cfg.Timeout)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Proxy, "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded proxy")

	breaker := func(name string) remote.Doer {
		return remote.NewBreaker(name, httpClient, remote.DefaultBreakerSettings(), nil)
	}

	api := backend.New(backend.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Doer:    breaker("api"),
	})

	var (
		transcriber stt.Transcriber
		synth       tts.Synthesizer
		resolver    nlu.Resolver
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.OpenAI.APIKey),
			option.WithHTTPClient(breaker("openai")),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client := openai.NewClient(opts...)

		transcriber = stt.NewOpenAI(client, cfg.OpenAI.STTModel, nil)
		synth = tts.NewOpenAI(client, cfg.OpenAI.TTSModel, cfg.OpenAI.TTSVoice, nil)
		resolver = nlu.NewOpenAI(client, cfg.OpenAI.ChatModel, nil)
	default:
		transcriber = stt.NewHTTP(stt.HTTPOptions{
			BaseURL: cfg.Voice.BaseURL,
			Token:   cfg.Voice.Token,
			Accepts: cfg.Voice.Accepts,
			Doer:    breaker("stt"),
		})
		synth = tts.NewHTTP(tts.HTTPOptions{
			BaseURL: cfg.Voice.BaseURL,
			Token:   cfg.Voice.Token,
			Doer:    breaker("tts"),
		})
		resolver = nlu.NewHTTP(nlu.HTTPOptions{
			BaseURL: cfg.Voice.BaseURL,
			Token:   cfg.Voice.Token,
			Doer:    breaker("intent"),
		})
	}

	log.Debug("Loaded voice services")

	mic := audio.PortAudio{}
	if err := mic.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer mic.Terminate()

	var (
		player playback.Player
		cue    func()
	)
	if spk, err := playback.NewSpeaker(cfg.Audio.SpeakerRate, nil); err != nil {
		log.Warn("No audio output, replies will be silent", "err", err)
	} else {
		defer spk.Close()
		player = spk
		if cfg.Audio.Cue {
			tone := playback.Tone(880, 120*time.Millisecond, beep.SampleRate(cfg.Audio.SpeakerRate))
			cue = func() { _ = spk.Play(tone) }
		}
	}

	speech := tts.NewCache(tts.Options{
		Synth:      synth,
		Player:     player,
		SampleRate: cfg.Audio.SpeakerRate,
		Metrics:    tel,
	})

	transcript := conversation.NewLog(cfg.TranscriptSize)
	store := form.NewStore(cfg.InitialMetrics)
	view := vox.NewView(cfg.Dashboard.Views, cfg.Dashboard.Default)

	var (
		ptcl *protocol.Protocol
		bus  *vox.Bus
	)
	if cfg.Dashboard.URL != "" {
		ptcl = protocol.NewProtocol(protocol.PtclConfig{
			Url:    cfg.Dashboard.URL,
			Reconn: cfg.Dashboard.Reconnect,
		})
		bus = vox.NewBus(ptcl, nil)
	} else {
		bus = vox.NewBus(nil, nil)
	}
	bus.Attach(transcript, view, store)

	disp := dispatch.New(dispatch.Options{
		Transcript:    transcript,
		Speaker:       speech,
		Metrics:       store,
		Navigator:     view,
		Logs:          api,
		Scorer:        api,
		Telemetry:     tel,
		OnPrediction:  bus.Prediction,
		OnStateChange: bus.State,
	})

	var assistant *vox.Assistant
	rec := audio.NewRecorder(audio.Options{
		Device:          mic,
		Encoder:         audio.Negotiate(nil, transcriber.Accepts()),
		SampleRate:      cfg.Audio.SampleRate,
		FrameSize:       cfg.Audio.FrameSize,
		MaxDuration:     cfg.Audio.MaxDuration,
		SilenceDuration: cfg.Audio.SilenceDuration,
		OnAutoStop: func() {
			if err := assistant.StopListening(ctx); err != nil {
				log.Error("Failed to stop listening", "err", err)
			}
		},
	})

	assistant = vox.NewAssistant(vox.Options{
		Recorder:        rec,
		Transcriber:     transcriber,
		Resolver:        resolver,
		Dispatcher:      disp,
		Transcript:      transcript,
		Metrics:         store,
		Language:        cfg.Voice.Language,
		DefaultLanguage: cfg.Voice.DefaultLanguage,
		Cue:             cue,
		Telemetry:       tel,
	})

	srv, err := ipc.StartServer(cfg.Socket, func(msg ipc.ControlMessage) ipc.ControlReply {
		st, err := assistant.Command(ctx, msg.Cmd)
		if err != nil {
			log.Warn("Command failed", "cmd", msg.Cmd, "err", err)
			return ipc.ControlReply{State: st, Error: err.Error()}
		}
		return ipc.ControlReply{OK: true, State: st}
	}, nil)
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer srv.Close()

	if ptcl != nil {
		ptcl.OnCmd(bus.Commands(ctx, assistant))
		go func() {
			if err := ptcl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Dashboard link stopped", "err", err)
			}
		}()
	}

	log.Info("Boot up - successful", "socket", cfg.Socket)

	<-ctx.Done()

	log.Info("Shutting down")
	if _, _, err := rec.Stop(); err != nil {
		log.Warn("Discarding recording", "err", err)
	}
	assistant.Wait()
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func serveMetrics(addr string, tel *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())
	log.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Metrics server stopped", "err", err)
	}
}

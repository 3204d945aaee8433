package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ent0n29/kiosk/internal/answer"
	"github.com/ent0n29/kiosk/internal/backend"
	"github.com/ent0n29/kiosk/internal/config"
	"github.com/ent0n29/kiosk/internal/events"
	"github.com/ent0n29/kiosk/internal/httpapi"
	"github.com/ent0n29/kiosk/internal/kiosk"
	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/observability"
	"github.com/ent0n29/kiosk/internal/presentation"
	"github.com/ent0n29/kiosk/internal/renderer"
	"github.com/ent0n29/kiosk/internal/settings"
	"github.com/ent0n29/kiosk/internal/store"
	"github.com/ent0n29/kiosk/internal/voice"
)

// mockQuestion is what the headless recognizer "hears" on every turn.
const mockQuestion = "What are the opening hours?"

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *kiosk.Orchestrator
	Hub          *renderer.Hub
	Session      *voice.Session
	Metrics      *observability.Metrics
	// BackendURL is the resolved base URL the controller fetches from.
	BackendURL string

	// Cleanup should be called on shutdown to release external resources (DB, NATS).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	mediaStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("media store init failed: %w", err)
	}

	publisher, err := events.New(cfg.NATSURL, cfg.NATSSubjectPrefix, metrics, logger)
	if err != nil {
		_ = mediaStore.Close()
		return nil, fmt.Errorf("event publisher init failed: %w", err)
	}

	answerer, err := answer.NewAnswerer(answer.Config{
		Provider:     cfg.AnswerProvider,
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		Timeout:      cfg.QueryTimeout,
		Profile:      cfg.Profile.Organisation,
		Instructions: cfg.Profile.Instructions,
	})
	if err != nil {
		_ = publisher.Close()
		_ = mediaStore.Close()
		return nil, fmt.Errorf("answerer init failed: %w", err)
	}

	backendURL := cfg.BackendURL
	if backendURL == "" {
		backendURL = selfURL(cfg.BindAddr)
	}
	client := backend.NewClient(backendURL, cfg.FetchTimeout, metrics)
	settingsStore := settings.NewStore(client, logger)

	hub := renderer.NewHub(logger, metrics)
	loop := presentation.NewLoop(hub, hub, func() time.Duration {
		return settingsStore.Current().SliderInterval()
	}, presentation.WithLogger(logger), presentation.WithMetrics(metrics))

	orchestrator := kiosk.New(kiosk.Config{
		Loop:      loop,
		Settings:  settingsStore,
		Catalog:   media.NewLoader(client),
		View:      hub,
		Publisher: publisher,
		Logger:    logger,
	})

	recognizer, synthesizer := voiceProviders(cfg.VoiceProvider, hub)
	session := voice.NewSession(voice.Config{
		Recognizer:   recognizer,
		Synthesizer:  synthesizer,
		Querier:      client,
		Settings:     settingsStore.Current,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
		Metrics:      metrics,
		OnChange:     orchestrator.VoiceChanged,
	})
	orchestrator.AttachSession(session)
	hub.SetControlHandler(orchestrator)

	api := httpapi.New(cfg, httpapi.Deps{
		Store:      mediaStore,
		Answerer:   answerer,
		Hub:        hub,
		Controller: orchestrator,
		Publisher:  publisher,
		Logger:     logger,
	})

	logger.Info("kiosk components ready",
		slog.String("store_mode", mediaStore.Mode()),
		slog.String("voice_provider", cfg.VoiceProvider),
		slog.String("answer_provider", fmt.Sprintf("%T", answerer)),
		slog.String("backend_url", backendURL),
		slog.Bool("events", cfg.NATSURL != ""),
	)

	cleanup := func() error {
		var errs []string
		if err := publisher.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := mediaStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Hub:          hub,
		Session:      session,
		Metrics:      metrics,
		BackendURL:   backendURL,
		Cleanup:      cleanup,
	}, nil
}

// voiceProviders picks the speech engines. "renderer" uses the browser's
// Web Speech through the hub; "mock" runs headless with scripted engines.
func voiceProviders(provider string, hub *renderer.Hub) (voice.Recognizer, voice.Synthesizer) {
	if provider == "mock" {
		rec := voice.NewMockRecognizer().WithScript(1500*time.Millisecond, mockQuestion)
		synth := voice.NewMockSynthesizer(
			voice.Voice{Name: "Mock English", Lang: "en-IN"},
			voice.Voice{Name: "Mock Hindi", Lang: "hi-IN"},
			voice.Voice{Name: "Mock Marathi", Lang: "mr-IN"},
		).WithAutoEnd(time.Second)
		return rec, synth
	}
	return hub, hub
}

// selfURL is the loopback URL of this process's own API.
func selfURL(bindAddr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bindAddr))
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

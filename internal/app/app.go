package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/lukasbauer/voxquery/internal/codec"
	"github.com/lukasbauer/voxquery/internal/eventlog"
	"github.com/lukasbauer/voxquery/internal/profile"
	"github.com/lukasbauer/voxquery/internal/token"
	"github.com/lukasbauer/voxquery/internal/transport"
	"github.com/lukasbauer/voxquery/internal/voice"
	"github.com/rs/zerolog"
)

type App struct {
	cfg      Config
	logger   zerolog.Logger
	db       *pgxpool.Pool
	eventLog *eventlog.Logger
	profile  *profile.FileStore
	ws       *transport.WSClient
	service  *voice.Service
}

// New builds the query service from cfg. Audio is captured from src, or
// stdin when src is nil.
func New(cfg Config, logger zerolog.Logger, src audio.SourceFunc) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	profiles := profile.NewFileStore(cfg.ProfilePath)
	profileID, err := profiles.EnsureID()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		profile: profiles,
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	}
	a.eventLog = eventlog.New(a.db, logger)
	if err := a.eventLog.EnsureSchema(context.Background()); err != nil {
		_ = a.Close()
		return nil, err
	}

	conv := codec.New()
	tcfg := transport.Config{
		ServerURL:      cfg.ServerURL,
		AudioProfileID: profileID,
		ClientInfo:     cfg.ClientInfo,
	}

	// VAD needs the server to see audio as it is captured, which only the
	// websocket transport provides.
	var client transport.Client
	if cfg.VADEnabled {
		a.ws = transport.NewWSClient(tcfg, &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}, conv, logger)
		client = a.ws
	} else {
		client = transport.NewRESTClient(tcfg, newHTTPClient(cfg), conv, logger)
	}

	if src == nil {
		src = audio.ReaderSource(os.Stdin)
	}
	recorder := audio.NewStreamRecorder(src, audio.StreamConfig{
		SampleRate:     cfg.SampleRate,
		BitsPerSample:  audio.DefaultBitsPerSample,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxDuration:    cfg.MaxRecording,
		Paced:          cfg.VADEnabled,
	}, logger)

	a.service, err = voice.NewService(voice.Options{
		Client:    client,
		Recorder:  recorder,
		Converter: conv,
		Tokens:    token.NewStore(cfg.RefreshToken, cfg.TokenMargin),
		Profile:   profiles,
		UserID:    cfg.UserID,
		Logger:    logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// newHTTPClient returns the pooled client used by the REST transport. The
// timeout covers a whole audio upload, so it includes the recording bound.
func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout: cfg.RequestTimeout + cfg.MaxRecording,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10, // single query API host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (a *App) Config() Config {
	return a.cfg
}

func (a *App) Service() *voice.Service {
	return a.service
}

func (a *App) Profile() *profile.FileStore {
	return a.profile
}

// Callback wraps cb with query event logging and, when Sentry is configured,
// failure reporting.
func (a *App) Callback(cb voice.Callback) voice.Callback {
	tracked := a.eventLog.Track(cb)
	if a.cfg.SentryDSN == "" {
		return tracked
	}
	return voice.Fanout{tracked, NewSentryCallback(nil)}
}

func (a *App) Close() error {
	if a.ws != nil {
		_ = a.ws.Close()
	}
	if a.eventLog != nil {
		a.eventLog.Wait()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

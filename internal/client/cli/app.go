// Package cli is the interactive front end used on capture devices and in
// the field for diagnostics: queue entries, watch the sync state, inspect
// conflicts.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	gosync "sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/blob"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/session"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/sync"
	"github.com/dmitrijs2005/fieldsync/internal/logging"

	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// sessionHolder lets the API client be wired before the user has unlocked a
// session. Until then requests go out unauthenticated.
type sessionHolder struct {
	mu gosync.Mutex
	s  *session.Session
}

func (h *sessionHolder) AccessToken(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.s == nil {
		return "", nil
	}
	return h.s.AccessToken(ctx)
}

func (h *sessionHolder) Invalidate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.s == nil {
		return nil
	}
	return h.s.Invalidate(ctx)
}

func (h *sessionHolder) set(s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = s
}

type App struct {
	config  *config.Config
	store   *store.Store
	holder  *sessionHolder
	api     api.Client
	engine  *sync.Engine
	capture *services.CaptureService
	cache   *services.CacheService
	log     logging.Logger

	Mode   Mode
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Discard()
	}

	st := store.New(cfg.DatabasePath, log)
	// Storage trouble must not keep the app from starting; saves will report
	// it per-operation.
	if err := st.Init(ctx); err != nil {
		log.Warn(ctx, "local store unavailable", "error", err)
	}

	holder := &sessionHolder{}
	apiClient := api.NewHTTPClient(cfg.APIEndpointAddr, holder, log)

	uploader, err := newUploader(ctx, cfg, apiClient)
	if err != nil {
		return nil, err
	}

	engine := sync.NewEngine(st, apiClient, uploader, sync.Config{
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}, log)

	app := &App{
		config:  cfg,
		store:   st,
		holder:  holder,
		api:     apiClient,
		engine:  engine,
		capture: services.NewCaptureService(st, engine, log),
		cache:   services.NewCacheService(st, apiClient, engine.IsOnline, cfg.CacheMaxAge, log),
		log:     log,
		Mode:    ModeOffline,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}

	engine.Subscribe(app.onSyncEvent)
	return app, nil
}

func newUploader(ctx context.Context, cfg *config.Config, apiClient api.Client) (blob.Uploader, error) {
	switch cfg.PhotoBackend {
	case "s3":
		return blob.NewS3Uploader(ctx, blob.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			KeyPrefix:       cfg.S3KeyPrefix,
		})
	case "presigned":
		return blob.NewPresignUploader(apiClient), nil
	default:
		return blob.NewAPIUploader(apiClient), nil
	}
}

func (a *App) setMode(mode Mode) {
	if a.Mode != mode {
		a.Mode = mode
		fmt.Fprintf(a.out, "Switched to %s mode\n", mode)
	}
	a.engine.SetOnline(mode == ModeOnline)
}

// StartOnlineStatusWatcher probes the API on the given interval and feeds
// the result to the engine, which turns offline-to-online edges into sync
// cycles.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := a.api.Ping(probeCtx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
			} else {
				a.setMode(ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) onSyncEvent(ev sync.Event) {
	switch ev.Name {
	case sync.EventSyncComplete:
		if p, ok := ev.Payload.(sync.CompletePayload); ok && p.Synced+p.Failed > 0 {
			fmt.Fprintf(a.out, "\n[sync] %d synced, %d failed\n", p.Synced, p.Failed)
		}
	case sync.EventConflict:
		if p, ok := ev.Payload.(sync.ConflictPayload); ok {
			fmt.Fprintf(a.out, "\n[sync] conflict on %s %s, server version kept (fields: %v)\n", p.Type, p.OfflineID, p.Fields)
		}
	}
}

func (a *App) Run(ctx context.Context) {
	defer a.Close()
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)
	a.Root(ctx)
}

func (a *App) Close() {
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn(context.Background(), "failed to close store", "error", err)
	}
}

package paveurpath

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/paveurpath/core"
	"pkt.systems/paveurpath/httpapi"
	"pkt.systems/paveurpath/internal/backend"
	"pkt.systems/paveurpath/internal/eventbus"
	"pkt.systems/paveurpath/internal/persist"
	"pkt.systems/paveurpath/internal/session"
	"pkt.systems/paveurpath/internal/version"
	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// Backend modes.
const (
	BackendHTTP = "http"
	BackendMock = "mock"
)

// Config configures the compositor.
type Config struct {
	Chat    schema.ChatConfig
	HTTP    httpapi.Config
	State   StateConfig
	Backend BackendConfig
}

// StateConfig defines where the session record is persisted. An empty Dir
// keeps the session in memory only.
type StateConfig struct {
	Dir          string
	Namespace    string
	Encrypt      bool
	KeyStorePath string
}

// BackendConfig selects the transport.
type BackendConfig struct {
	Mode      string
	BaseURL   string
	MockDelay time.Duration
	Timeout   time.Duration
}

// Transport is the full backend surface: account requests and chat.
type Transport interface {
	core.ChatTransport
	core.AuthTransport
}

// Deps captures optional overrides. Nil fields are built from Config.
type Deps struct {
	Logger    pslog.Logger
	Transport Transport
	Persist   persist.Adapter
	EventSink core.EventSink
}

// Option toggles front ends.
type Option func(*options)

type options struct {
	enableHTTP     bool
	enableTerminal bool
}

// WithHTTP enables the local HTTP front end.
func WithHTTP() Option {
	return func(o *options) { o.enableHTTP = true }
}

// WithTerminal enables the in-process event bus used by the terminal chat.
func WithTerminal() Option {
	return func(o *options) { o.enableTerminal = true }
}

// App is a composed client: persisted session, backend transport, account
// flows, chat controller and the enabled front ends.
type App struct {
	cfg     Config
	options options
	log     pslog.Logger

	store      *session.Store
	adapter    persist.Adapter
	writer     *persist.Writer
	transport  Transport
	auth       *core.Auth
	controller *core.Controller
	hub        *httpapi.Hub
	bus        *eventbus.Bus
	httpSrv    *httpapi.Server

	unsubscribeWriter func()
	closeOnce         sync.Once

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

// New constructs the client. The persisted session is read exactly once,
// before the session store exists.
func New(cfg Config, deps Deps, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	chatCfg, err := schema.NormalizeChatConfig(cfg.Chat)
	if err != nil {
		return nil, err
	}
	cfg.Chat = chatCfg

	adapter := deps.Persist
	if adapter == nil {
		adapter, err = newAdapter(cfg.State, logger)
		if err != nil {
			return nil, err
		}
	}
	transport := deps.Transport
	if transport == nil {
		transport, err = newTransport(cfg.Backend, logger)
		if err != nil {
			return nil, err
		}
	}

	initial := persist.Rehydrate(adapter, logger)
	store := session.NewStoreWithLogger(initial, logger)
	writer := persist.NewWriter(adapter, logger)
	app := &App{
		cfg:       cfg,
		options:   o,
		log:       logger,
		store:     store,
		adapter:   adapter,
		writer:    writer,
		transport: transport,
	}
	app.unsubscribeWriter = store.Subscribe(writer.Observe)

	sinks := make([]core.EventSink, 0, 3)
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	if o.enableHTTP {
		app.hub = httpapi.NewHubWithLogger(cfg.HTTP.HubHistory, logger)
		sinks = append(sinks, app.hub)
	}
	if o.enableTerminal {
		app.bus = eventbus.New(logger)
		sinks = append(sinks, app.bus)
	}
	var sink core.EventSink
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = eventFanout{sinks: sinks}
	}

	auth, err := core.NewAuth(core.AuthDeps{Transport: transport, Session: store, Logger: logger})
	if err != nil {
		app.Close()
		return nil, err
	}
	controller, err := core.NewController(cfg.Chat, core.ControllerDeps{
		Transport: transport,
		Session:   store,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.auth = auth
	app.controller = controller
	if o.enableHTTP {
		app.httpSrv = httpapi.NewServer(cfg.HTTP, controller, auth, app.hub)
	}
	logger.Info("client ready",
		"authenticated", initial.Authenticated(),
		"backend", backendMode(cfg.Backend.Mode),
		"free_messages", cfg.Chat.FreeMessages,
		"history", cfg.Chat.HistoryMode,
		"http", o.enableHTTP,
		"terminal", o.enableTerminal,
	)
	return app, nil
}

func newAdapter(cfg StateConfig, logger pslog.Logger) (persist.Adapter, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		logger.Debug("client state in memory")
		return persist.NewMemoryStore(), nil
	}
	if !cfg.Encrypt {
		return persist.NewFileStoreWithLogger(cfg.Dir, cfg.Namespace, logger)
	}
	cipher, err := persist.NewCipher(cfg.KeyStorePath, cfg.Namespace, logger)
	if err != nil {
		return nil, err
	}
	return persist.NewEncryptedFileStore(cfg.Dir, cfg.Namespace, cipher, logger)
}

func newTransport(cfg BackendConfig, logger pslog.Logger) (Transport, error) {
	switch backendMode(cfg.Mode) {
	case BackendMock:
		return backend.NewMock(cfg.MockDelay), nil
	case BackendHTTP:
		return backend.NewClient(backend.Options{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
			UserAgent: version.UserAgent(),
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
	}
}

func backendMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return BackendHTTP
	}
	return mode
}

// Session returns the session store.
func (a *App) Session() *session.Store {
	return a.store
}

// Auth returns the account flows.
func (a *App) Auth() *core.Auth {
	return a.auth
}

// Controller returns the chat controller.
func (a *App) Controller() *core.Controller {
	return a.controller
}

// Bus returns the terminal event bus, or nil when WithTerminal was not set.
func (a *App) Bus() *eventbus.Bus {
	return a.bus
}

// Handler returns the HTTP front end handler, or nil when WithHTTP was not set.
func (a *App) Handler() http.Handler {
	if a.httpSrv == nil {
		return nil
	}
	return a.httpSrv.Handler()
}

// Flush waits until the latest session snapshot has been persisted.
func (a *App) Flush() {
	a.writer.Flush()
}

// Close detaches the controller and drains pending session writes. It is
// safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.controller != nil {
			a.controller.Close()
		}
		if a.unsubscribeWriter != nil {
			a.unsubscribeWriter()
		}
		a.writer.Close()
		if failures := a.writer.Failures(); failures > 0 {
			a.log.Warn("client state writes failed", "failures", failures)
		}
		a.log.Debug("client closed")
	})
}

// Start runs the enabled front ends in the background.
func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		pslog.Ctx(ctx).Warn("client start rejected", "reason", "already started")
		return errors.New("client already started")
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.errCh = make(chan error, 1)
	a.started = true
	a.mu.Unlock()

	log := pslog.Ctx(a.ctx)
	log.Info("client start", "http", a.options.enableHTTP, "http_addr", a.cfg.HTTP.Addr, "http_base_path", a.cfg.HTTP.BasePath)
	if a.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(a.ctx, a.cfg.HTTP.Addr, a.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				a.errCh <- err
			}
		}()
	}
	return nil
}

// StartListener serves the HTTP front end on an existing listener.
func (a *App) StartListener(ctx context.Context, listener net.Listener) error {
	if a.httpSrv == nil {
		return errors.New("http front end not enabled")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("client already started")
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.errCh = make(chan error, 1)
	a.started = true
	a.mu.Unlock()

	log := pslog.Ctx(a.ctx)
	log.Info("client start", "http", true, "http_addr", listener.Addr().String())
	go func() {
		if err := httpapi.Serve(a.ctx, listener, a.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			a.errCh <- err
		}
	}()
	return nil
}

// Wait blocks until the client context ends or a front end fails.
func (a *App) Wait() error {
	a.mu.Lock()
	ctx := a.ctx
	errCh := a.errCh
	started := a.started
	a.mu.Unlock()
	if !started {
		return errors.New("client not started")
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("client stopped", "err", err)
			_ = a.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop cancels the front ends and drains pending session writes.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	runCtx := a.ctx
	started := a.started
	a.mu.Unlock()
	log := a.log
	log.Info("client stop requested")
	if cancel != nil {
		cancel()
	}
	a.Close()
	if !started || ctx == nil {
		log.Info("client stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("client stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-runCtx.Done():
		log.Info("client stopped")
		return nil
	}
}

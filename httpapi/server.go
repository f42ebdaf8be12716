package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pkt.systems/paveurpath/core"
	"pkt.systems/paveurpath/internal/authgate"
	"pkt.systems/paveurpath/internal/logx"
	"pkt.systems/paveurpath/schema"
)

const maxRequestBytes = 64 << 10

// ChatService is the chat controller surface used by the front end.
type ChatService interface {
	SendMessage(ctx context.Context, text string) (core.SendResult, error)
	Transcript() []schema.Message
	Remaining() int
	Gate() schema.GateState
	FreeMessages() int
}

// AuthService runs account flows.
type AuthService interface {
	SignIn(ctx context.Context, form schema.SignInForm) (schema.Session, error)
	SignUp(ctx context.Context, form schema.SignUpForm) error
	SignOut()
	Session() schema.Session
}

// SessionView is the client-visible session. The token never leaves the
// process.
type SessionView struct {
	Authenticated bool             `json:"authenticated"`
	Email         string           `json:"email,omitempty"`
	ThreadID      string           `json:"thread_id,omitempty"`
	Gate          schema.GateState `json:"gate"`
	Remaining     int              `json:"remaining"`
	FreeMessages  int              `json:"free_messages"`
}

// Server serves the local front end and its JSON API.
type Server struct {
	cfg      Config
	chat     ChatService
	auth     AuthService
	gate     authgate.Gate
	hub      *Hub
	basePath basePath
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, chat ChatService, auth AuthService, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	return &Server{
		cfg:      cfg,
		chat:     chat,
		auth:     auth,
		gate:     authgate.New(authgate.PublicRoutes, authgate.SignInRoute),
		hub:      hub,
		basePath: parseBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.withRequestLogging)

	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assetsFS))))

	r.Route("/api", func(api chi.Router) {
		api.Post("/signin", s.handleSignIn)
		api.Post("/signup", s.handleSignUp)
		api.Post("/signout", s.handleSignOut)
		api.Get("/session", s.handleSession)
		api.Get("/transcript", s.handleTranscript)
		api.Post("/chat", s.handleChat)
		api.Get("/stream", s.handleStream)
		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, errors.New("not found"))
		})
	})

	r.Group(func(pages chi.Router) {
		pages.Use(s.requireAuthGate)
		for _, route := range []string{"/", "/signin", "/signup", "/product", "/chat"} {
			pages.Get(route, s.handlePage)
		}
	})
	r.NotFound(s.requireAuthGate(http.HandlerFunc(http.NotFound)).ServeHTTP)

	if s.basePath == "" {
		return r
	}
	prefix := string(s.basePath)
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, r))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

// requireAuthGate redirects unauthenticated visitors of protected routes
// to sign-in. It runs on every request, so a token or path change is
// always re-evaluated.
func (s *Server) requireAuthGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.auth.Session()
		if target, ok := s.gate.Redirect(session.Token, r.URL.Path); ok {
			logx.Ctx(r.Context()).Debug("http gate redirect", "path", r.URL.Path, "target", target)
			http.Redirect(w, r, s.basePath.Join(target), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(assetsFS, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	stat, err := fs.Stat(assetsFS, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	data = renderShell(data, s.basePath, authgate.Clean(r.URL.Path))
	reader := bytes.NewReader(data)
	http.ServeContent(w, r, "index.html", stat.ModTime(), reader)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload schema.SignInRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http signin decode failed", "err", err)
		writeError(w, http.StatusBadRequest, schema.ErrInvalidRequest)
		return
	}
	_, err := s.auth.SignIn(r.Context(), schema.SignInForm{Email: payload.Email, Password: payload.Password})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.sessionView())
	case schema.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, schema.ErrSignInFailed):
		writeError(w, http.StatusUnauthorized, schema.ErrSignInFailed)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload schema.SignUpRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http signup decode failed", "err", err)
		writeError(w, http.StatusBadRequest, schema.ErrInvalidRequest)
		return
	}
	err := s.auth.SignUp(r.Context(), schema.SignUpForm{
		Email:           payload.Email,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"message": "Account created successfully! Please sign in."})
	case schema.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, schema.ErrEmailExists):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.auth.SignOut()
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":  s.chat.Transcript(),
		"remaining": s.chat.Remaining(),
		"gate":      s.chat.Gate(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chat decode failed", "err", err)
		writeError(w, http.StatusBadRequest, schema.ErrInvalidRequest)
		return
	}
	// An abandoned tab still gets its reply appended.
	result, err := s.chat.SendMessage(context.WithoutCancel(r.Context()), payload.Message)
	if err != nil {
		var sendErr *core.SendError
		switch {
		case errors.Is(err, schema.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, schema.ErrQuotaExhausted):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":  err.Error(),
				"notice": schema.QuotaExhaustedNotice,
				"gate":   schema.GateClosed,
			})
		case errors.As(err, &sendErr):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":      err.Error(),
				"message_id": sendErr.MessageID,
				"retryable":  sendErr.Retryable(),
				"remaining":  s.chat.Remaining(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"human":     result.Human,
		"reply":     result.Reply,
		"remaining": result.Remaining,
		"gate":      s.chat.Gate(),
		"discarded": result.Discarded,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	ch, unsubscribe, state := s.hub.Subscribe()
	defer unsubscribe()

	snapshot := SnapshotPayload{Session: s.sessionView(), Transcript: state.Transcript}
	_ = writeSSEvent(w, StreamEvent{
		Seq:       state.Seq,
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(lastID) {
			if event.Seq > state.Seq {
				break
			}
			if !replayable(event) {
				continue
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "transcript", len(snapshot.Transcript))
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

// replayable reports whether a missed event carries something the
// snapshot does not. Message and session events are already folded into it.
func replayable(event StreamEvent) bool {
	return event.Type == "quota" || event.Type == "send_failed"
}

func (s *Server) sessionView() SessionView {
	session := s.auth.Session()
	return SessionView{
		Authenticated: session.Authenticated(),
		Email:         session.Email,
		ThreadID:      session.ThreadID,
		Gate:          s.chat.Gate(),
		Remaining:     s.chat.Remaining(),
		FreeMessages:  s.chat.FreeMessages(),
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pkt.systems/paveurpath/internal/backend"
	"pkt.systems/paveurpath/internal/logx"
	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

var duplicateAccountPhrases = []string{"email already exists", "already in use"}

// Auth runs the sign-in, sign-up and sign-out flows. It is the only writer
// of the session store besides explicit sign-out.
type Auth struct {
	transport AuthTransport
	session   SessionStore
	log       pslog.Logger
}

// NewAuth constructs the auth service.
func NewAuth(deps AuthDeps) (*Auth, error) {
	if deps.Transport == nil {
		return nil, errors.New("auth transport is required")
	}
	if deps.Session == nil {
		return nil, errors.New("session store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Auth{transport: deps.Transport, session: deps.Session, log: logger}, nil
}

// SignIn validates the form locally, authenticates against the backend and
// records the token, email and thread id.
func (a *Auth) SignIn(ctx context.Context, form schema.SignInForm) (schema.Session, error) {
	if err := form.Validate(); err != nil {
		return schema.Session{}, err
	}
	ctx = logx.Bind(ctx, a.log)
	log := logx.WithEmail(ctx, form.Email)
	resp, err := a.transport.SignIn(ctx, form.Request())
	if err != nil {
		log.Warn("auth signin failed", "err", err)
		if errors.Is(err, context.Canceled) {
			return schema.Session{}, err
		}
		return schema.Session{}, fmt.Errorf("%w: %w", schema.ErrSignInFailed, err)
	}
	if strings.TrimSpace(resp.User.IDToken) == "" {
		log.Warn("auth signin failed", "reason", "missing id token")
		return schema.Session{}, schema.ErrSignInFailed
	}
	a.session.SetAuth(resp.User.IDToken, form.Email)
	if resp.ThreadID != "" {
		a.session.SetThreadID(resp.ThreadID)
	}
	session := a.session.Snapshot()
	logx.WithEmailThread(ctx, session.Email, session.ThreadID).Info("auth signin ok")
	return session, nil
}

// SignUp validates the form locally and registers the account. The session
// is left untouched; the user signs in afterwards.
func (a *Auth) SignUp(ctx context.Context, form schema.SignUpForm) error {
	if err := form.Validate(); err != nil {
		return err
	}
	ctx = logx.Bind(ctx, a.log)
	log := logx.WithEmail(ctx, form.Email)
	err := a.transport.SignUp(ctx, form.Request())
	if err == nil {
		log.Info("auth signup ok")
		return nil
	}
	log.Warn("auth signup failed", "err", err)
	if errors.Is(err, context.Canceled) {
		return err
	}
	var status *backend.StatusError
	if errors.As(err, &status) {
		if status.Status == http.StatusBadRequest && duplicateAccount(status.Detail) {
			return schema.ErrEmailExists
		}
		if status.Detail != "" {
			return fmt.Errorf("%w: %s", schema.ErrSignUpFailed, status.Detail)
		}
	}
	return fmt.Errorf("%w: %w", schema.ErrSignUpFailed, err)
}

// SignOut clears the session.
func (a *Auth) SignOut() {
	session := a.session.Snapshot()
	a.session.ClearAuth()
	logx.WithSession(a.log, session).Info("auth signout ok")
}

// Session returns the current session.
func (a *Auth) Session() schema.Session {
	return a.session.Snapshot()
}

func duplicateAccount(detail string) bool {
	detail = strings.ToLower(detail)
	for _, phrase := range duplicateAccountPhrases {
		if strings.Contains(detail, phrase) {
			return true
		}
	}
	return false
}

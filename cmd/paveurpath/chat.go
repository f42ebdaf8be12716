package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pkt.systems/paveurpath"
	"pkt.systems/paveurpath/core"
	"pkt.systems/paveurpath/internal/eventbus"
	"pkt.systems/paveurpath/internal/markdown"
	"pkt.systems/paveurpath/schema"
)

var (
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)
	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)
)

var replyStyles = markdown.DefaultStyles()

const chatHelp = "commands: /signin /signout /status /help /quit"

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := openApp(cmd, flags, paveurpath.WithTerminal())
			if err != nil {
				return err
			}
			defer app.Close()

			events, cancel := app.Bus().Subscribe()
			out := &lineWriter{w: cmd.OutOrStdout()}
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				for ev := range events {
					if line := renderEvent(ev); line != "" {
						out.println(line)
					}
				}
			}()

			repl := &chatREPL{
				cmd:  cmd,
				app:  app,
				in:   bufio.NewReader(cmd.InOrStdin()),
				out:  out,
				errW: cmd.ErrOrStderr(),
			}
			err = repl.run(cmd.Context())
			cancel()
			<-rendered
			return err
		},
	}
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) println(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintln(l.w, line)
}

type chatREPL struct {
	cmd  *cobra.Command
	app  *paveurpath.App
	in   *bufio.Reader
	out  *lineWriter
	errW io.Writer
	wg   sync.WaitGroup
}

func (r *chatREPL) run(ctx context.Context) error {
	r.out.println(metaStyle.Render(r.statusLine()))
	r.out.println(metaStyle.Render(chatHelp))
	defer r.wg.Wait()
	for {
		line, err := r.in.ReadString('\n')
		text := strings.TrimSpace(line)
		if text != "" && r.handle(ctx, text) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one line of input and reports whether the REPL should exit.
func (r *chatREPL) handle(ctx context.Context, text string) bool {
	switch text {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.println(metaStyle.Render(chatHelp))
	case "/status":
		r.out.println(metaStyle.Render(r.statusLine()))
	case "/signout":
		r.app.Auth().SignOut()
	case "/signin":
		r.signIn(ctx)
	default:
		if strings.HasPrefix(text, "/") {
			r.out.println(errorStyle.Render("unknown command " + text))
			return false
		}
		r.send(ctx, text)
	}
	return false
}

func (r *chatREPL) send(ctx context.Context, text string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, err := r.app.Controller().SendMessage(ctx, text)
		var sendErr *core.SendError
		switch {
		case err == nil, errors.As(err, &sendErr), errors.Is(err, schema.ErrEmptyPrompt):
		case errors.Is(err, schema.ErrQuotaExhausted):
			r.out.println(noticeStyle.Render(schema.QuotaExhaustedNotice))
		default:
			r.out.println(errorStyle.Render("send failed: " + err.Error()))
		}
	}()
}

func (r *chatREPL) signIn(ctx context.Context) {
	email, err := readEmail(r.in, r.errW, "")
	if err != nil {
		r.out.println(errorStyle.Render(err.Error()))
		return
	}
	password, err := readPassword(r.cmd, r.in, false, false)
	if err != nil {
		r.out.println(errorStyle.Render(err.Error()))
		return
	}
	if _, err := r.app.Auth().SignIn(ctx, schema.SignInForm{Email: email, Password: password}); err != nil {
		r.out.println(errorStyle.Render(err.Error()))
	}
}

func (r *chatREPL) statusLine() string {
	session := r.app.Session().Snapshot()
	ctrl := r.app.Controller()
	if session.Authenticated() {
		return "signed in as " + session.Email
	}
	return fmt.Sprintf("guest, %d of %d free messages left", ctrl.Remaining(), ctrl.FreeMessages())
}

func renderEvent(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.EventSession:
		switch {
		case ev.Session.SignedIn():
			return metaStyle.Render("signed in as " + ev.Session.Current.Email)
		case ev.Session.SignedOut():
			return metaStyle.Render("signed out")
		}
	case eventbus.EventMessage:
		switch ev.Message.Type {
		case schema.MessageAppended:
			if ev.Message.Message.Role == schema.RoleAssistant {
				return assistantStyle.Render("assistant") + " " + markdown.Render(ev.Message.Message.Content, replyStyles)
			}
		case schema.TranscriptReset:
			return metaStyle.Render(fmt.Sprintf("chat reset, %d free messages", ev.Message.Remaining))
		}
	case eventbus.EventQuota:
		return noticeStyle.Render(ev.Quota.Notice)
	case eventbus.EventSendFailed:
		line := "message not sent: " + ev.SendFailed.Err
		if ev.SendFailed.Retryable {
			line += " (send it again to retry)"
		}
		return errorStyle.Render(line)
	}
	return ""
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/paveurpath/schema"
)

func newSignInCmd(flags *rootFlags) *cobra.Command {
	var email string
	var passwordFromStdin bool
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			address, err := readEmail(in, cmd.ErrOrStderr(), email)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd, in, passwordFromStdin, false)
			if err != nil {
				return err
			}
			app, _, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			session, err := app.Auth().SignIn(cmd.Context(), schema.SignInForm{Email: address, Password: password})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", session.Email)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newSignUpCmd(flags *rootFlags) *cobra.Command {
	var email string
	var passwordFromStdin bool
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			address, err := readEmail(in, cmd.ErrOrStderr(), email)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd, in, passwordFromStdin, true)
			if err != nil {
				return err
			}
			app, _, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			form := schema.SignUpForm{Email: address, Password: password, ConfirmPassword: password}
			if err := app.Auth().SignUp(cmd.Context(), form); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "account created, sign in to continue")
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newSignOutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			app.Auth().SignOut()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cfg, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			out := cmd.OutOrStdout()
			session := app.Session().Snapshot()
			if !session.Authenticated() {
				_, err = fmt.Fprintln(out, "signed out")
				return err
			}
			_, _ = fmt.Fprintf(out, "signed in as %s\n", session.Email)
			if session.ThreadID != "" {
				_, _ = fmt.Fprintf(out, "thread %s\n", session.ThreadID)
			}
			_, err = fmt.Fprintf(out, "backend %s\n", cfg.Backend.Mode)
			return err
		},
	}
}

func readEmail(in *bufio.Reader, prompt io.Writer, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value != "" {
		return value, nil
	}
	_, _ = fmt.Fprint(prompt, "Email: ")
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	value = strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("email is required")
	}
	return value, nil
}

func readPassword(cmd *cobra.Command, in *bufio.Reader, fromStdin, confirm bool) (string, error) {
	if fromStdin {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		pass := strings.TrimRight(line, "\r\n")
		if pass == "" {
			return "", errors.New("password from stdin is empty")
		}
		return pass, nil
	}
	passphrase, err := keymgmt.PromptPassphrase(in, "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if confirm {
		again, err := keymgmt.PromptPassphrase(in, "Confirm password: ", cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		if string(passphrase) != string(again) {
			return "", schema.ErrPasswordMismatch
		}
	}
	pass := string(passphrase)
	if pass == "" {
		return "", errors.New("password is empty")
	}
	return pass, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
	"github.com/tonimelisma/firecloud-go/internal/config"
	"github.com/tonimelisma/firecloud-go/internal/tokenfile"
)

// errNotLoggedIn is returned by commands that need an account when neither
// a password nor a saved login is available.
var errNotLoggedIn = errors.New("not logged in: run 'firecloud login' or set " + config.EnvPassword)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and save the login for later commands",
		Long: `Log in with the configured email and the password from
FIRECLOUD_PASSWORD, then save the tokens so later commands work without the
password. Saved logins are renewed through the refresh flow when they expire.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved login",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user",
		Long: `Log in (with FIRECLOUD_PASSWORD or a saved login) and print the
user id and token state.

With --refresh the login is also exchanged through the refresh flow, which
checks that the refresh token is accepted.`,
		Args: cobra.NoArgs,
		RunE: runWhoami,
	}

	cmd.Flags().Bool("refresh", false, "also exercise the refresh-token exchange")

	return cmd
}

// tokenPath returns the saved-login path for the configured account.
func (cc *CLIContext) tokenPath() (string, error) {
	if cc.Cfg.Email == "" {
		return "", errors.New("no account email (set it in the config file, " + config.EnvEmail + " or --email)")
	}

	p := config.TokenPath(cc.Cfg.Project, cc.Cfg.Email)
	if p == "" {
		return "", errors.New("cannot determine data directory for saved logins")
	}

	return p, nil
}

// authenticate fills id with credentials. A password wins over a saved
// login; with neither, id stays empty and requests go out unauthenticated.
func (cc *CLIContext) authenticate(ctx context.Context, id *cloud.Identity) error {
	if cc.Cfg.Email == "" {
		cc.Logger.Debug("no account configured, continuing unauthenticated")
		return nil
	}

	if cc.Cfg.Password != "" {
		if err := id.Login(ctx, cc.Cfg.Email, cc.Cfg.Password); err != nil {
			return fmt.Errorf("logging in as %s: %w", cc.Cfg.Email, err)
		}

		return nil
	}

	path, err := cc.tokenPath()
	if err != nil {
		return err
	}

	tf, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	if tf == nil {
		cc.Logger.Debug("no saved login, continuing unauthenticated", slog.String("email", cc.Cfg.Email))
		return nil
	}

	id.SetCredentials(credentialsFromFile(tf))

	if id.IsLoggedIn() {
		cc.Logger.Debug("using saved login", slog.String("email", cc.Cfg.Email))
		return nil
	}

	cc.Logger.Info("saved login expired, refreshing", slog.String("email", cc.Cfg.Email))

	if err := id.RefreshLogin(ctx); err != nil {
		return fmt.Errorf("refreshing saved login (run 'firecloud login' again): %w", err)
	}

	return cc.saveLogin(path, id)
}

// saveLogin writes the identity's current credentials to path.
func (cc *CLIContext) saveLogin(path string, id *cloud.Identity) error {
	if err := tokenfile.Save(path, fileFromCredentials(cc.Cfg.Email, id.Credentials())); err != nil {
		return fmt.Errorf("saving login: %w", err)
	}

	cc.Logger.Debug("saved login", slog.String("path", path))

	return nil
}

// updateSavedLogin rewrites the saved login with id's credentials, if one
// exists for the configured account.
func (cc *CLIContext) updateSavedLogin(id *cloud.Identity) error {
	path, err := cc.tokenPath()
	if err != nil {
		return err
	}

	tf, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	if tf == nil {
		return nil
	}

	return cc.saveLogin(path, id)
}

func credentialsFromFile(tf *tokenfile.File) cloud.Credentials {
	return cloud.Credentials{
		UserID:        tf.UserID,
		AccessToken:   tf.Token.AccessToken,
		RefreshToken:  tf.Token.RefreshToken,
		SessionTicket: tf.SessionTicket,
		IssuedAt:      tf.IssuedAt,
		Global:        tf.Global,
	}
}

func fileFromCredentials(email string, c cloud.Credentials) *tokenfile.File {
	return &tokenfile.File{
		Token: &oauth2.Token{
			AccessToken:  c.AccessToken,
			RefreshToken: c.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       c.IssuedAt.Add(cloud.TokenLifetime),
		},
		UserID:        c.UserID,
		Email:         email,
		SessionTicket: c.SessionTicket,
		Global:        c.Global,
		IssuedAt:      c.IssuedAt,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Password == "" {
		return errors.New("login needs the password in " + config.EnvPassword)
	}

	path, err := cc.tokenPath()
	if err != nil {
		return err
	}

	id := cloud.NewIdentity(cc.Cfg.APIKey, cc.cloudOptions())

	if err := id.Login(cmd.Context(), cc.Cfg.Email, cc.Cfg.Password); err != nil {
		return fmt.Errorf("logging in as %s: %w", cc.Cfg.Email, err)
	}

	if err := cc.saveLogin(path, id); err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("email", cc.Cfg.Email))
	cc.Statusf("Logged in as %s.\n", cc.Cfg.Email)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := cc.tokenPath()
	if err != nil {
		return err
	}

	removed, err := tokenfile.Remove(path)
	if err != nil {
		return err
	}

	if !removed {
		cc.Statusf("No saved login for %s.\n", cc.Cfg.Email)
		return nil
	}

	cc.Statusf("Logged out %s.\n", cc.Cfg.Email)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Project   string    `json:"project"`
	IssuedAt  time.Time `json:"issued_at"`
	LoggedIn  bool      `json:"logged_in"`
	Refreshed bool      `json:"refreshed"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	svc, err := cc.service(ctx)
	if err != nil {
		return err
	}

	if svc.Identity.Credentials().UserID == "" {
		return errNotLoggedIn
	}

	refresh, err := cmd.Flags().GetBool("refresh")
	if err != nil {
		return err
	}

	if refresh {
		if err := svc.Identity.RefreshLogin(ctx); err != nil {
			return fmt.Errorf("refreshing login: %w", err)
		}

		// The old refresh token is spent; keep the saved login usable.
		if err := cc.updateSavedLogin(svc.Identity); err != nil {
			return err
		}
	}

	creds := svc.Identity.Credentials()
	out := whoamiOutput{
		UserID:    creds.UserID,
		Email:     cc.Cfg.Email,
		Project:   cc.Cfg.Project,
		IssuedAt:  creds.IssuedAt,
		LoggedIn:  svc.Identity.IsLoggedIn(),
		Refreshed: refresh,
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	fmt.Fprintf(cc.Out, "User ID:  %s\n", out.UserID)
	fmt.Fprintf(cc.Out, "Email:    %s\n", out.Email)
	fmt.Fprintf(cc.Out, "Project:  %s\n", out.Project)
	fmt.Fprintf(cc.Out, "Token:    issued %s ago\n", time.Since(out.IssuedAt).Round(time.Second))

	return nil
}

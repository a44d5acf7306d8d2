// Package cli implements creditctl, the terminal client for creditlens.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/apiclient"
	"github.com/mbd888/creditlens/internal/identity"
)

var errNotSignedIn = errors.New("not signed in; run: creditctl login")

type rootOptions struct {
	profilePath string
	server      string
	timeout     time.Duration
	version     string
}

// NewRootCommand builds the creditctl command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Credit-risk analysis from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.profilePath, "profile", DefaultProfilePath(), "profile file")
	root.PersistentFlags().StringVar(&opts.server, "server", "", "API address (overrides the profile)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", apiclient.DefaultTimeout, "per-request timeout")

	root.AddCommand(
		signupCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
		analyzeCmd(opts),
		statusCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*Profile, error) {
	p, err := LoadProfile(o.profilePath)
	if err != nil {
		return nil, err
	}
	if o.server != "" {
		p.Server = o.server
	}
	return p, nil
}

func (o *rootOptions) client(p *Profile) *apiclient.Client {
	ua := "creditctl"
	if o.version != "" {
		ua += "/" + o.version
	}
	return apiclient.New(p.Server,
		apiclient.WithToken(p.Token),
		apiclient.WithTimeout(o.timeout),
		apiclient.WithUserAgent(ua))
}

func signupCmd(opts *rootOptions) *cobra.Command {
	return credentialCmd(opts, "signup", "Create an account and sign in", (*apiclient.Client).SignUp)
}

func loginCmd(opts *rootOptions) *cobra.Command {
	return credentialCmd(opts, "login", "Sign in to an existing account", (*apiclient.Client).SignIn)
}

type authCall func(c *apiclient.Client, ctx context.Context, email, password string) (*identity.Session, error)

func credentialCmd(opts *rootOptions, use, short string, auth authCall) *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			if email == "" {
				email = p.Email
			}
			if email == "" {
				if email, err = prompt(cmd.OutOrStdout(), in, "Email: "); err != nil {
					return err
				}
			}
			email = strings.TrimSpace(email)
			password, err := readPassword(cmd, in, passwordStdin)
			if err != nil {
				return err
			}

			client := opts.client(p)
			sess, err := auth(client, cmd.Context(), email, password)
			if err != nil {
				return err
			}
			p.Token = sess.Token
			if sess.Identity != nil {
				p.Email = sess.Identity.Email
			}
			if err := p.Save(opts.profilePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", p.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			if !p.SignedIn() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			_, err = opts.client(p).SignOut(cmd.Context())
			if err != nil && !errors.Is(err, apiclient.ErrNotSignedIn) {
				return fmt.Errorf("sign out failed, still signed in: %w", err)
			}
			p.Token = ""
			if err := p.Save(opts.profilePath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func analyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		noWait   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Run a credit-risk analysis for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.signedInClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			st, err := client.Analyze(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			if st.Request.Status == analysis.StatusPending {
				fmt.Fprint(out, RenderState(st))
				if noWait {
					return nil
				}
				st, err = client.WaitForResult(cmd.Context(), interval, nil)
				if err != nil {
					return explain(err)
				}
			}
			fmt.Fprint(out, RenderState(st))
			if st.Request.Status == analysis.StatusFailed {
				return fmt.Errorf("analysis of %s failed", st.Request.Ticker)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return right after submitting")
	cmd.Flags().DurationVar(&interval, "interval", apiclient.DefaultPollInterval, "poll interval while waiting")
	return cmd
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in account and the latest analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.signedInClient()
			if err != nil {
				return err
			}
			st, err := client.Dashboard(cmd.Context())
			if err != nil {
				return explain(err)
			}
			fmt.Fprint(cmd.OutOrStdout(), RenderState(st))
			return nil
		},
	}
}

func (o *rootOptions) signedInClient() (*apiclient.Client, error) {
	p, err := o.load()
	if err != nil {
		return nil, err
	}
	if !p.SignedIn() {
		return nil, errNotSignedIn
	}
	return o.client(p), nil
}

func explain(err error) error {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, apiclient.ErrNotSignedIn):
		return errNotSignedIn
	case errors.As(err, &apiErr) && apiErr.Code == "request_pending":
		return errors.New("an analysis is already running; check it with: creditctl status")
	default:
		return err
	}
}

func prompt(out io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo when stdin is a terminal.
func readPassword(cmd *cobra.Command, in *bufio.Reader, fromStdin bool) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	label := "Password: "
	if fromStdin {
		label = ""
	}
	return prompt(cmd.OutOrStdout(), in, label)
}

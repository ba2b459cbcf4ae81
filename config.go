package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	heartbeat         time.Duration
	loginURL          string
	password          string
	port              int
	profile           bool
	reconnectAttempts int
	reconnectDelay    time.Duration
	requestTimeout    time.Duration
	serverURL         string
	token             string
	username          string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	u, err := url.Parse(c.serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url: %q", c.serverURL)
	}
	if c.token == "" && (c.username == "" || c.password == "") {
		return errors.New("either --token or both --username and --password must be provided")
	}
	if c.heartbeat < time.Second {
		return fmt.Errorf("heartbeat interval too short: %s", c.heartbeat)
	}
	if c.reconnectAttempts < 0 {
		return fmt.Errorf("invalid reconnect attempt count: %d", c.reconnectAttempts)
	}
	return nil
}

// wsURL derives the websocket endpoint from the configured server URL,
// carrying the bearer token as a query parameter the way the server's
// handshake filter expects it.
func (c *Config) wsURL(token string) string {
	u, _ := url.Parse(c.serverURL)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) apiURL(endpoint string) string {
	return strings.TrimSuffix(c.serverURL, "/") + endpoint
}

func (c *Config) authURL(endpoint string) string {
	base := c.loginURL
	if base == "" {
		base = c.serverURL
	}
	return strings.TrimSuffix(base, "/") + endpoint
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLUFFHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "bluffhub",
		Short:         "Connection client for the Bluffhub card-bluffing party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return Run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address the diagnostics server binds to (env: BLUFFHUB_BIND)")
	fs.DurationVar(&cfg.heartbeat, "heartbeat", 30*time.Second, "keep-alive interval (env: BLUFFHUB_HEARTBEAT)")
	fs.StringVar(&cfg.loginURL, "login-url", "", "base URL of the login service, defaults to --server-url (env: BLUFFHUB_LOGIN_URL)")
	fs.StringVar(&cfg.password, "password", "", "password for the login service (env: BLUFFHUB_PASSWORD)")
	fs.IntVarP(&cfg.port, "port", "p", 8091, "port the diagnostics server listens on (env: BLUFFHUB_PORT)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BLUFFHUB_PROFILE)")
	fs.IntVar(&cfg.reconnectAttempts, "reconnect-attempts", 5, "attempts before giving up on an abnormally closed connection (env: BLUFFHUB_RECONNECT_ATTEMPTS)")
	fs.DurationVar(&cfg.reconnectDelay, "reconnect-delay", 3*time.Second, "delay between reconnect attempts (env: BLUFFHUB_RECONNECT_DELAY)")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 5*time.Second, "default deadline for request/response exchanges (env: BLUFFHUB_REQUEST_TIMEOUT)")
	fs.StringVarP(&cfg.serverURL, "server-url", "s", "http://localhost:8090", "base URL of the game server (env: BLUFFHUB_SERVER_URL)")
	fs.StringVar(&cfg.token, "token", "", "bearer token, skips the login call (env: BLUFFHUB_TOKEN)")
	fs.StringVar(&cfg.username, "username", "", "username for the login service (env: BLUFFHUB_USERNAME)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BLUFFHUB_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BLUFFHUB_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("bluffhub v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

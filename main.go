package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"sipua/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// flags collects command line overrides. Only flags the user set replace
// file values.
type flags struct {
	configPath  string
	server      string
	port        int
	username    string
	password    string
	domain      string
	localIP     string
	localPort   int
	rtpPort     int
	logLevel    string
	logFile     string
	metricsAddr string
}

func main() {
	if err := newRootCmd(&flags{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:           "sipua",
		Short:         "Minimal SIP user agent over UDP with an RTP media loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")
	pf.StringVar(&f.server, "server", "", "registrar host")
	pf.IntVar(&f.port, "port", 5060, "registrar port")
	pf.StringVarP(&f.username, "username", "u", "", "SIP username")
	pf.StringVarP(&f.password, "password", "p", "", "SIP password")
	pf.StringVar(&f.domain, "domain", "", "registration domain, defaults to server")
	pf.StringVar(&f.localIP, "local-ip", "", "address advertised in Via, Contact and SDP")
	pf.IntVar(&f.localPort, "local-port", 0, "local SIP port, 0 for ephemeral")
	pf.IntVar(&f.rtpPort, "rtp-port", 0, "local RTP port, 0 for ephemeral")
	pf.StringVar(&f.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	pf.StringVar(&f.logFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /debug/statsviz on this address")

	root.AddCommand(
		newRegisterCmd(f),
		newCallCmd(f),
		newListenCmd(f),
		newServeCmd(f),
	)
	return root
}

// load reads the config file, applies flags, sets up logging and validates
// the result.
func (f *flags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := f.loadUnvalidated(cmd)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Debug().Str("config", cfg.String()).Msg("Configuration loaded")
	return cfg, nil
}

// loadUnvalidated is load for serve, where credentials arrive later.
func (f *flags) loadUnvalidated(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	set := cmd.Flags().Changed
	if set("server") {
		cfg.SIP.Server = f.server
	}
	if set("port") {
		cfg.SIP.Port = f.port
	}
	if set("username") {
		cfg.SIP.Username = f.username
	}
	if set("password") {
		cfg.SIP.Password = f.password
	}
	if set("domain") {
		cfg.SIP.Domain = f.domain
	}
	if set("local-ip") {
		cfg.SIP.LocalIP = f.localIP
	}
	if set("local-port") {
		cfg.SIP.LocalPort = f.localPort
	}
	if set("rtp-port") {
		cfg.SIP.RTPPort = f.rtpPort
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-file") {
		cfg.Log.File = f.logFile
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}

	cfg.Normalize()
	return cfg, setupLogging(cfg.Log)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

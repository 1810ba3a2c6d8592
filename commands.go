package main

import (
	"context"
	"os"
	"time"

	"sipua/config"
	"sipua/core"
	"sipua/tools"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// session is what every command needs: configuration, the metrics server
// and the client options that go with it.
type session struct {
	cfg         config.Config
	opts        []core.Option
	stopMetrics func()
}

func openSession(f *flags, cmd *cobra.Command) (*session, error) {
	return newSession(f.load(cmd))
}

func newSession(cfg config.Config, err error) (*session, error) {
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, stopMetrics: func() {}}
	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr)
		if err != nil {
			return nil, err
		}
		s.stopMetrics = stop
		s.opts = append(s.opts, core.WithRegisterer(prometheus.DefaultRegisterer))
	}
	return s, nil
}

// client creates and registers a client.
func (s *session) client(ctx context.Context, opts ...core.Option) (*core.Client, error) {
	c, err := core.New(s.cfg.SIP, append(s.opts, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.Register(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newRegisterCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register once, print the status and unregister",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(f, cmd)
			if err != nil {
				return err
			}
			defer s.stopMetrics()
			ctx, cancel := signalContext()
			defer cancel()

			c, err := s.client(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Registration failed")
				return err
			}
			defer c.Close()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func newCallCmd(f *flags) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "call NUMBER",
		Short: "Register, call NUMBER, stream silence for the duration and hang up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(f, cmd)
			if err != nil {
				return err
			}
			defer s.stopMetrics()
			ctx, cancel := signalContext()
			defer cancel()

			c, err := s.client(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Registration failed")
				return err
			}
			defer c.Close()

			res, err := c.Call(ctx, args[0], duration)
			if err != nil {
				log.Error().Err(err).Str("number", args[0]).Msg("Call failed")
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "how long to keep the call up once answered")
	return cmd
}

func newListenCmd(f *flags) *cobra.Command {
	var autoAnswer bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Register and wait for incoming calls until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(f, cmd)
			if err != nil {
				return err
			}
			defer s.stopMetrics()
			ctx, cancel := signalContext()
			defer cancel()

			incoming := make(chan core.InvitationInfo, 1)
			c, err := s.client(ctx, core.WithIncomingCallHandler(func(info core.InvitationInfo) {
				select {
				case incoming <- info:
				default:
				}
			}))
			if err != nil {
				log.Error().Err(err).Msg("Registration failed")
				return err
			}
			defer c.Close()

			log.Info().Bool("auto_answer", autoAnswer).Msg("Waiting for calls, interrupt to stop")
			for {
				select {
				case <-ctx.Done():
					return nil
				case info := <-incoming:
					if err := printJSON(info); err != nil {
						return err
					}
					if !autoAnswer {
						continue
					}
					if err := c.Answer(ctx); err != nil {
						log.Warn().Err(err).Str("call_id", info.CallID).Msg("Auto-answer failed")
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&autoAnswer, "auto-answer", false, "answer every incoming call")
	return cmd
}

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Read JSON-line tool requests on stdin and answer on stdout",
		Long: "serve drives the agent through tools: configure, call, answer, reject, hangup, status,\n" +
			"statistics and reset. configure creates the client, so no credentials are needed up front.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(f.loadUnvalidated(cmd))
			if err != nil {
				return err
			}
			defer s.stopMetrics()
			ctx, cancel := signalContext()
			defer cancel()

			return tools.NewServer(s.cfg.SIP, s.opts...).Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}

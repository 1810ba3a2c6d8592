// Package tools drives a core.Client from JSON lines, one request per line:
//
//	{"id":1,"tool":"call","args":{"number":"1000","durationSeconds":10}}
//
// Requests run concurrently; every response carries the request id.
package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"sipua/config"
	"sipua/core"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultCallDuration = 30 * time.Second

var ErrNotConfigured = errors.New("client not configured, call configure first")

type Request struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is written unprompted, for example when a call comes in.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ConfigureArgs struct {
	Server    string `json:"server"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Domain    string `json:"domain"`
	Port      int    `json:"port"`
	LocalPort int    `json:"localPort"`
}

type CallArgs struct {
	Number          string  `json:"number"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type Server struct {
	base config.SIP
	opts []core.Option

	mu     sync.Mutex
	client *core.Client

	wmu sync.Mutex
	out *json.Encoder
}

// NewServer returns a dispatcher whose configure tool starts from base.
func NewServer(base config.SIP, opts ...core.Option) *Server {
	return &Server{base: base, opts: opts}
}

// Serve reads requests from r until EOF or ctx is done, writes responses to
// w and closes the client before returning.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.wmu.Lock()
	s.out = json.NewEncoder(w)
	s.wmu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(Response{Error: errors.Wrap(err, "decoding request").Error()})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.write(s.Handle(ctx, req))
		}()
	}
	err := scanner.Err()

	// Anything still running is abandoned with the client.
	cancel()
	closeErr := s.Close()
	wg.Wait()
	if err != nil {
		return errors.Wrap(err, "reading requests")
	}
	return closeErr
}

func (s *Server) write(v any) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.out == nil {
		return
	}
	if err := s.out.Encode(v); err != nil {
		log.Error().Err(err).Msg("Writing tool output")
	}
}

// Handle runs one request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	res := Response{ID: req.ID}
	result, err := s.dispatch(ctx, req)
	if err != nil {
		log.Debug().Err(err).Str("tool", req.Tool).Msg("Tool failed")
		res.Error = err.Error()
		return res
	}
	res.Result = result
	return res
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	if req.Tool == "configure" {
		var args ConfigureArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return s.configure(ctx, args)
	}

	c := s.current()
	if c == nil {
		return nil, ErrNotConfigured
	}
	switch req.Tool {
	case "call":
		var args CallArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		if args.Number == "" {
			return nil, errors.New("number is required")
		}
		d := time.Duration(args.DurationSeconds * float64(time.Second))
		if d <= 0 {
			d = defaultCallDuration
		}
		return c.Call(ctx, args.Number, d)
	case "answer":
		if err := c.Answer(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"answered": true}, nil
	case "reject":
		ok, err := c.Reject(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"rejected": ok}, nil
	case "hangup":
		if err := c.Hangup(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"hungUp": true}, nil
	case "status":
		return c.Status(ctx)
	case "statistics":
		return c.Statistics(ctx)
	case "reset":
		if err := c.Reset(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"reset": true}, nil
	default:
		return nil, errors.Errorf("unknown tool %q", req.Tool)
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decoding args")
}

func (s *Server) current() *core.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// configure replaces any existing client and registers the new one. A
// client that fails to register is closed.
func (s *Server) configure(ctx context.Context, args ConfigureArgs) (core.Status, error) {
	cfg := s.base
	if args.Server != "" {
		cfg.Server = args.Server
	}
	if args.Username != "" {
		cfg.Username = args.Username
	}
	if args.Password != "" {
		cfg.Password = args.Password
	}
	if args.Domain != "" {
		cfg.Domain = args.Domain
	}
	if args.Port != 0 {
		cfg.Port = args.Port
	}
	if args.LocalPort != 0 {
		cfg.LocalPort = args.LocalPort
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing previous client")
		}
		s.client = nil
	}

	opts := append([]core.Option{core.WithIncomingCallHandler(s.incoming)}, s.opts...)
	c, err := core.New(cfg, opts...)
	if err != nil {
		return core.Status{}, err
	}
	if err := c.Register(ctx); err != nil {
		c.Close()
		return core.Status{}, err
	}
	s.client = c
	return c.Status(ctx)
}

// incoming runs on the client's reactor and must not block it.
func (s *Server) incoming(info core.InvitationInfo) {
	go s.write(Event{Event: "incoming_call", Data: info})
}

// Close releases the client, unregistering it.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

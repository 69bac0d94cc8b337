// Package client is a reference counterparty for the allocation protocol.
// It answers every problem it receives with the optimizer or an even split.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/flow-engine/internal/model"
	"github.com/atmx/flow-engine/internal/optimizer"
	"github.com/atmx/flow-engine/internal/tick"
)

const (
	ModeOptimal = "optimal"
	ModeEven    = "even"
)

var ErrUnknownFrame = errors.New("client: unrecognized frame")

// Stats summarizes a client run.
type Stats struct {
	Problems int
	Results  int
	Errors   int
	// Value is the sum of incremental values reported by the server.
	Value float64
}

// Responder turns server frames into replies. It is safe for concurrent use.
type Responder struct {
	Mode        string
	PitCapacity float64
	Opt         *optimizer.Optimizer

	mu    sync.Mutex
	stats Stats
}

// NewResponder creates a responder. An unknown mode falls back to optimal.
func NewResponder(mode string, pitCapacity float64) *Responder {
	if mode != ModeEven {
		mode = ModeOptimal
	}
	return &Responder{Mode: mode, PitCapacity: pitCapacity, Opt: optimizer.New()}
}

type envelope struct {
	Tick        int64                   `json:"tick"`
	Allocations []model.AllocationEntry `json:"allocations"`
}

// Hello returns the frames to send right after connecting.
func (r *Responder) Hello() [][]byte {
	if r.PitCapacity <= 0 {
		return nil
	}
	data, _ := json.Marshal(map[string]float64{"setPitCapacity": r.PitCapacity})
	return [][]byte{data}
}

// Handle processes one server frame and returns the reply, if any.
func (r *Responder) Handle(frame []byte) ([]byte, error) {
	if tick.IsErrorFrame(frame) {
		r.update(func(s *Stats) { s.Errors++ })
		slog.Warn("server rejected allocation", "msg", string(frame[len(tick.ErrorPrefix):]))
		return nil, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFrame, err)
	}

	switch head.Type {
	case model.TypeCurrentState:
		var p model.Problem
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil, fmt.Errorf("decode problem: %w", err)
		}
		r.update(func(s *Stats) { s.Problems++ })
		return r.answer(&p)

	case model.TypeResult:
		var res model.Result
		if err := json.Unmarshal(frame, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		r.update(func(s *Stats) {
			s.Results++
			s.Value += res.IncrementalValue
		})
		attrs := []any{"tick", res.Tick, "value_per_day", res.TotalValue, "flow_out", res.TotalFlowOut}
		if res.PitCurrent != nil {
			attrs = append(attrs, "pit", *res.PitCurrent)
		}
		slog.Info("allocation accepted", attrs...)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownFrame, head.Type)
}

func (r *Responder) answer(p *model.Problem) ([]byte, error) {
	var (
		entries []model.AllocationEntry
		err     error
	)
	if r.Mode == ModeEven {
		entries = optimizer.AllocateEven(p)
	} else if entries, err = r.Opt.Allocate(p); err != nil {
		slog.Warn("optimizer failed, splitting evenly", "tick", p.Tick, "err", err)
		entries = optimizer.AllocateEven(p)
	}
	return json.Marshal(envelope{Tick: p.Tick, Allocations: entries})
}

func (r *Responder) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Stats returns a copy of the counters.
func (r *Responder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run connects to url and answers frames until ctx is cancelled or the
// connection drops.
func Run(ctx context.Context, url string, r *Responder) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	session := ""
	if resp != nil {
		session = resp.Header.Get("X-Session-ID")
	}
	log := slog.With("session", session)
	log.Info("connected", "url", url, "mode", r.Mode)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for _, f := range r.Hello() {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return err
			}
		}
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			reply, err := r.Handle(frame)
			if err != nil {
				log.Warn("skipping frame", "err", err)
				continue
			}
			if reply == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	})

	err = g.Wait()
	s := r.Stats()
	log.Info("disconnected", "problems", s.Problems, "results", s.Results, "errors", s.Errors, "value", s.Value)
	return err
}

package tick

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/flow-engine/internal/metrics"
	"github.com/atmx/flow-engine/internal/model"
	"github.com/atmx/flow-engine/internal/store"
)

const (
	recordTimeout = 2 * time.Second

	// recordQueue bounds results waiting to be written to history per
	// session. When it is full new results are dropped, not waited on.
	recordQueue = 64
)

// Source yields the latest published problem. Implementations must return
// immutable snapshots.
type Source interface {
	Current() *model.Problem
}

// Conn is a bidirectional, ordered message channel to one client.
type Conn interface {
	// Send writes one frame.
	Send(ctx context.Context, frame []byte) error
	// Inbound delivers client frames and is closed when the client goes away.
	Inbound() <-chan []byte
}

// Coordinator drives the protocol for every connection. It holds no
// per-connection state; each Serve call owns its own Session.
type Coordinator struct {
	source Source
	store  store.Store // optional
	period time.Duration

	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewCoordinator creates a coordinator. Pass nil for st to skip result
// history.
func NewCoordinator(source Source, st store.Store, period time.Duration) *Coordinator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Coordinator{
		source:    source,
		store:     st,
		period:    period,
		newTicker: realTicker,
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Period returns the tick period.
func (c *Coordinator) Period() time.Duration {
	return c.period
}

// Serve runs the protocol on conn until the client disconnects, ctx is
// cancelled, or a send fails. Protocol errors are reported to the client and
// do not end the session.
func (c *Coordinator) Serve(ctx context.Context, sessionID string, conn Conn) error {
	s := NewSession(sessionID, c.period)
	log := slog.With("session", sessionID)

	ticks, stop := c.newTicker(c.period)
	defer stop()

	rec := c.startRecorder(ctx, sessionID)
	defer rec.close()

	s.Issue(c.source.Current())
	if err := c.sendProblem(ctx, conn, s.Outstanding()); err != nil {
		return err
	}
	log.Info("session opened", "tick", s.Outstanding().Tick)

	for {
		select {
		case <-ctx.Done():
			log.Info("session closed", "reason", ctx.Err())
			return nil

		case frame, ok := <-conn.Inbound():
			if !ok {
				log.Info("session closed", "reason", "client disconnected")
				return nil
			}
			res, err := s.Handle(frame)
			switch {
			case err != nil:
				if err := c.sendError(ctx, conn, err); err != nil {
					return err
				}
				log.Debug("allocation rejected", "err", err)
			case res != nil:
				if err := c.sendJSON(ctx, conn, res); err != nil {
					return err
				}
				metrics.ResultsTotal.Inc()
				metrics.ValuePerDay.Observe(res.TotalValue)
				rec.enqueue(res)
				log.Debug("allocation accepted",
					"tick", res.Tick,
					"total_value", res.TotalValue,
					"flow_out", res.TotalFlowOut,
				)
			}

		case <-ticks:
			if err := s.Rollover(c.source.Current()); err != nil {
				if err := c.sendError(ctx, conn, err); err != nil {
					return err
				}
			}
			if err := c.sendProblem(ctx, conn, s.Outstanding()); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) sendProblem(ctx context.Context, conn Conn, p *model.Problem) error {
	return c.sendJSON(ctx, conn, p)
}

func (c *Coordinator) sendJSON(ctx context.Context, conn Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return conn.Send(ctx, data)
}

func (c *Coordinator) sendError(ctx context.Context, conn Conn, err error) error {
	metrics.ProtocolErrors.WithLabelValues(Kind(err)).Inc()
	return conn.Send(ctx, ErrorFrame(err))
}

// recorder writes a session's results to the history store off the
// protocol loop, so slow storage never delays a period boundary.
// A nil recorder discards everything.
type recorder struct {
	store     store.Store
	sessionID string
	queue     chan *model.Result
	done      chan struct{}
}

func (c *Coordinator) startRecorder(ctx context.Context, sessionID string) *recorder {
	if c.store == nil {
		return nil
	}
	r := &recorder{
		store:     c.store,
		sessionID: sessionID,
		queue:     make(chan *model.Result, recordQueue),
		done:      make(chan struct{}),
	}
	// Queued results are still written after the session ends.
	go r.run(context.WithoutCancel(ctx))
	return r
}

func (r *recorder) run(ctx context.Context) {
	defer close(r.done)
	for res := range r.queue {
		r.write(ctx, res)
	}
}

// write stores one result. Failures are logged; they never affect the
// protocol.
func (r *recorder) write(ctx context.Context, res *model.Result) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	rec := &model.ResultRecord{
		ID:         uuid.New().String(),
		SessionID:  r.sessionID,
		Tick:       res.Tick,
		Result:     *res,
		RecordedAt: time.Now().UTC(),
	}
	if err := r.store.InsertResult(ctx, rec); err != nil {
		slog.Warn("failed to record result", "session", r.sessionID, "tick", res.Tick, "err", err)
	}
}

func (r *recorder) enqueue(res *model.Result) {
	if r == nil {
		return
	}
	select {
	case r.queue <- res:
	default:
		slog.Warn("result history queue full, dropping result", "session", r.sessionID, "tick", res.Tick)
	}
}

// close stops accepting results and waits for queued ones to be written.
func (r *recorder) close() {
	if r == nil {
		return
	}
	close(r.queue)
	<-r.done
}

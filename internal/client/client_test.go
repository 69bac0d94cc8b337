package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atmx/flow-engine/internal/model"
	"github.com/atmx/flow-engine/internal/tick"
)

type staticSource struct{ p *model.Problem }

func (s staticSource) Current() *model.Problem { return s.p }

func testProblem() *model.Problem {
	return &model.Problem{
		Type:      model.TypeCurrentState,
		Tick:      11,
		TotalFlow: 200,
		Consumers: []model.Consumer{
			{ID: "a", Name: "A", Curve: []model.ValuePoint{{Flow: 0, Value: 0}, {Flow: 100, Value: 100}}},
			{ID: "b", Name: "B", Curve: []model.ValuePoint{{Flow: 0, Value: 0}, {Flow: 150, Value: 300}}},
		},
	}
}

func TestHello(t *testing.T) {
	if frames := NewResponder(ModeOptimal, 0).Hello(); len(frames) != 0 {
		t.Errorf("expected no hello frames without a pit, got %d", len(frames))
	}
	frames := NewResponder(ModeOptimal, 500).Hello()
	if len(frames) != 1 || string(frames[0]) != `{"setPitCapacity":500}` {
		t.Errorf("unexpected hello frames: %q", frames)
	}
}

func TestHandle_AnswersProblem(t *testing.T) {
	for _, mode := range []string{ModeOptimal, ModeEven} {
		t.Run(mode, func(t *testing.T) {
			r := NewResponder(mode, 0)
			frame, _ := json.Marshal(testProblem())

			reply, err := r.Handle(frame)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var env envelope
			if err := json.Unmarshal(reply, &env); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if env.Tick != 11 || len(env.Allocations) != 2 {
				t.Fatalf("unexpected reply: %+v", env)
			}
			total := env.Allocations[0].Flow + env.Allocations[1].Flow
			if math.Abs(total-200) > 1e-9 {
				t.Errorf("expected flows to sum to 200, got %g", total)
			}
			if r.Stats().Problems != 1 {
				t.Errorf("expected 1 problem counted, got %d", r.Stats().Problems)
			}
		})
	}
}

func TestHandle_ResultAndErrorFrames(t *testing.T) {
	r := NewResponder(ModeEven, 0)

	res, _ := json.Marshal(model.Result{Type: model.TypeResult, Tick: 1, TotalValue: 100, IncrementalValue: 0.5})
	if reply, err := r.Handle(res); reply != nil || err != nil {
		t.Errorf("expected no reply to a result, got %q, %v", reply, err)
	}
	if reply, err := r.Handle(tick.ErrorFrame(tick.ErrTimeout)); reply != nil || err != nil {
		t.Errorf("expected no reply to an error frame, got %q, %v", reply, err)
	}

	s := r.Stats()
	if s.Results != 1 || s.Errors != 1 || s.Value != 0.5 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestHandle_UnknownFrame(t *testing.T) {
	r := NewResponder(ModeEven, 0)
	for _, frame := range []string{"garbage", `{"type":"HELLO"}`} {
		if _, err := r.Handle([]byte(frame)); !errors.Is(err, ErrUnknownFrame) {
			t.Errorf("frame %q: expected ErrUnknownFrame, got %v", frame, err)
		}
	}
}

func TestRun_AgainstServer(t *testing.T) {
	hub := tick.NewHub(tick.NewCoordinator(staticSource{testProblem()}, nil, time.Hour))
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	r := NewResponder(ModeOptimal, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), r) }()

	deadline := time.Now().Add(5 * time.Second)
	for r.Stats().Results == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
	s := r.Stats()
	if s.Problems != 1 || s.Results != 1 || s.Errors != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

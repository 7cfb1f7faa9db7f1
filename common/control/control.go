// Package control lets the admin service reach the orchestrator, which runs
// inside the ingestion service, over NATS request/reply.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"digitaltwin/common/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StatusSubject  = "twin.orchestrator.status"
	TriggerSubject = "twin.orchestrator.trigger"
)

type Orchestrator interface {
	Status() models.OrchestratorStatus
	TriggerManualRun() bool
}

type triggerReply struct {
	Accepted bool `json:"accepted"`
}

type Server struct {
	nc     *nats.Conn
	orch   Orchestrator
	logger *zap.Logger
	subs   []*nats.Subscription
}

func NewServer(nc *nats.Conn, orch Orchestrator, logger *zap.Logger) *Server {
	return &Server{nc: nc, orch: orch, logger: logger}
}

func (s *Server) Register() error {
	statusSub, err := s.nc.Subscribe(StatusSubject, func(msg *nats.Msg) {
		s.respond(msg, s.orch.Status())
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", StatusSubject, err)
	}
	triggerSub, err := s.nc.Subscribe(TriggerSubject, func(msg *nats.Msg) {
		s.logger.Info("manual run requested over control plane")
		s.respond(msg, triggerReply{Accepted: s.orch.TriggerManualRun()})
	})
	if err != nil {
		_ = statusSub.Unsubscribe()
		return fmt.Errorf("subscribe to %s: %w", TriggerSubject, err)
	}
	s.subs = []*nats.Subscription{statusSub, triggerSub}
	s.logger.Info("registered control plane subscriptions")
	return nil
}

func (s *Server) respond(msg *nats.Msg, v interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode control reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (s *Server) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}

// Requester is the part of *nats.Conn the client needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type Client struct {
	conn    Requester
	timeout time.Duration
}

func NewClient(conn Requester, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) Status(ctx context.Context) (models.OrchestratorStatus, error) {
	var status models.OrchestratorStatus
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, StatusSubject, nil)
	if err != nil {
		return status, fmt.Errorf("request orchestrator status: %w", err)
	}
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		return status, fmt.Errorf("decode orchestrator status: %w", err)
	}
	return status, nil
}

// Trigger asks the orchestrator for a manual run. It returns once the
// request is accepted; the run itself continues in the background.
func (c *Client) Trigger(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, TriggerSubject, nil)
	if err != nil {
		return fmt.Errorf("request manual run: %w", err)
	}
	var reply triggerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode trigger reply: %w", err)
	}
	if !reply.Accepted {
		return fmt.Errorf("manual run was not accepted")
	}
	return nil
}

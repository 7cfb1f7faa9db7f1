package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"digitaltwin/common/models"

	"github.com/nats-io/nats.go"
)

type fakeRequester struct {
	replies map[string][]byte
	err     error
	seen    []string
}

func (f *fakeRequester) RequestWithContext(_ context.Context, subj string, _ []byte) (*nats.Msg, error) {
	f.seen = append(f.seen, subj)
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: f.replies[subj]}, nil
}

func TestClient_Status(t *testing.T) {
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, _ := json.Marshal(models.OrchestratorStatus{IsRunning: true, LastRunTime: &last})
	req := &fakeRequester{replies: map[string][]byte{StatusSubject: data}}

	status, err := NewClient(req, time.Second).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsRunning || status.LastRunTime == nil || !status.LastRunTime.Equal(last) {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestClient_Trigger(t *testing.T) {
	req := &fakeRequester{replies: map[string][]byte{TriggerSubject: []byte(`{"accepted":true}`)}}
	if err := NewClient(req, time.Second).Trigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(req.seen) != 1 || req.seen[0] != TriggerSubject {
		t.Errorf("unexpected subjects %v", req.seen)
	}
}

func TestClient_NoResponders(t *testing.T) {
	req := &fakeRequester{err: nats.ErrNoResponders}
	_, err := NewClient(req, time.Second).Status(context.Background())
	if !errors.Is(err, nats.ErrNoResponders) {
		t.Fatalf("expected ErrNoResponders, got %v", err)
	}
}

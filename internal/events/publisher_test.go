package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

var now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestFromResult(t *testing.T) {
	ev := FromResult(&transaction.Success{TemplateID: "t", StepIDs: []string{"s"}, InstanceID: "i"}, "req-1", now)
	assert.Equal(t, Event{
		Type: TypeTaskCreated, RequestID: "req-1", TemplateID: "t",
		StepIDs: []string{"s"}, InstanceID: "i", Time: now,
	}, ev)

	ev = FromResult(&transaction.Failure{
		Kind:           transaction.StepCreationFailed,
		CleanupIDs:     []string{"t", "s1"},
		PartialCleanup: true,
		Cause:          errors.New("boom"),
	}, "", now)
	assert.Equal(t, TypeTaskRolledBack, ev.Type)
	assert.Equal(t, "step_creation_failed", ev.FailureKind)
	assert.Equal(t, []string{"t", "s1"}, ev.CleanupIDs)
	assert.True(t, ev.PartialCleanup)
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("taskflow.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := ConnectNATS(server.ClientURL(), "taskflow", nil)
	require.NoError(t, err)
	defer pub.Close()

	ev := FromResult(&transaction.Success{TemplateID: "t1", InstanceID: "i1"}, "req-9", now)
	require.NoError(t, pub.Publish(context.Background(), ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, "taskflow.task.created", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, ev, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNATSPublisher_Subject(t *testing.T) {
	assert.Equal(t, "task.created", (&NATSPublisher{}).Subject(TypeTaskCreated))
	assert.Equal(t, "app.task.rolled_back", (&NATSPublisher{prefix: "app"}).Subject(TypeTaskRolledBack))
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "taskflow", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: TypeTaskCreated}), context.Canceled)
	assert.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}

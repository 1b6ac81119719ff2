package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	ID     string `json:"extraction_id"`
	Status string `json:"status"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"status": n.Status}
}

func TestPublisherPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = client.CreateTopic(ctx, "extractions")
	require.NoError(t, err)

	pub := NewWithClient(client)
	id, err := pub.Publish(ctx, "extractions", notice{ID: "extraction_1", Status: "completed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := srv.Messages()[0]
	require.JSONEq(t, `{"extraction_id":"extraction_1","status":"completed"}`, string(msg.Data))
	require.Equal(t, "completed", msg.Attributes["status"])
	require.Equal(t, "application/json", msg.Attributes["content_type"])
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "")
	require.Error(t, err)

	pub := NewWithClient(nil)
	_, err = pub.Publish(context.Background(), "", notice{})
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.Error(t, err)
}

package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "proj",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/proj/topics/ir-changes"})
	require.NoError(t, err)

	p := New(client, Config{ProjectID: "proj", TopicName: "ir-changes"}, zap.NewNop())
	t.Cleanup(func() { _ = p.Close() })
	return p, srv
}

func TestPublishDefaultTopic(t *testing.T) {
	t.Parallel()

	p, srv := newTestPublisher(t)
	require.NoError(t, p.checkTopic(context.Background()))

	id, err := p.Publish(context.Background(), "", map[string]any{
		"change_id":   int64(9),
		"change_type": "FINANCIAL",
		"severity":    "Significant",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "FINANCIAL", msgs[0].Attributes["change_type"])
	assert.Equal(t, "Significant", msgs[0].Attributes["severity"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.EqualValues(t, 9, body["change_id"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t)
	_, err := p.Publish(context.Background(), "missing", map[string]any{"k": "v"})
	require.Error(t, err)
}

func TestTopicName(t *testing.T) {
	t.Parallel()

	p := New(nil, Config{ProjectID: "proj"}, nil)
	assert.Equal(t, "projects/proj/topics/a", p.topicName("a"))
	assert.Equal(t, "projects/other/topics/b", p.topicName("projects/other/topics/b"))

	_, err := p.Publish(context.Background(), "a", "x")
	require.Error(t, err)
}

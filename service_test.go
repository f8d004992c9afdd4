package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/rugmatch/match"
)

const serviceConfig = `mqtt:
  broker: tcp://localhost:1883
  requestTopic: test/requests
  publishPrefix: test
`

// startService runs the service against a mock broker and returns once the
// request topic is subscribed.
func startService(t *testing.T) (*match.MockClient, func() error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(serviceConfig), 0644))

	mock := match.NewMockClient()
	app := testApp()
	app.ConnectMQTT = func(cfg *match.Config, handler match.RequestHandler, logger *slog.Logger) (*match.MQTTClient, error) {
		client := match.NewMQTTClientWithMock(mock, cfg, handler, logger)
		return client, client.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.RunService(ctx, ServiceOptions{GlobalOptions: GlobalOptions{ConfigFile: cfgPath}})
	}()

	require.Eventually(t, func() bool {
		_, ok := mock.SubscribedTopics()["test/requests"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	var (
		once    sync.Once
		stopErr error
	)
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case stopErr = <-done:
			case <-time.After(2 * time.Second):
				stopErr = errors.New("service did not stop")
			}
		})
		return stopErr
	}
	t.Cleanup(func() { _ = stop() })
	return mock, stop
}

func TestRunService_AnswersRequests(t *testing.T) {
	mock, stop := startService(t)

	q, c := twoViewPoints(24, 5)
	req := match.RankRequest{
		RequestID: "req-1",
		Query:     match.ImageRef{ID: "query"},
		Candidates: []match.GalleryEntry{
			{ID: "good", QueryPoints: q, CandidatePoints: c},
			{ID: "few", QueryPoints: q[:5], CandidatePoints: c[:5]},
			{ID: "down", Error: "matcher unavailable"},
		},
		TopK: 1,
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.True(t, mock.SimulateMessage("test/requests", payload))

	msgs := mock.WaitForMessages(2, 2*time.Second)
	require.Len(t, msgs, 2)
	assert.Equal(t, "test/results/req-1", msgs[0].Topic)
	assert.False(t, msgs[0].Retain)
	assert.Equal(t, "test/results/latest", msgs[1].Topic)
	assert.True(t, msgs[1].Retain)

	var resp match.RankResponse
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Ranked, 2)
	assert.Equal(t, "good", resp.Ranked[0].CandidateID)
	assert.Equal(t, 24, resp.Ranked[0].MatchCount)
	assert.True(t, resp.Ranked[0].Verified)
	assert.Equal(t, "few", resp.Ranked[1].CandidateID)
	assert.False(t, resp.Ranked[1].Verified)
	require.Len(t, resp.Top, 1)
	require.Len(t, resp.Skipped, 1)
	assert.Equal(t, "down", resp.Skipped[0].CandidateID)

	require.NoError(t, stop())
}

func TestRunService_InvalidRequest(t *testing.T) {
	mock, _ := startService(t)

	payload := []byte(`{"requestId":"dup","query":{"id":"q"},"candidates":[{"id":"a"},{"id":"a"}]}`)
	require.True(t, mock.SimulateMessage("test/requests", payload))

	msgs := mock.WaitForMessages(2, 2*time.Second)
	require.Len(t, msgs, 2)
	var resp match.RankResponse
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &resp))
	assert.Equal(t, "dup", resp.RequestID)
	assert.Contains(t, resp.Error, "duplicate id")
	assert.Empty(t, resp.Ranked)
}

func TestRunService_UndecodablePayloadIsDropped(t *testing.T) {
	mock, _ := startService(t)

	require.True(t, mock.SimulateMessage("test/requests", []byte("not json")))
	assert.Empty(t, mock.GetPublishedMessages())
}

func TestRunService_RequiresBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mqtt:\n  requestTopic: x\n"), 0644))

	err := testApp().RunService(context.Background(), ServiceOptions{GlobalOptions: GlobalOptions{ConfigFile: cfgPath}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker is required")
}

func TestRunService_ConnectError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(serviceConfig), 0644))

	app := testApp()
	app.ConnectMQTT = func(*match.Config, match.RequestHandler, *slog.Logger) (*match.MQTTClient, error) {
		return nil, errors.New("refused")
	}
	err := app.RunService(context.Background(), ServiceOptions{GlobalOptions: GlobalOptions{ConfigFile: cfgPath}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestRunService_UnsafeRequestIDGetsSafeTopic(t *testing.T) {
	mock, _ := startService(t)

	require.True(t, mock.SimulateMessage("test/requests", []byte(`{"requestId":"a/+/b","query":{"id":"q"}}`)))

	msgs := mock.WaitForMessages(2, 2*time.Second)
	require.Len(t, msgs, 2)
	var resp match.RankResponse
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &resp))
	assert.Equal(t, "test/results/"+resp.RequestID, msgs[0].Topic)
	assert.NotContains(t, resp.RequestID, "/")
	assert.Contains(t, resp.Error, "requestId")
}

func TestRankService_DropsRequestsAfterStop(t *testing.T) {
	client := match.NewMockClient()
	client.SetConnected(true)
	svc := newRankService(context.Background(), match.DefaultConfig(), nil, slog.New(slog.DiscardHandler))
	svc.setPublisher(match.NewPublisher(client, "test", nil))

	svc.wait()

	done := make(chan struct{})
	go func() {
		svc.handle(&match.RankRequest{RequestID: "late"}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handle blocked after the service stopped")
	}
	assert.Empty(t, client.GetPublishedMessages())
	svc.wait()
}

//go:build integration

package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"airdetect/internal/config"
	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestPublisher_DeliversToSubject(t *testing.T) {
	url := startNATS(t)
	cfg := config.Config{NATSURL: url, NATSSubject: "air-data"}

	p, err := Connect(cfg, quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.Eventually(t, p.IsConnected, 10*time.Second, 50*time.Millisecond)

	observer, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(observer.Close)
	msgs := make(chan *nats.Msg, 4)
	_, err = observer.ChanSubscribe("air-data", msgs)
	require.NoError(t, err)
	require.NoError(t, observer.Flush())

	hub := pubsub.NewHub[types.Reading](quietLogger(), nil)
	sub, err := hub.Subscribe("nats", 4)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx, sub)

	want := types.Reading{Temperature: 23.5, Humidity: 45.2, Methane: -1.3, TVOC: 120, CO2: 450, PM25: 12.7, Timestamp: 1700000000000}
	hub.Publish(want)

	select {
	case msg := <-msgs:
		var got types.Reading
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no message on air-data")
	}
}

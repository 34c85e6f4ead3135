package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdetect/internal/config"
	"airdetect/internal/modules/airquality/types"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		AppEnv:           "dev",
		LogFormat:        "text",
		HTTPAddr:         "127.0.0.1:" + strconv.Itoa(freeTCPPort(t)),
		UDPBind:          "127.0.0.1",
		UDPPort:          freeUDPPort(t),
		UDPReadBuffer:    2048,
		HistorySize:      100,
		SubscriberBuffer: 16,
		ShutdownTimeout:  2 * time.Second,
	}
}

func startApp(t *testing.T, cfg config.Config) (cancel func(), errCh <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() {
		ch <- Run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	t.Cleanup(cancelFn)

	base := "http://" + cfg.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 5*time.Second, 25*time.Millisecond)
	return cancelFn, ch
}

func TestRun_DatagramToLatest(t *testing.T) {
	cfg := testConfig(t)
	cancel, errCh := startApp(t, cfg)
	base := "http://" + cfg.HTTPAddr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := net.Dial("udp", net.JoinHostPort(cfg.UDPBind, strconv.Itoa(cfg.UDPPort)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("Humidity: 45.2%, Temperature: 23.5 C, Methane: -1.3 PPM, TVOC: 120 PPB, CO2eq: 450 PPM, Dust(PM2.5): 12.7 ug/m^3\r\n"))
	require.NoError(t, err)

	var latest *types.Reading
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/latest")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		latest = nil
		return json.NewDecoder(resp.Body).Decode(&latest) == nil && latest != nil
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, 23.5, latest.Temperature)
	assert.Equal(t, 12.7, latest.PM25)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BindFailureKeepsHTTPUp(t *testing.T) {
	cfg := testConfig(t)
	occupied, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.UDPPort})
	require.NoError(t, err)
	defer occupied.Close()

	startApp(t, cfg)

	resp, err := http.Get("http://" + cfg.HTTPAddr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "stopped", body["ingest"])
}

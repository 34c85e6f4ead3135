package airquality

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdetect/internal/config"
	"airdetect/internal/metrics"
	"airdetect/internal/modules/airquality/types"
)

func TestRegisterFeature_IngestVisibleOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	cfg := config.Config{HistorySize: 2, SubscriberBuffer: 4}
	f := RegisterFeature(mux, cfg, metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub, err := f.Hub.Subscribe("test", 4)
	require.NoError(t, err)

	for _, line := range []string{
		"Humidity: 40.0%, Temperature: 20.0 C, Methane: 0.10 PPM, TVOC: 1 PPB, CO2eq: 400 PPM, Dust(PM2.5): 1.0 ug/m^3",
		"Humidity: 41.0%, Temperature: 21.0 C, Methane: 0.20 PPM, TVOC: 2 PPB, CO2eq: 401 PPM, Dust(PM2.5): 2.0 ug/m^3",
		"Humidity: 42.0%, Temperature: 22.0 C, Methane: 0.30 PPM, TVOC: 3 PPB, CO2eq: 402 PPM, Dust(PM2.5): 3.0 ug/m^3",
	} {
		f.Service.HandleDatagram([]byte(line), nil)
	}
	f.Service.HandleDatagram([]byte("DHT11 Read Error!"), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var history []types.Reading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history, 2)
	assert.Equal(t, 21.0, history[0].Temperature)
	assert.Equal(t, 22.0, history[1].Temperature)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	var latest types.Reading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&latest))
	assert.Equal(t, history[1], latest)

	var live []float64
	for i := 0; i < 3; i++ {
		live = append(live, (<-sub.C()).Temperature)
	}
	assert.Equal(t, []float64{20, 21, 22}, live)
}

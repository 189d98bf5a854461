package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	t.Run("Get Migrates Old Settings", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, nil)
		d.db.On("SetSettings", mock.Anything, mock.MatchedBy(func(s types.Settings) bool {
			return s.SolarCapacityKWP == types.DefaultSolarCapacityKWP && s.Timezone == "UTC"
		}), types.CurrentSettingsVersion).Return(nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/settings", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got types.Settings
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, types.DefaultSolarCapacityKWP, got.SolarCapacityKWP)
		assert.True(t, got.MLEnabled)
		d.db.AssertExpectations(t)
	})

	t.Run("Update Valid Settings", func(t *testing.T) {
		srv, d := newTestServer(t)
		settings := testSettings()
		settings.SolarCapacityKWP = 9.6
		d.db.On("SetSettings", mock.Anything, settings, types.CurrentSettingsVersion).Return(nil)

		w := do(t, srv.setupHandler(), http.MethodPost, "/api/settings", settings, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"solarCapacityKWP":9.6`)
		d.db.AssertExpectations(t)
	})

	t.Run("Reject Invalid Settings", func(t *testing.T) {
		srv, d := newTestServer(t)
		settings := testSettings()
		settings.SolarCapacityKWP = 5000

		w := do(t, srv.setupHandler(), http.MethodPost, "/api/settings", settings, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		d.db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything)

		recent := srv.errors.Recent()
		require.Len(t, recent, 1)
		assert.Equal(t, errorhandler.CategoryDataValidation, recent[0].Category)
	})

	t.Run("Reject Unknown Fields", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := do(t, srv.setupHandler(), http.MethodPost, "/api/settings", map[string]any{"dryRun": true}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

package sensors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/common"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

// Entities names the Home Assistant entities that back each reading. Empty
// entities are skipped.
type Entities struct {
	Yield       string
	Lux         string
	Temperature string
	Rain        string
	Sun         string
}

// HomeAssistant reads sensor states through the Home Assistant REST API.
type HomeAssistant struct {
	baseURL  string
	token    string
	entities Entities
	client   *common.Client
}

// configuredHomeAssistant sets up flags for Home Assistant and returns the instance.
func configuredHomeAssistant() *HomeAssistant {
	h := &HomeAssistant{}
	baseURL := lflag.String("ha-url", "http://homeassistant.local:8123", "Base URL of the Home Assistant instance")
	token := lflag.String("ha-token", "", "Long-lived access token for Home Assistant")
	yield := lflag.String("ha-yield-entity", "", "Entity with today's PV yield (kWh or Wh)")
	lux := lflag.String("ha-lux-entity", "", "Entity with the current illuminance (lx)")
	temperature := lflag.String("ha-temperature-entity", "", "Entity with the outdoor temperature (°C)")
	rain := lflag.String("ha-rain-entity", "", "Entity with the current rain rate (mm/h)")
	sun := lflag.String("ha-sun-entity", "sun.sun", "Entity with the solar almanac attributes")
	timeout := lflag.Duration("ha-timeout", 10*time.Second, "Timeout for Home Assistant requests")

	lflag.Do(func() {
		h.baseURL = strings.TrimRight(*baseURL, "/")
		h.token = *token
		h.entities = Entities{
			Yield:       *yield,
			Lux:         *lux,
			Temperature: *temperature,
			Rain:        *rain,
			Sun:         *sun,
		}
		h.client = common.NewClient("home-assistant", *timeout)
		if err := h.Validate(); err != nil {
			panic(fmt.Sprintf("home assistant validation failed: %v", err))
		}
	})

	return h
}

// NewHomeAssistant returns a HomeAssistant source.
func NewHomeAssistant(baseURL, token string, entities Entities, client *common.Client) *HomeAssistant {
	return &HomeAssistant{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		entities: entities,
		client:   client,
	}
}

// Validate ensures the configuration is valid.
func (h *HomeAssistant) Validate() error {
	if h.baseURL == "" {
		return fmt.Errorf("ha-url is required")
	}
	if _, err := url.Parse(h.baseURL); err != nil {
		return fmt.Errorf("failed to parse home assistant url (%s): %w", h.baseURL, err)
	}
	return nil
}

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (h *HomeAssistant) getState(ctx context.Context, entityID string) (haState, error) {
	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}
	var st haState
	if err := h.client.GetJSON(ctx, h.baseURL+"/api/states/"+url.PathEscape(entityID), header, &st); err != nil {
		return haState{}, fmt.Errorf("failed to get state of %s: %w", entityID, err)
	}
	return st, nil
}

// numericState returns nil for non-numeric states such as "unknown" or
// "unavailable".
func numericState(st haState) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
	if err != nil {
		return nil
	}
	if unit, _ := st.Attributes["unit_of_measurement"].(string); unit == "Wh" {
		v /= 1000
	}
	return &v
}

// Readings implements Source. A failing entity is logged and left nil; an
// error is returned only when every configured entity failed.
func (h *HomeAssistant) Readings(ctx context.Context) (types.SensorData, error) {
	var data types.SensorData
	targets := []struct {
		entity string
		dst    **float64
	}{
		{h.entities.Yield, &data.CurrentYield},
		{h.entities.Lux, &data.Lux},
		{h.entities.Temperature, &data.Temperature},
		{h.entities.Rain, &data.Rain},
	}

	var configured int
	var errs []error
	for _, t := range targets {
		if t.entity == "" {
			continue
		}
		configured++
		st, err := h.getState(ctx, t.entity)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read sensor", slog.String("entity", t.entity), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		*t.dst = numericState(st)
	}
	if configured > 0 && len(errs) == configured {
		return types.SensorData{}, errors.Join(errs...)
	}
	return data, nil
}

// SunState implements Source.
func (h *HomeAssistant) SunState(ctx context.Context) (types.SunState, error) {
	if h.entities.Sun == "" {
		return types.SunState{}, fmt.Errorf("no sun entity configured")
	}
	st, err := h.getState(ctx, h.entities.Sun)
	if err != nil {
		return types.SunState{}, err
	}
	rising, _ := st.Attributes["next_rising"].(string)
	setting, _ := st.Attributes["next_setting"].(string)
	return types.SunState{
		State:       st.State,
		NextRising:  rising,
		NextSetting: setting,
	}, nil
}

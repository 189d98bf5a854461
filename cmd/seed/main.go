package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
)

// peakKW is the peak hourly production of the simulated array.
const peakKW = 4.5

func main() {
	days := lflag.Int("seed-days", 30, "Number of past days of production to generate")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -*days)

	var (
		samples   []types.HourlySample
		yesterday float64
	)
	for day := start; day.Before(today); day = day.AddDate(0, 0, 1) {
		// clouds drift slowly from day to day
		baseCloud := rng.Float64() * 100

		var total float64
		for hour := 0; hour < 24; hour++ {
			t := day.Add(time.Duration(hour) * time.Hour)
			cloud := math.Max(0, math.Min(100, baseCloud+(rng.Float64()*30)-15))
			temp := 12 + 10*math.Sin(math.Pi*float64(hour-6)/18) + (rng.Float64() * 2)

			kwh := 0.0
			// Solar (bell curve)
			if hour > 5 && hour < 21 {
				dist := math.Abs(float64(hour) - 13.0)
				kwh = peakKW * math.Exp(-(dist*dist)/12.0) * (1 - cloud/130)
			}

			samples = append(samples, types.HourlySample{
				TSHourStart: t,
				Weather: types.HourlyWeather{
					LocalDatetime: types.At(t),
					Temperature:   types.Ptr(temp),
					CloudCover:    types.Ptr(cloud),
					Humidity:      types.Ptr(50 + cloud/3),
					WindSpeed:     types.Ptr(rng.Float64() * 8),
				},
				ActualKWH:           kwh,
				ProductionYesterday: yesterday,
			})
			total += kwh
		}

		p := types.DailyProduction{
			Date:      day.Format(types.DateFormat),
			KWH:       math.Round(total*100) / 100,
			UpdatedAt: day.Add(21 * time.Hour),
		}
		if err := s.UpsertDailyProduction(ctx, p, types.CurrentDailyProductionVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed daily production", "error", err)
			os.Exit(1)
		}
		yesterday = total

		fmt.Printf("Seeded %s: %.2f kWh (clouds: %.0f%%)\n", p.Date, p.KWH, baseCloud)
	}

	if err := s.UpsertHourlySamples(ctx, samples, types.CurrentHourlySampleVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed hourly samples", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully", "samples", len(samples))
}

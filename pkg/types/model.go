package types

import "time"

// CurrentModelStateVersion is bumped whenever the feature layout changes so
// stale persisted models are not loaded.
const CurrentModelStateVersion = 2

// ModelState is the persisted form of a trained model.
type ModelState struct {
	Version      int           `json:"version"`
	FeatureNames []string      `json:"featureNames"`
	Weights      []float64     `json:"weights"`
	Bias         float64       `json:"bias"`
	Lambda       float64       `json:"lambda"`
	Accuracy     float64       `json:"accuracy"`
	ScalerMeans  []float64     `json:"scalerMeans"`
	ScalerScales []float64     `json:"scalerScales"`
	SamplesUsed  int           `json:"samplesUsed"`
	TrainedAt    time.Time     `json:"trainedAt"`
	Profile      HourlyProfile `json:"profile"`
}

// TrainingResult summarizes a training run.
type TrainingResult struct {
	Accuracy    float64       `json:"accuracy"`
	Lambda      float64       `json:"lambda"`
	SamplesUsed int           `json:"samplesUsed"`
	Features    int           `json:"features"`
	Duration    time.Duration `json:"duration"`
}

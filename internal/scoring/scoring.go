package scoring

import (
	"errors"
	"math"
)

// Symptom is one entry of the caregiver questionnaire.
type Symptom struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

const (
	weightLow    = 0.05
	weightMedium = 0.10
	weightHigh   = 0.15
)

// DefaultSymptoms returns the questionnaire symptoms and their weights.
func DefaultSymptoms() []Symptom {
	return []Symptom{
		{ID: "cough", Description: "Coughing a lot, sometimes wet or with a funny sound", Weight: weightMedium},
		{ID: "breathing", Description: "Trouble breathing: fast, hard or wheezy", Weight: weightHigh},
		{ID: "fever", Description: "Fever: feeling very hot, shivery or sweating", Weight: weightMedium},
		{ID: "chest_pain", Description: "Chest or tummy hurts, especially when breathing or coughing", Weight: weightHigh},
		{ID: "tired", Description: "Feeling very tired or sleepy", Weight: weightLow},
		{ID: "blue_lips", Description: "Blue lips or fingers", Weight: weightHigh},
		{ID: "not_eating", Description: "Not wanting to eat or drink", Weight: weightLow},
		{ID: "confused", Description: "Feeling dizzy or confused", Weight: weightHigh},
		{ID: "runny_nose", Description: "Runny or stuffy nose", Weight: weightLow},
		{ID: "shivering", Description: "Shivering or shaking, even under blankets", Weight: weightMedium},
		{ID: "crying", Description: "Crying more than usual, especially if it hurts to breathe", Weight: weightMedium},
		{ID: "less_play", Description: "Playing less or losing interest in toys", Weight: weightLow},
	}
}

// Config holds the blend weights and confidence thresholds of FinalScore.
type Config struct {
	XrayWeight     float64 `json:"xray_weight"`
	SymptomWeight  float64 `json:"symptom_weight"`
	PastWeight     float64 `json:"past_weight"`
	HighConfidence float64 `json:"high_conf_thresh"`
	LowConfidence  float64 `json:"low_conf_thresh"`
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		XrayWeight:     0.6,
		SymptomWeight:  0.3,
		PastWeight:     0.1,
		HighConfidence: 0.9,
		LowConfidence:  0.1,
	}
}

const (
	maxHistoryBoost = 0.2
	perEpisodeBoost = 0.05
)

// Explanations attached to a final score.
const (
	ExplainHighConfidence = "High confidence from X-ray alone."
	ExplainLowRisk        = "Low risk from X-ray; symptoms/past ignored unless critical."
	ExplainAdjusted       = "Adjusted based on symptoms and history due to unclear X-ray."
)

// ErrInvalidProbabilities is returned when class probabilities are negative or NaN.
var ErrInvalidProbabilities = errors.New("x-ray probabilities must be finite and non-negative")

// XrayProbabilities are the per-class model outputs.
type XrayProbabilities struct {
	Normal    float64 `json:"normal"`
	Bacterial float64 `json:"bacterial"`
	Viral     float64 `json:"viral"`
}

// Pneumonia is the combined probability of the positive classes.
func (p XrayProbabilities) Pneumonia() float64 {
	return p.Bacterial + p.Viral
}

func (p XrayProbabilities) validate() error {
	for _, v := range []float64{p.Normal, p.Bacterial, p.Viral} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return ErrInvalidProbabilities
		}
	}
	return nil
}

// SymptomScore is the weight of matched symptoms over the total possible
// weight, in [0, 1]. Unknown or repeated IDs count once at most.
func SymptomScore(matched []string, symptoms []Symptom) float64 {
	weights := make(map[string]float64, len(symptoms))
	total := 0.0
	for _, s := range symptoms {
		weights[s.ID] = s.Weight
		total += s.Weight
	}
	if total <= 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(matched))
	score := 0.0
	for _, id := range matched {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		score += weights[id]
	}
	return score / total
}

// PastRecordScore returns the full history boost when there is a past record.
func PastRecordScore(hasHistory bool) float64 {
	if hasHistory {
		return maxHistoryBoost
	}
	return 0
}

// PastEpisodesScore scales the boost with the number of past episodes.
func PastEpisodesScore(episodes int) float64 {
	if episodes <= 0 {
		return 0
	}
	return math.Min(float64(episodes)*perEpisodeBoost, maxHistoryBoost)
}

// FinalScore returns the pneumonia risk in percent and its explanation. A
// confident x-ray reading decides alone; otherwise the score blends x-ray,
// symptoms and history.
func FinalScore(probs XrayProbabilities, symptomScore, pastScore float64, cfg Config) (float64, string, error) {
	if err := probs.validate(); err != nil {
		return 0, "", err
	}

	p := probs.Pneumonia()
	switch {
	case p >= cfg.HighConfidence:
		return p * 100, ExplainHighConfidence, nil
	case p <= cfg.LowConfidence:
		return p * 100, ExplainLowRisk, nil
	default:
		weighted := p*cfg.XrayWeight + symptomScore*cfg.SymptomWeight + pastScore*cfg.PastWeight
		return weighted * 100, ExplainAdjusted, nil
	}
}

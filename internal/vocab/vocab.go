package vocab

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Abbreviation maps a whole-word shorthand to its expansion.
type Abbreviation struct {
	Short    string `yaml:"short"`
	Expanded string `yaml:"expanded"`
}

// Vocabulary holds every fixed word list used by the report pipeline.
// A Vocabulary is treated as read-only once handed to a Normalizer or Classifier.
type Vocabulary struct {
	Abbreviations []Abbreviation `yaml:"abbreviations"`
	Units         []string       `yaml:"units"`
	Medications   []string       `yaml:"medications"`
	Symptoms      []string       `yaml:"symptoms"`
	Conditions    []string       `yaml:"conditions"`
	DurationUnits []string       `yaml:"duration_units"`
	Severities    []string       `yaml:"severities"`

	RecommendationPhrases []string `yaml:"recommendation_phrases"`
	DiagnosisPhrases      []string `yaml:"diagnosis_phrases"`
	NegationPhrases       []string `yaml:"negation_phrases"`
}

// Default returns the built-in vocabulary. Each call returns fresh slices.
func Default() Vocabulary {
	return Vocabulary{
		Abbreviations: []Abbreviation{
			{Short: "bp", Expanded: "blood pressure"},
			{Short: "hr", Expanded: "heart rate"},
			{Short: "rr", Expanded: "respiratory rate"},
			{Short: "temp", Expanded: "temperature"},
			{Short: "wbc", Expanded: "white blood cell count"},
			{Short: "rbc", Expanded: "red blood cell count"},
			{Short: "cbc", Expanded: "complete blood count"},
			{Short: "spo2", Expanded: "oxygen saturation"},
			{Short: "cxr", Expanded: "chest x-ray"},
			{Short: "ct", Expanded: "computed tomography"},
			{Short: "mri", Expanded: "magnetic resonance imaging"},
			{Short: "ecg", Expanded: "electrocardiogram"},
			{Short: "ekg", Expanded: "electrocardiogram"},
			{Short: "sob", Expanded: "shortness of breath"},
		},
		Units: []string{
			"mmHg", "bpm", "breaths/min", "°C", "°F", "mg/dL", "g/dL", "mmol/L",
			"cells/mm3", "/mm3", "/µL", "/uL", "%",
		},
		Medications: []string{
			"amoxicillin", "azithromycin", "ceftriaxone", "cefuroxime", "doxycycline",
			"levofloxacin", "clarithromycin", "vancomycin", "oseltamivir", "paracetamol",
			"acetaminophen", "ibuprofen", "prednisone", "albuterol", "salbutamol",
		},
		Symptoms: []string{
			"cough", "fever", "chills", "shortness of breath", "dyspnea", "chest pain",
			"wheezing", "fatigue", "tachypnea", "sputum", "headache", "nausea",
			"vomiting", "loss of appetite", "confusion", "cyanosis",
		},
		Conditions: []string{
			"pneumonia", "bronchitis", "bronchiolitis", "asthma", "tuberculosis",
			"influenza", "copd", "pleural effusion", "consolidation", "infiltrates",
			"sepsis", "hypoxia",
		},
		DurationUnits: []string{"hours", "hour", "days", "day", "weeks", "week", "months", "month", "years", "year"},
		Severities:    []string{"mild", "moderate", "severe", "acute", "chronic", "stable", "unstable"},

		RecommendationPhrases: []string{
			"check and diagnose with x-ray",
			"x-ray recommended",
			"chest x-ray",
			"radiographic evaluation",
			"imaging recommended",
			"pneumonia treatment",
			"antibiotic therapy",
			"hospital admission",
			"oxygen therapy",
		},
		DiagnosisPhrases: []string{
			"pneumonia detected",
			"pneumonia confirmed",
			"pneumonia diagnosed",
			"consolidation detected",
			"consolidation present",
			"infiltrates detected",
			"infiltrates present",
		},
		NegationPhrases: []string{
			"no pneumonia",
			"no evidence of pneumonia",
			"pneumonia ruled out",
			"unlikely pneumonia",
			"no imaging needed",
			"no x-ray required",
			"conservative management",
		},
	}
}

// LoadFile returns the default vocabulary overlaid with the lists found in the
// YAML file at path. Lists missing or empty in the file keep their defaults.
// An empty path yields the defaults unchanged.
func LoadFile(path string) (Vocabulary, error) {
	v := Default()
	if path == "" {
		return v, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary %s: %w", path, err)
	}

	var file Vocabulary
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}

	v.overlay(file)
	return v, nil
}

func (v *Vocabulary) overlay(o Vocabulary) {
	if len(o.Abbreviations) > 0 {
		v.Abbreviations = o.Abbreviations
	}
	overlayList(&v.Units, o.Units)
	overlayList(&v.Medications, o.Medications)
	overlayList(&v.Symptoms, o.Symptoms)
	overlayList(&v.Conditions, o.Conditions)
	overlayList(&v.DurationUnits, o.DurationUnits)
	overlayList(&v.Severities, o.Severities)
	overlayList(&v.RecommendationPhrases, o.RecommendationPhrases)
	overlayList(&v.DiagnosisPhrases, o.DiagnosisPhrases)
	overlayList(&v.NegationPhrases, o.NegationPhrases)
}

func overlayList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}

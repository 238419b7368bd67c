package processing_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/vocab"
)

func TestNormalizeReportScenario(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())

	got := n.Normalize("Patient reports cough and fever for 3 days. bp 130/85 mmHg. Treated with amoxicillin.")

	require.Contains(t, got, "SYMPTOM:cough")
	require.Contains(t, got, "SYMPTOM:fever")
	require.Contains(t, got, "DURATION:3 days")
	require.Contains(t, got, "blood pressure")
	require.Contains(t, got, "MEASUREMENT:85 mmHg")
	require.NotContains(t, got, "MEASUREMENT:130/85 mmHg")
	require.Contains(t, got, "MEDICATION:amoxicillin")
	require.Equal(t,
		"Patient reports SYMPTOM:cough and SYMPTOM:fever for DURATION:3 days. blood pressure 130/MEASUREMENT:85 mmHg. Treated with MEDICATION:amoxicillin.",
		got,
	)
}

func TestNormalizeEmpty(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())
	require.Equal(t, "", n.Normalize(""))
}

func TestNormalizeUnmatchedTextUnchanged(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())
	in := "Temperate climate, nothing of note."
	require.Equal(t, in, n.Normalize(in))
}

func TestNormalizeExpandsEveryAbbreviation(t *testing.T) {
	v := vocab.Default()
	n := processing.NewNormalizer(v)

	for _, a := range v.Abbreviations {
		for _, form := range []string{strings.ToLower(a.Short), strings.ToUpper(a.Short)} {
			t.Run(form, func(t *testing.T) {
				got := n.Normalize("note " + form + " today")
				require.Contains(t, got, a.Expanded)
				require.True(t, strings.HasPrefix(got, "note "), got)
				require.True(t, strings.HasSuffix(got, " today"), got)
			})
		}
	}
}

func TestNormalizeAbbreviationsNeedWordBoundary(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())

	got := n.Normalize("HR 96 bpm")
	require.Equal(t, "heart rate MEASUREMENT:96 bpm", got)
	require.NotContains(t, got, "blood pressurem")

	for _, word := range []string{"ecgs", "ctx", "shr", "bpx", "tempo"} {
		require.Equal(t, word, n.Normalize(word))
	}
}

func TestNormalizeMeasurements(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "celsius", input: "Temp 38.5 °C", want: "temperature MEASUREMENT:38.5 °C"},
		{name: "fahrenheit", input: "101.3°F", want: "MEASUREMENT:101.3°F"},
		{name: "percentage", input: "SpO2 92%", want: "oxygen saturation MEASUREMENT:92%"},
		{name: "per volume", input: "WBC 12000/mm3", want: "white blood cell count MEASUREMENT:12000/mm3"},
		{name: "concentration", input: "glucose 5.4 mmol/L", want: "glucose MEASUREMENT:5.4 mmol/L"},
		{name: "respiratory rate", input: "RR 28 breaths/min", want: "respiratory rate MEASUREMENT:28 breaths/min"},
		{name: "unit case", input: "120 MMHG", want: "MEASUREMENT:120 MMHG"},
		{name: "no unit", input: "bed 12", want: "bed 12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, n.Normalize(tt.input))
		})
	}
}

func TestNormalizePreservesCasing(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())
	got := n.Normalize("Severe Pneumonia treated with Azithromycin")
	require.Equal(t, "SEVERITY:Severe CONDITION:Pneumonia treated with MEDICATION:Azithromycin", got)
}

func TestNormalizePhrasesAndDurations(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())

	require.Equal(t, "SYMPTOM:shortness  of breath for DURATION:1 week",
		n.Normalize("shortness  of breath for 1 week"))
	require.Equal(t, "SEVERITY:mild SYMPTOM:chest pain, DURATION:2 months",
		n.Normalize("mild chest pain, 2 months"))
	require.Equal(t, "SEVERITY:unstable, SEVERITY:stable",
		n.Normalize("unstable, stable"))
}

func TestNormalizeIsNotIdempotent(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())
	once := n.Normalize("cough")
	require.Equal(t, "SYMPTOM:cough", once)
	require.Equal(t, "SYMPTOM:SYMPTOM:cough", n.Normalize(once))
}

func TestNormalizeWithSmallVocabulary(t *testing.T) {
	n := processing.NewNormalizer(vocab.Vocabulary{
		Abbreviations: []vocab.Abbreviation{{Short: "abx", Expanded: "antibiotics"}},
		Symptoms:      []string{"rash"},
	})

	got := n.Normalize("Rash after abx, fever 39 °C for 2 days")
	require.Equal(t, "SYMPTOM:Rash after antibiotics, fever 39 °C for 2 days", got)
}

func TestNormalizeOnlyInsertsAroundOriginalText(t *testing.T) {
	n := processing.NewNormalizer(vocab.Default())
	in := "Mild wheezing and cough, 2 weeks, on albuterol"
	got := n.Normalize(in)

	require.GreaterOrEqual(t, len(got), len(in))
	stripped := got
	for _, m := range []string{
		processing.MarkerMeasurement, processing.MarkerMedication, processing.MarkerSymptom,
		processing.MarkerCondition, processing.MarkerDuration, processing.MarkerSeverity,
	} {
		stripped = strings.ReplaceAll(stripped, m, "")
	}
	require.Equal(t, in, stripped)
}

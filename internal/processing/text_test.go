package processing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "punctuation", input: "Cough!!!   fever", want: "Cough fever"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "entities", input: "fever &amp; chills", want: "fever chills"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "Cough cough fever fever fever and the patient wheezing"
	got := processing.ExtractKeywords(text, 3, 3)
	require.Equal(t, []string{"fever", "cough", "wheezing"}, got)

	require.Nil(t, processing.ExtractKeywords("", 5, 3))
}

func TestExtractKeywordsSkipsMarkers(t *testing.T) {
	got := processing.ExtractKeywords("SYMPTOM:cough SYMPTOM:fever MEDICATION:amoxicillin", 10, 3)
	require.ElementsMatch(t, []string{"cough", "fever", "amoxicillin"}, got)
}

func TestBuildDocumentID(t *testing.T) {
	id1 := processing.BuildDocumentID("report.txt", []byte("cough"))
	id2 := processing.BuildDocumentID("report.txt", []byte("cough"))
	id3 := processing.BuildDocumentID("report.txt", []byte("fever"))
	require.NotEmpty(t, id1)
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, id3)
}

func TestGenerateTitleFromText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxWords int
		want     string
	}{
		{name: "empty", text: "", maxWords: 10, want: ""},
		{name: "single sentence", text: "Productive cough since Monday.", maxWords: 10, want: "Productive cough since Monday"},
		{name: "decimal kept", text: "Temp 38.5 on admission. Cough.", maxWords: 10, want: "Temp 38.5 on admission"},
		{name: "truncated", text: "Child presented with fever cough and reduced appetite", maxWords: 4, want: "Child presented with fever..."},
		{name: "question mark", text: "Pneumonia? Unclear.", maxWords: 10, want: "Pneumonia"},
		{name: "unlimited words", text: "Chest film reviewed", maxWords: 0, want: "Chest film reviewed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.GenerateTitleFromText(tt.text, tt.maxWords))
		})
	}
}

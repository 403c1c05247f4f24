package profile

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/VoterBot/internal/models"
)

func fullRecord() models.Record {
	return models.Record{
		RespondentID: "1",
		AgeBucket:    models.Str("25-34"),
		Gender:       models.Str("Female"),
		Ethnicity:    models.Str("Māori"),
		Education:    models.Str("University"),
		Housing:      models.Str("Rent privately"),
		UrbanRural:   models.Str("urban"),
		PartyVote:    models.Str("Green"),
		Ideology:     models.Str("left"),
	}
}

func TestRenderFullRecord(t *testing.T) {
	text := Render(fullRecord())
	want := "NZES 2023 profile. This respondent is aged 25-34, identifies as female, and reports Māori ethnicity. " +
		"They have a university qualification, Rent privately, and live in an urban area. " +
		"They voted for Green in 2023. " +
		"On the left-right scale they place themselves on the left. #NZES2023"
	if text != want {
		t.Errorf("Render() mismatch:\n got: %q\nwant: %q", text, want)
	}
	if Length(text) > MaxPostChars {
		t.Errorf("Render() length %d exceeds %d", Length(text), MaxPostChars)
	}
}

func TestSentencesPhraseTables(t *testing.T) {
	r := models.Record{
		RespondentID: "2",
		Education:    models.Str("No Formal"),
		Housing:      models.Str("Own your house or flat with a mortgage"),
		UrbanRural:   models.Str("rural/remote"),
		PartyVote:    models.Str("Maori"),
	}
	want := []string{
		"They have no formal qualifications, own their home with a mortgage, and live in a rural/remote area.",
		"They voted for Te Pāti Māori in 2023.",
	}
	if diff := cmp.Diff(want, Sentences(r)); diff != "" {
		t.Errorf("Sentences() mismatch (-want +got):\n%s", diff)
	}

	r = models.Record{RespondentID: "3", Gender: models.Str("Male"), PartyVote: models.Str("Nonvote")}
	want = []string{
		"This respondent is identifies as male.",
		"They did not cast a party vote in 2023.",
	}
	if diff := cmp.Diff(want, Sentences(r)); diff != "" {
		t.Errorf("Sentences() mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderTruncation(t *testing.T) {
	r := models.Record{
		RespondentID: "4",
		AgeBucket:    models.Str("65+"),
		Ideology:     models.Str("right"),
	}
	full := "NZES 2023 profile. This respondent is aged 65+. On the left-right scale they place themselves on the right."

	tests := []struct {
		limit int
		want  string
	}{
		{117, full + Hashtag},
		{116, full},
		{107, full},
		{106, "NZES 2023 profile. This respondent is aged 65+." + Hashtag},
		{46, "NZES 2023 profile." + Hashtag},
		{20, "NZES 2023 profile."},
	}
	for _, tt := range tests {
		if got := RenderWithLimit(r, tt.limit); got != tt.want {
			t.Errorf("RenderWithLimit(%d) = %q, want %q", tt.limit, got, tt.want)
		}
	}
}

func TestRenderCountsCodePoints(t *testing.T) {
	r := models.Record{RespondentID: "5", Ethnicity: models.Str("Māori")}
	want := "NZES 2023 profile. This respondent is reports Māori ethnicity."
	if Length(want) != 62 || len(want) != 63 {
		t.Fatalf("fixture lengths changed: runes=%d bytes=%d", Length(want), len(want))
	}
	if got := RenderWithLimit(r, 62); got != want {
		t.Errorf("RenderWithLimit(62) = %q, want %q", got, want)
	}
}

func TestRenderEmptyRecord(t *testing.T) {
	if got := Render(models.Record{RespondentID: "6"}); got != Prefix+Hashtag {
		t.Errorf("Render(empty) = %q", got)
	}
}

func TestRenderBoundWithLongValues(t *testing.T) {
	long := strings.Repeat("Wellington ", 12)
	records := []models.Record{
		fullRecord(),
		{RespondentID: "7", AgeBucket: models.Str(long), Gender: models.Str(long), Ethnicity: models.Str(long)},
		{RespondentID: "8", PartyVote: models.Str(long), Ideology: models.Str(long), Housing: models.Str(long)},
		{
			RespondentID: "9",
			AgeBucket:    models.Str("18-24"),
			Gender:       models.Str("Another gender"),
			Ethnicity:    models.Str("Pasifika"),
			Education:    models.Str("Level 2 or 3"),
			Housing:      models.Str("Rent a house or flat from Kāinga Ora: Home and Communities, a local authority or trust"),
			UrbanRural:   models.Str("urban"),
			PartyVote:    models.Str("ACT New Zealand"),
			Ideology:     models.Str("right"),
		},
	}
	for _, r := range records {
		text := Render(r)
		if !strings.HasPrefix(text, Prefix) {
			t.Errorf("record %s: text %q lacks prefix", r.RespondentID, text)
		}
		if Length(text) > MaxPostChars {
			t.Errorf("record %s: length %d exceeds %d", r.RespondentID, Length(text), MaxPostChars)
		}
		if Render(r) != text {
			t.Errorf("record %s: rendering is not deterministic", r.RespondentID)
		}
	}
}

func TestJoinPhrasesAndArticle(t *testing.T) {
	if got := joinPhrases([]string{"a"}); got != "a" {
		t.Errorf("joinPhrases(1) = %q", got)
	}
	if got := joinPhrases([]string{"a", "b"}); got != "a and b" {
		t.Errorf("joinPhrases(2) = %q", got)
	}
	if got := joinPhrases([]string{"a", "b", "c"}); got != "a, b, and c" {
		t.Errorf("joinPhrases(3) = %q", got)
	}
	if article("urban") != "an" || article("rural/remote") != "a" || article("Outer") != "an" {
		t.Error("article() chose the wrong article")
	}
}

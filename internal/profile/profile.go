// Package profile renders an anonymized Record as a short, bounded-length
// natural-language post.
//
// Rendering is deterministic: the same Record always yields the same text.
package profile

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/VoterBot/internal/models"
)

const (
	// MaxPostChars is the hard cap on a rendered post, in Unicode code points.
	MaxPostChars = 300
	// Prefix opens every post.
	Prefix = "NZES 2023 profile."
	// Hashtag is appended only when it still fits under the cap.
	Hashtag = " #NZES2023"
)

// ---- Phrase tables ----

var educationPhrases = map[string]string{
	"No Formal":    "no formal qualifications",
	"Level 1":      "Level 1 qualifications",
	"Level 2 or 3": "Level 2 or 3 qualifications",
	"Level 4":      "Level 4 qualifications",
	"University":   "a university qualification",
	"Unclassfied":  "an unclassified qualification",
}

var housingPhrases = map[string]string{
	"Own your house or flat mortgage free":                                                  "own their home mortgage-free",
	"Own your house or flat with a mortgage":                                                "own their home with a mortgage",
	"Rent your house or flat privately":                                                     "rent privately",
	"Rent a house or flat with a group of individuals":                                      "rent with others",
	"Live at your parents' or other family members' home":                                   "live with family",
	"Board or live in a hotel / hostel / rest home / temporary housing":                     "board or live in temporary housing",
	"Rent a house or flat from Kāinga Ora: Home and Communities, a local authority or trust": "rent from Kāinga Ora or a public provider",
}

var partyPhrases = map[string]string{
	"Nonvote": "did not cast a party vote",
	"Maori":   "voted for Te Pāti Māori",
}

// ---- Sentence construction ----

// Sentences returns the descriptive sentences for the record in publishing
// order: intro, living situation, vote, ideology. Sentences whose fields are
// all absent are omitted.
func Sentences(r models.Record) []string {
	var sentences []string

	var intro []string
	if age := value(r.AgeBucket); age != "" {
		intro = append(intro, "aged "+age)
	}
	if gender := value(r.Gender); gender != "" {
		intro = append(intro, "identifies as "+strings.ToLower(gender))
	}
	if ethnicity := value(r.Ethnicity); ethnicity != "" {
		intro = append(intro, "reports "+ethnicity+" ethnicity")
	}
	if len(intro) > 0 {
		sentences = append(sentences, "This respondent is "+joinPhrases(intro)+".")
	}

	var living []string
	if education := value(r.Education); education != "" {
		living = append(living, "have "+lookup(educationPhrases, education, education))
	}
	if housing := value(r.Housing); housing != "" {
		living = append(living, lookup(housingPhrases, housing, housing))
	}
	if area := value(r.UrbanRural); area != "" {
		living = append(living, "live in "+article(area)+" "+area+" area")
	}
	if len(living) > 0 {
		sentences = append(sentences, "They "+joinPhrases(living)+".")
	}

	if vote := value(r.PartyVote); vote != "" {
		sentences = append(sentences, "They "+lookup(partyPhrases, vote, "voted for "+vote)+" in 2023.")
	}

	if ideology := value(r.Ideology); ideology != "" {
		sentences = append(sentences, "On the left-right scale they place themselves on the "+ideology+".")
	}

	return sentences
}

// Render renders the record with the default cap.
func Render(r models.Record) string {
	return RenderWithLimit(r, MaxPostChars)
}

// RenderWithLimit renders the record so that the result never exceeds
// maxChars code points, unless the prefix alone is longer. Trailing sentences
// are dropped first; the hashtag is appended only if it still fits.
func RenderWithLimit(r models.Record, maxChars int) string {
	text := Prefix
	selected := Sentences(r)
	for len(selected) > 0 {
		candidate := Prefix + " " + strings.Join(selected, " ")
		if utf8.RuneCountInString(candidate) <= maxChars {
			text = candidate
			break
		}
		selected = selected[:len(selected)-1]
	}

	if utf8.RuneCountInString(text)+utf8.RuneCountInString(Hashtag) <= maxChars {
		text += Hashtag
	}
	return text
}

// Length returns the length of text as counted against the cap.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

func value(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func lookup(table map[string]string, key, fallback string) string {
	if phrase, ok := table[key]; ok {
		return phrase
	}
	return fallback
}

// joinPhrases joins phrases as an English list with a serial comma.
func joinPhrases(phrases []string) string {
	switch len(phrases) {
	case 0:
		return ""
	case 1:
		return phrases[0]
	case 2:
		return phrases[0] + " and " + phrases[1]
	}
	return strings.Join(phrases[:len(phrases)-1], ", ") + ", and " + phrases[len(phrases)-1]
}

func article(word string) string {
	switch strings.ToLower(word[:1]) {
	case "a", "e", "i", "o", "u":
		return "an"
	}
	return "a"
}

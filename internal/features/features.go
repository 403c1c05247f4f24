// Package features turns raw NZES survey responses into anonymized categorical
// Records.
//
// Coded answers are resolved through the survey's value labels, continuous and
// ordinal answers are bucketed with fixed thresholds, and rare categories are
// suppressed so that no published combination identifies a small group.
package features

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/stata"
)

// DefaultMinCell is the default minimum number of respondents a category must
// cover before it may be published.
const DefaultMinCell = 10

// Raw survey variables read by the builder.
const (
	VarID         = "amcase"
	VarGender     = "H1"
	VarAge        = "H3c"
	VarAgeMerged  = "mage"
	VarEthnicity  = "methnic"
	VarEducation  = "meducate"
	VarHousing    = "H22"
	VarUrbanRural = "murbrur"
	VarPartyVote  = "mvpartyvote"
	VarIdeology   = "B6"
)

// ideologyDontKnow is the B6 code for "don't know".
const ideologyDontKnow = 99

// Config controls the feature build.
type Config struct {
	MinCell int
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{MinCell: DefaultMinCell}
}

// Source is a columnar table of raw survey responses.
type Source interface {
	NumRows() int
	Column(name string) ([]stata.Value, bool)
}

// Build derives one Record per respondent with an identifier and applies cell
// suppression to the categorical fields.
func Build(src Source, labels models.Labels, cfg Config) ([]models.Record, error) {
	if cfg.MinCell < 0 {
		return nil, fmt.Errorf("min cell must not be negative, got %d", cfg.MinCell)
	}
	ids, ok := src.Column(VarID)
	if !ok {
		return nil, fmt.Errorf("raw dataset has no %s column", VarID)
	}

	n := src.NumRows()
	column := func(name string) []stata.Value {
		col, ok := src.Column(name)
		if !ok {
			slog.Debug("features.Build: column not present", "column", name)
			return make([]stata.Value, n)
		}
		return col
	}

	ageCol, ok := src.Column(VarAge)
	if !ok {
		ageCol = column(VarAgeMerged)
	}
	genderCol := column(VarGender)
	ethnicityCol := column(VarEthnicity)
	educationCol := column(VarEducation)
	housingCol := column(VarHousing)
	urbanCol := column(VarUrbanRural)
	voteCol := column(VarPartyVote)
	ideologyCol := column(VarIdeology)

	records := make([]models.Record, 0, n)
	dropped := 0
	for i := 0; i < n; i++ {
		id, ok := ids[i].Text()
		if !ok || strings.TrimSpace(id) == "" {
			dropped++
			continue
		}
		r := models.Record{
			RespondentID: strings.TrimSpace(id),
			AgeBucket:    AgeBucket(ageCol[i]),
			Gender:       normalizeText(mapValue(labels, VarGender, genderCol[i])),
			Ethnicity:    filterMissing(normalizeText(mapValue(labels, VarEthnicity, ethnicityCol[i])), "unknown"),
			Education:    normalizeText(mapValue(labels, VarEducation, educationCol[i])),
			Housing:      normalizeText(mapValue(labels, VarHousing, housingCol[i])),
			UrbanRural:   UrbanRuralBucket(urbanCol[i]),
			PartyVote:    filterMissing(normalizeText(mapValue(labels, VarPartyVote, voteCol[i])), "missing", "dk"),
			Ideology:     IdeologyBucket(ideologyCol[i]),
		}
		records = append(records, r)
	}
	if dropped > 0 {
		slog.Info("features.Build: dropped rows without an identifier", "dropped", dropped)
	}

	records, err := Suppress(records, models.SuppressedFields, cfg.MinCell)
	if err != nil {
		return nil, err
	}
	slog.Debug("features.Build: built records", "records", len(records), "min_cell", cfg.MinCell)
	return records, nil
}

// mapValue resolves a coded value through the variable's value labels.
func mapValue(labels models.Labels, variable string, v stata.Value) *string {
	if v.IsMissing() {
		return nil
	}
	code, ok := v.Int()
	if !ok {
		return nil
	}
	label, ok := labels.ValueLabel(variable, code)
	if !ok {
		return nil
	}
	return &label
}

func normalizeText(v *string) *string {
	if v == nil {
		return nil
	}
	return models.Str(strings.TrimSpace(*v))
}

// filterMissing drops labels that encode a non-answer.
func filterMissing(v *string, tokens ...string) *string {
	if v == nil {
		return nil
	}
	lowered := strings.ToLower(*v)
	for _, token := range tokens {
		if strings.Contains(lowered, token) {
			return nil
		}
	}
	return v
}

// AgeBucket maps an age in years to a ten-year band. Respondents under 18 and
// missing ages are absent.
func AgeBucket(v stata.Value) *string {
	if v.Kind != stata.KindNumber {
		return nil
	}
	age := int(v.Num)
	var bucket string
	switch {
	case age < 18:
		return nil
	case age <= 24:
		bucket = "18-24"
	case age <= 34:
		bucket = "25-34"
	case age <= 44:
		bucket = "35-44"
	case age <= 54:
		bucket = "45-54"
	case age <= 64:
		bucket = "55-64"
	default:
		bucket = "65+"
	}
	return &bucket
}

// IdeologyBucket maps the 0-10 left-right self placement to left, center or right.
func IdeologyBucket(v stata.Value) *string {
	if v.Kind != stata.KindNumber {
		return nil
	}
	score := int(v.Num)
	var bucket string
	switch {
	case score == ideologyDontKnow:
		return nil
	case score <= 3:
		bucket = "left"
	case score <= 6:
		bucket = "center"
	default:
		bucket = "right"
	}
	return &bucket
}

// UrbanRuralBucket maps the Stats NZ urban/rural indicator to urban or rural/remote.
func UrbanRuralBucket(v stata.Value) *string {
	if v.Kind != stata.KindNumber {
		return nil
	}
	var bucket string
	switch int(v.Num) {
	case 111, 112, 113:
		bucket = "urban"
	case 221, 222, 223, 224, 225:
		bucket = "rural/remote"
	default:
		return nil
	}
	return &bucket
}

// Suppress replaces every value of the given fields that occurs fewer than
// minCell times with models.OtherCategory. Counts are taken over the whole
// input; absent values are neither counted nor replaced. An unknown field is
// an error and leaves records untouched.
func Suppress(records []models.Record, fields []models.Field, minCell int) ([]models.Record, error) {
	for _, field := range fields {
		var blank models.Record
		if err := blank.Set(field, nil); err != nil {
			return nil, fmt.Errorf("cannot suppress: %w", err)
		}
	}
	out := make([]models.Record, len(records))
	copy(out, records)
	other := models.OtherCategory

	for _, field := range fields {
		counts := map[string]int{}
		for _, r := range out {
			if v := r.Get(field); v != nil {
				counts[*v]++
			}
		}
		rare := map[string]struct{}{}
		for value, count := range counts {
			if count < minCell {
				rare[value] = struct{}{}
			}
		}
		if len(rare) == 0 {
			continue
		}
		replaced := 0
		for i := range out {
			v := out[i].Get(field)
			if v == nil {
				continue
			}
			if _, ok := rare[*v]; ok {
				if err := out[i].Set(field, &other); err != nil {
					return nil, err
				}
				replaced++
			}
		}
		slog.Debug("features.Suppress: suppressed rare categories", "field", field, "categories", len(rare), "rows", replaced)
	}
	return out, nil
}

// Package models defines the core data structures for VoterBot.
//
// It includes the anonymized survey Record, the Dataset the scheduler reads from,
// and the persisted ScheduleState shared across modules.
package models

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Field names a categorical attribute of a Record. The values double as the
// column names of the processed dataset.
type Field string

const (
	FieldAgeBucket  Field = "age_bucket"
	FieldGender     Field = "gender"
	FieldEthnicity  Field = "ethnicity"
	FieldEducation  Field = "education"
	FieldHousing    Field = "housing"
	FieldUrbanRural Field = "urban_rural"
	FieldPartyVote  Field = "party_vote"
	FieldIdeology   Field = "ideology"
)

// IDColumn is the processed dataset column holding the respondent identifier.
const IDColumn = "respondent_id"

// OtherCategory replaces categories suppressed for privacy.
const OtherCategory = "Other"

// Fields lists every categorical field in column order.
var Fields = []Field{
	FieldAgeBucket,
	FieldGender,
	FieldEthnicity,
	FieldEducation,
	FieldHousing,
	FieldUrbanRural,
	FieldPartyVote,
	FieldIdeology,
}

// SuppressedFields are the fields subject to cell suppression. The age bucket
// is already coarse and is left as-is.
var SuppressedFields = []Field{
	FieldGender,
	FieldEthnicity,
	FieldEducation,
	FieldHousing,
	FieldUrbanRural,
	FieldPartyVote,
	FieldIdeology,
}

var (
	ErrEmptyRespondentID = errors.New("respondent id cannot be empty")
	ErrUnknownField      = errors.New("unknown record field")
)

// Record is one respondent's anonymized attributes. A nil field is absent.
type Record struct {
	RespondentID string  `json:"respondent_id"`
	AgeBucket    *string `json:"age_bucket"`
	Gender       *string `json:"gender"`
	Ethnicity    *string `json:"ethnicity"`
	Education    *string `json:"education"`
	Housing      *string `json:"housing"`
	UrbanRural   *string `json:"urban_rural"`
	PartyVote    *string `json:"party_vote"`
	Ideology     *string `json:"ideology"`
}

// Str returns a pointer to s, or nil when s is blank.
func Str(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref returns the value behind p, or "" when absent.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r *Record) slot(f Field) (**string, error) {
	switch f {
	case FieldAgeBucket:
		return &r.AgeBucket, nil
	case FieldGender:
		return &r.Gender, nil
	case FieldEthnicity:
		return &r.Ethnicity, nil
	case FieldEducation:
		return &r.Education, nil
	case FieldHousing:
		return &r.Housing, nil
	case FieldUrbanRural:
		return &r.UrbanRural, nil
	case FieldPartyVote:
		return &r.PartyVote, nil
	case FieldIdeology:
		return &r.Ideology, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
}

// Get returns the value of field f, or nil when absent or unknown.
func (r Record) Get(f Field) *string {
	p, err := r.slot(f)
	if err != nil {
		return nil
	}
	return *p
}

// Set assigns field f. Blank values are stored as absent.
func (r *Record) Set(f Field, v *string) error {
	p, err := r.slot(f)
	if err != nil {
		return err
	}
	if v != nil {
		v = Str(*v)
	}
	*p = v
	return nil
}

// PresentCount returns how many categorical fields carry a non-blank value.
func (r Record) PresentCount() int {
	n := 0
	for _, f := range Fields {
		if v := r.Get(f); v != nil && strings.TrimSpace(*v) != "" {
			n++
		}
	}
	return n
}

// Normalize trims the identifier and turns blank field values into absent ones.
func (r *Record) Normalize() error {
	r.RespondentID = strings.TrimSpace(r.RespondentID)
	if r.RespondentID == "" {
		return ErrEmptyRespondentID
	}
	for _, f := range Fields {
		if err := r.Set(f, r.Get(f)); err != nil {
			return err
		}
	}
	return nil
}

// Dataset is an ordered, read-only collection of Records keyed by respondent id.
type Dataset struct {
	records []Record
	index   map[string]int
}

// NewDataset validates the records and indexes them by id. When an id repeats,
// the first occurrence wins.
func NewDataset(records []Record) (*Dataset, error) {
	ds := &Dataset{
		records: make([]Record, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	duplicates := 0
	for i, r := range records {
		if err := r.Normalize(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, ok := ds.index[r.RespondentID]; ok {
			duplicates++
			continue
		}
		ds.index[r.RespondentID] = len(ds.records)
		ds.records = append(ds.records, r)
	}
	if duplicates > 0 {
		slog.Warn("NewDataset: dropped duplicate respondent ids", "duplicates", duplicates)
	}
	return ds, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// IDs returns the distinct respondent ids in dataset order.
func (d *Dataset) IDs() []string {
	ids := make([]string, len(d.records))
	for i, r := range d.records {
		ids[i] = r.RespondentID
	}
	return ids
}

// Lookup returns the record with the given id.
func (d *Dataset) Lookup(id string) (Record, bool) {
	i, ok := d.index[id]
	if !ok {
		return Record{}, false
	}
	return d.records[i], true
}

// Records returns a copy of the records in dataset order.
func (d *Dataset) Records() []Record {
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

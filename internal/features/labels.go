package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/stata"
)

// Default locations of the raw survey file.
const (
	DefaultRawPath  = "data/raw/2_NZES23Release_100227.dta"
	FallbackRawPath = "doi-10.26193-hhmeuz/2_NZES23Release_100227.dta"
)

// ErrInputNotFound is matched by errors.Is for every InputNotFoundError.
var ErrInputNotFound = errors.New("raw dataset not found")

// InputNotFoundError lists the locations searched for the raw dataset.
type InputNotFoundError struct {
	Tried []string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("could not find NZES .dta file (tried %s); place it in data/raw", strings.Join(e.Tried, ", "))
}

func (e *InputNotFoundError) Is(target error) bool {
	return target == ErrInputNotFound
}

// ResolveRawPath returns the first existing path among the explicit path and
// the default locations.
func ResolveRawPath(explicit string) (string, error) {
	candidates := []string{DefaultRawPath, FallbackRawPath}
	if explicit != "" {
		candidates = append([]string{explicit}, candidates...)
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			slog.Debug("features.ResolveRawPath: using raw dataset", "path", p)
			return p, nil
		}
	}
	return "", &InputNotFoundError{Tried: candidates}
}

// CleanLabel trims a label and strips a leading numeric prefix such as "1. ".
func CleanLabel(label string) string {
	cleaned := strings.TrimSpace(label)
	head, tail, ok := strings.Cut(cleaned, ".")
	if ok {
		head = strings.TrimSpace(head)
		if head != "" && strings.IndexFunc(head, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
			cleaned = strings.TrimSpace(tail)
		}
	}
	return cleaned
}

// LabelsFromFile collects variable and value labels from a decoded .dta file.
func LabelsFromFile(f *stata.File) models.Labels {
	labels := models.NewLabels()
	for _, v := range f.Variables {
		labels.Variables[v.Name] = CleanLabel(v.Label)
		table, ok := f.VariableValueLabels(v.Name)
		if !ok {
			continue
		}
		values := make(map[int]string, len(table))
		for code, text := range table {
			values[code] = CleanLabel(text)
		}
		labels.Values[v.Name] = values
	}
	return labels
}

// WriteLabels writes the labels document as indented UTF-8 JSON, creating the
// parent directory if needed.
func WriteLabels(path string, labels models.Labels) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create labels directory: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(labels); err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write labels to %s: %w", path, err)
	}
	slog.Debug("features.WriteLabels: wrote labels", "path", path, "variables", len(labels.Variables))
	return nil
}

// ReadLabels loads a labels document written by WriteLabels.
func ReadLabels(path string) (models.Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Labels{}, err
	}
	labels := models.NewLabels()
	if err := json.Unmarshal(data, &labels); err != nil {
		return models.Labels{}, fmt.Errorf("failed to parse labels %s: %w", path, err)
	}
	return labels, nil
}

// Ingest reads the raw .dta file, writes its labels document and returns both.
func Ingest(rawPath, labelsPath string) (*stata.File, models.Labels, error) {
	f, err := stata.Open(rawPath)
	if err != nil {
		return nil, models.Labels{}, err
	}
	labels := LabelsFromFile(f)
	if err := WriteLabels(labelsPath, labels); err != nil {
		return nil, models.Labels{}, err
	}
	slog.Info("features.Ingest: read raw dataset", "path", rawPath, "rows", f.NumRows(), "variables", len(f.Variables))
	return f, labels, nil
}

package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"tenancy-rag/internal/models"
)

// Source is one extraction batch: the records pulled from a single file.
type Source struct {
	Name    string             `json:"source_document" yaml:"source_document"`
	Records []models.RawRecord `json:"chunks" yaml:"chunks"`
}

// Extractor turns the text of a document into raw records.
type Extractor interface {
	Extract(ctx context.Context, doc Document) ([]models.RawRecord, error)
}

// RuleSheetExtractor reads labelled rule blocks from document text.
type RuleSheetExtractor struct{}

func (RuleSheetExtractor) Extract(_ context.Context, doc Document) ([]models.RawRecord, error) {
	return ParseRuleSheet(strings.NewReader(doc.Text()))
}

// Loader reads batch files. Structured files (json, yaml, spreadsheets with a
// header row) are decoded directly; other documents go through the extractor.
type Loader struct {
	extractor Extractor
}

// NewLoader uses the rule-sheet extractor when e is nil.
func NewLoader(e Extractor) *Loader {
	if e == nil {
		e = RuleSheetExtractor{}
	}
	return &Loader{extractor: e}
}

// LoadDir reads every supported file in dir, in file name order. Batch
// order decides ties during merging, so the order must be stable.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch folder: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := l.LoadFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// LoadFile reads one batch file.
func (l *Loader) LoadFile(ctx context.Context, path string) (Source, error) {
	name := DocumentName(path)
	var (
		records []models.RawRecord
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		name, records, err = readJSON(path, name)
	case ".yaml", ".yml":
		name, records, err = readYAML(path, name)
	case ".xlsx", ".xlsm":
		records, err = readSheetRecords(path)
		if errors.Is(err, errNoHeader) {
			records, err = l.extract(ctx, path)
		}
	default:
		records, err = l.extract(ctx, path)
	}
	if err != nil {
		return Source{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Info().Str("file", path).Str("document", name).Int("records", len(records)).Msg("loaded batch")
	return Source{Name: name, Records: records}, nil
}

func (l *Loader) extract(ctx context.Context, path string) ([]models.RawRecord, error) {
	doc, err := ParseToText(path)
	if err != nil {
		return nil, err
	}
	return l.extractor.Extract(ctx, doc)
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return IsDocument(name)
}

// WriteSource saves extracted records as a JSON batch file.
func WriteSource(path string, src Source) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create batch folder: %w", err)
	}
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// readJSON accepts {"source_document": ..., "chunks": [...]} or a bare array.
func readJSON(path, name string) (string, []models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return name, nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []models.RawRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return name, nil, err
		}
		return name, records, nil
	}
	var src Source
	if err := json.Unmarshal(trimmed, &src); err != nil {
		return name, nil, err
	}
	if strings.TrimSpace(src.Name) != "" {
		name = src.Name
	}
	return name, src.Records, nil
}

func readYAML(path, name string) (string, []models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return name, nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return name, nil, err
	}
	if len(root.Content) == 0 {
		return name, nil, nil
	}
	if root.Content[0].Kind == yaml.SequenceNode {
		var records []models.RawRecord
		if err := root.Content[0].Decode(&records); err != nil {
			return name, nil, err
		}
		return name, records, nil
	}
	var src Source
	if err := root.Content[0].Decode(&src); err != nil {
		return name, nil, err
	}
	if strings.TrimSpace(src.Name) != "" {
		name = src.Name
	}
	return name, src.Records, nil
}

var errNoHeader = errors.New("no record header row")

// readSheetRecords maps the header row of the first sheet onto record fields.
func readSheetRecords(path string) ([]models.RawRecord, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errNoHeader
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoHeader
	}

	columns := make(map[int]field)
	for i, h := range rows[0] {
		label := strings.Join(strings.Fields(strings.ReplaceAll(h, "_", " ")), " ")
		if f := fieldOf(label); f != fieldNone {
			columns[i] = f
		}
	}
	hasTitle, hasRule := false, false
	for _, f := range columns {
		hasTitle = hasTitle || f == fieldTitle
		hasRule = hasRule || f == fieldRule
	}
	if !hasTitle || !hasRule {
		return nil, errNoHeader
	}

	records := make([]models.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var rec models.RawRecord
		empty := true
		for i, cell := range row {
			f, ok := columns[i]
			if !ok || strings.TrimSpace(cell) == "" {
				continue
			}
			empty = false
			v := models.Str(cell)
			switch f {
			case fieldTitle:
				rec.Title = v
			case fieldCategory:
				rec.Category = v
			case fieldRule:
				rec.KeyRule = v
			case fieldImplication:
				rec.ExpatImplication = v
			case fieldRisk:
				rec.RiskLevel = v
			case fieldSource:
				rec.SourceDocument = v
			}
		}
		if !empty {
			records = append(records, rec)
		}
	}
	return records, nil
}

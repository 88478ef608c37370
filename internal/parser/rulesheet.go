package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

var (
	fieldRe = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:\*\*)?(title|category|key rule|rule|expat implication|implication|risk level|risk|source document|source)(?:\*\*)?\s*:(?:\*\*)?\s*(.*)$`)
	endRe   = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(references|footnotes)\s*$`)
)

type field int

const (
	fieldNone field = iota
	fieldTitle
	fieldCategory
	fieldRule
	fieldImplication
	fieldRisk
	fieldSource
)

func fieldOf(label string) field {
	switch strings.ToLower(label) {
	case "title":
		return fieldTitle
	case "category":
		return fieldCategory
	case "rule", "key rule":
		return fieldRule
	case "implication", "expat implication":
		return fieldImplication
	case "risk", "risk level":
		return fieldRisk
	case "source", "source document":
		return fieldSource
	}
	return fieldNone
}

type ruleSheetState struct {
	current *models.RawRecord
	field   field
	values  map[field]*strings.Builder
	result  []models.RawRecord
}

// ParseRuleSheet reads "Title:", "Category:", "Rule:", "Implication:",
// "Risk:" and "Source:" blocks. A Title line starts a new record, a line
// without a label continues the previous field and a References heading
// ends the sheet.
func ParseRuleSheet(r io.Reader) ([]models.RawRecord, error) {
	var state ruleSheetState

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "---" {
			continue
		}
		if endRe.MatchString(line) {
			break
		}
		processRuleLine(line, &state)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushRecord(&state)
	log.Debug().Int("records", len(state.result)).Msg("parsed rule sheet")
	return state.result, nil
}

func processRuleLine(line string, state *ruleSheetState) {
	if m := fieldRe.FindStringSubmatch(line); m != nil {
		f := fieldOf(m[1])
		if f == fieldTitle || state.current == nil || state.values[f] != nil {
			flushRecord(state)
			state.current = &models.RawRecord{}
			state.values = map[field]*strings.Builder{}
		}
		b := &strings.Builder{}
		b.WriteString(strings.TrimSpace(m[2]))
		state.values[f] = b
		state.field = f
		return
	}
	// continuation of the previous field
	if state.current != nil && state.field != fieldNone {
		b := state.values[state.field]
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(line)
	}
}

func flushRecord(state *ruleSheetState) {
	if state.current == nil {
		return
	}
	rec := state.current
	for f, b := range state.values {
		v := models.Str(b.String())
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
	state.result = append(state.result, *rec)
	state.current = nil
	state.values = nil
	state.field = fieldNone
}

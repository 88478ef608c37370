package models

// RawRecord is a rule as it comes out of an extraction batch. Every field is
// optional; the normalizer decides what is usable.
type RawRecord struct {
	Title            *string `json:"title,omitempty" yaml:"title,omitempty"`
	Category         *string `json:"category,omitempty" yaml:"category,omitempty"`
	KeyRule          *string `json:"key_rule,omitempty" yaml:"key_rule,omitempty"`
	ExpatImplication *string `json:"expat_implication,omitempty" yaml:"expat_implication,omitempty"`
	RiskLevel        *string `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	SourceDocument   *string `json:"source_document,omitempty" yaml:"source_document,omitempty"`
}

// Str returns a pointer to s. Handy for building records in code and tests.
func Str(s string) *string { return &s }

// Value dereferences an optional field.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

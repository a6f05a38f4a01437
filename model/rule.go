package model

import "time"

// Metadata carries the audit and ownership fields every Rule and
// Enrichment must expose per spec invariant 1: created-at/modified-at
// are never null.
type Metadata struct {
	Owner          string            `yaml:"owner" mapstructure:"owner"`
	Domain         string            `yaml:"domain" mapstructure:"domain"`
	Tags           []string          `yaml:"tags" mapstructure:"tags"`
	EffectiveDate  *time.Time        `yaml:"effective-date" mapstructure:"effective-date"`
	ExpirationDate *time.Time        `yaml:"expiration-date" mapstructure:"expiration-date"`
	CreatedAt      time.Time         `yaml:"created-at" mapstructure:"created-at"`
	ModifiedAt     time.Time         `yaml:"modified-at" mapstructure:"modified-at"`
	Extra          map[string]string `yaml:"extra" mapstructure:"extra"`
}

// Rule is a named boolean expression with metadata and severity. Rule
// values are immutable after the Loader constructs them; the Registry
// hands out pointers to read-only instances.
type Rule struct {
	ID             string
	Name           string
	Condition      string
	SuccessMessage string
	Severity       Severity
	Priority       int
	Categories     map[string]struct{}
	Dependencies   []string
	Metadata       Metadata
}

// HasCategory reports whether the rule is tagged with the given category.
func (r *Rule) HasCategory(category string) bool {
	_, ok := r.Categories[category]
	return ok
}

// DefaultPriority is used when a rule omits an explicit priority.
const DefaultPriority = 100

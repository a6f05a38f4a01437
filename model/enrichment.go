package model

import (
	"fmt"
	"time"
)

// EnrichmentType identifies which enrichment behavior a declaration
// implements. Audit (spec §6.4) emits a record through a caller-supplied
// sink rather than writing fact-map fields; it runs wherever the
// Enrichment Engine applies enrichments (run-scenario), since rule-chain
// execution does not apply enrichments.
type EnrichmentType string

const (
	EnrichmentLookup             EnrichmentType = "lookup"
	EnrichmentField              EnrichmentType = "field"
	EnrichmentCalculation        EnrichmentType = "calculation"
	EnrichmentConditionalMapping EnrichmentType = "conditional-mapping"
	EnrichmentAudit              EnrichmentType = "audit"
)

// Enrichment is a declarative operation that extends a fact map. Exactly
// one of LookupSpec/FieldMappings/CalculationSpec/ConditionalMapping/
// Audit is populated, selected by Type.
type Enrichment struct {
	ID        string
	Type      EnrichmentType
	Condition string
	Enabled   bool
	DependsOn []string
	Metadata  Metadata

	Lookup             *LookupSpec
	FieldMappings      []FieldMapping
	Calculation        *CalculationSpec
	ConditionalMapping *ConditionalMappingSpec
	Audit              *AuditSpec
}

// AuditSpec configures an audit enrichment: a record is assembled from
// Fields (resolved the same way a field enrichment resolves its
// mappings) and emitted through the AuditSink registered under
// SinkName.
type AuditSpec struct {
	SinkName string
	Fields   []FieldMapping
}

// DatasetKind distinguishes where a LookupSpec's rows come from.
type DatasetKind string

const (
	DatasetInline       DatasetKind = "inline"
	DatasetExternalFile DatasetKind = "external-file"
	DatasetDataSource   DatasetKind = "data-source"
)

// LookupSpec configures a keyed dataset lookup, per spec §3/§4.5.
type LookupSpec struct {
	LookupKeyExpr   string
	DatasetKind     DatasetKind
	InlineDataset   *Dataset
	ExternalFile    string
	DataSourceRef   string
	QueryRef        string
	KeyField        string
	CacheEnabled    bool
	CacheTTLSeconds int64
	DefaultValues   map[string]any
	FieldMappings   []FieldMapping
}

// SourceField is a sum type: a field mapping's source is either a plain
// key name or an expression (source text beginning with '#').
type SourceField struct {
	IsExpression bool
	Value        string
}

// FieldMapping copies or transforms one field from a row/fact map into
// the target fact map.
type FieldMapping struct {
	Source         SourceField
	TargetField    string
	Transformation string // optional; evaluated with #value bound to the pre-transform value
}

// CalculationSpec evaluates an expression and assigns it to a field.
type CalculationSpec struct {
	Expression  string
	ResultField string
}

// ConditionalMappingSpec iterates prioritized mapping rules, writing the
// first (or last, depending on StopOnFirstMatch) match's transformation
// into TargetField.
type ConditionalMappingSpec struct {
	TargetField       string
	MappingRules      []MappingRule
	StopOnFirstMatch  bool
	LogMatchedRule    bool
}

// MappingRule is one priority-ordered branch of a ConditionalMappingSpec.
type MappingRule struct {
	ID             string
	Priority       int
	ConditionOp    Operator
	SubConditions  []string // expression strings, combined by ConditionOp
	Transformation string
}

// Dataset is a set of rows addressable by KeyField.
type Dataset struct {
	Rows     []map[string]any
	KeyField string
}

// indexedDataset is the key->row table Dataset.Index builds; its Lookup
// method finds a row by KeyField in O(1) and reports false when no row
// has that key.
type indexedDataset struct {
	ds    *Dataset
	index map[string]map[string]any
}

// Index builds a key->row lookup table for O(1) access.
func (d *Dataset) Index() *indexedDataset {
	idx := make(map[string]map[string]any, len(d.Rows))
	for _, row := range d.Rows {
		if k, ok := row[d.KeyField]; ok {
			idx[toKeyString(k)] = row
		}
	}
	return &indexedDataset{ds: d, index: idx}
}

func (i *indexedDataset) Lookup(key string) (map[string]any, bool) {
	row, ok := i.index[key]
	return row, ok
}

func toKeyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmtStringer:
		return t.String()
	default:
		return stringifyAny(v)
	}
}

type fmtStringer interface{ String() string }

func stringifyAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DataSourceRef maps a logical data-source name to an external config
// file reference, resolved by the Configuration Loader.
type DataSourceRef struct {
	Name       string
	ConfigFile string
}

// auditStamp is a small helper constructors use to stamp Metadata with
// the engine clock, keeping created-at/modified-at non-null (invariant 1).
func auditStamp(now time.Time) Metadata {
	return Metadata{CreatedAt: now, ModifiedAt: now}
}

// Package config implements the Configuration Loader & Merger (spec
// §4.2): parsing YAML documents into the model package's typed objects
// and merging them into a Registry. Decoding follows the teacher pack's
// r3e-network-service_layer config loader shape (gopkg.in/yaml.v3 into a
// typed struct), generalized with mitchellh/mapstructure for the
// pattern-specific rule-chain configuration blocks, whose shape depends
// on a sibling "pattern" field and can't be expressed as one static
// struct.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

// Recognized top-level document types, per spec §6.1.
const (
	TypeRuleConfig         = "rule-config"
	TypeScenario           = "scenario"
	TypeScenarioRegistry   = "scenario-registry"
	TypeDataset            = "dataset"
	TypeEnrichment         = "enrichment"
	TypeRuleChain          = "rule-chain"
	TypeExternalDataConfig = "external-data-config"
)

type rawMetadata struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Type    string `yaml:"type"`

	// type-specific metadata
	BusinessDomain string `yaml:"business-domain"`
}

type rawEntityMetadata struct {
	Owner          string            `yaml:"owner"`
	Domain         string            `yaml:"domain"`
	Tags           []string          `yaml:"tags"`
	EffectiveDate  *time.Time        `yaml:"effective-date"`
	ExpirationDate *time.Time        `yaml:"expiration-date"`
	Extra          map[string]string `yaml:"extra"`
}

type rawRule struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Condition  string            `yaml:"condition"`
	Message    string            `yaml:"message"`
	Severity   string            `yaml:"severity"`
	Priority   *int              `yaml:"priority"`
	Categories []string          `yaml:"categories"`
	DependsOn  []string          `yaml:"depends-on"`
	Metadata   rawEntityMetadata `yaml:"metadata"`
}

type rawRuleReference struct {
	RuleID           string `yaml:"rule-id"`
	RuleGroupID      string `yaml:"rule-group-id"`
	Sequence         int    `yaml:"sequence"`
	Enabled          *bool  `yaml:"enabled"`
	OverridePriority *int   `yaml:"override-priority"`
}

type rawRuleGroup struct {
	ID                  string             `yaml:"id"`
	Name                string             `yaml:"name"`
	Operator            string             `yaml:"operator"`
	Priority            *int               `yaml:"priority"`
	RuleIDs             []string           `yaml:"rule-ids"`
	RuleReferences      []rawRuleReference `yaml:"rule-references"`
	RuleGroupReferences []rawRuleReference `yaml:"rule-group-references"`
	StopOnFirstFailure  *bool              `yaml:"stop-on-first-failure"`
	ParallelExecution   bool               `yaml:"parallel-execution"`
	Debug               bool               `yaml:"debug"`
	TimeoutMillis       int64              `yaml:"timeout-ms"`
	Categories          []string           `yaml:"categories"`
}

type rawDatasetRef struct {
	Kind         string                   `yaml:"kind"`
	Inline       []map[string]any        `yaml:"inline"`
	ExternalFile string                   `yaml:"external-file"`
	DataSource   string                   `yaml:"data-source"`
	QueryRef     string                   `yaml:"query-ref"`
	KeyField     string                   `yaml:"key-field"`
}

type rawFieldMapping struct {
	SourceField    string `yaml:"source-field"`
	TargetField    string `yaml:"target-field"`
	Transformation string `yaml:"transformation"`
}

type rawLookupSpec struct {
	LookupKey       string            `yaml:"lookup-key"`
	DatasetRef      rawDatasetRef     `yaml:"dataset-ref"`
	KeyField        string            `yaml:"key-field"`
	CacheEnabled    bool              `yaml:"cache-enabled"`
	CacheTTLSeconds int64             `yaml:"cache-ttl-seconds"`
	DefaultValues   map[string]any    `yaml:"default-values"`
	FieldMappings   []rawFieldMapping `yaml:"field-mappings"`
}

type rawCalculationSpec struct {
	Expression  string `yaml:"expression"`
	ResultField string `yaml:"result-field"`
}

type rawMappingRule struct {
	ID             string   `yaml:"id"`
	Priority       *int     `yaml:"priority"`
	Conditions     struct {
		Operator      string   `yaml:"operator"`
		SubConditions []string `yaml:"sub-conditions"`
	} `yaml:"conditions"`
	Mapping struct {
		Transformation string `yaml:"transformation"`
	} `yaml:"mapping"`
}

type rawConditionalMapping struct {
	TargetField      string           `yaml:"target-field"`
	MappingRules     []rawMappingRule `yaml:"mapping-rules"`
	ExecutionSettings struct {
		StopOnFirstMatch bool `yaml:"stop-on-first-match"`
		LogMatchedRule   bool `yaml:"log-matched-rule"`
	} `yaml:"execution-settings"`
}

type rawAuditSpec struct {
	SinkName string            `yaml:"sink"`
	Fields   []rawFieldMapping `yaml:"fields"`
}

type rawEnrichment struct {
	ID                 string                 `yaml:"id"`
	Type               string                 `yaml:"type"`
	Condition          string                 `yaml:"condition"`
	Enabled            *bool                  `yaml:"enabled"`
	DependsOn          []string               `yaml:"depends-on"`
	Metadata           rawEntityMetadata      `yaml:"metadata"`
	Lookup             *rawLookupSpec         `yaml:"lookup"`
	FieldMappings      []rawFieldMapping      `yaml:"field-mappings"`
	Calculation        *rawCalculationSpec    `yaml:"calculation"`
	ConditionalMapping *rawConditionalMapping `yaml:"conditional-mapping"`
	Audit              *rawAuditSpec          `yaml:"audit"`
}

type rawRuleChain struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name"`
	Pattern       string                 `yaml:"pattern"`
	Metadata      rawEntityMetadata      `yaml:"metadata"`
	Configuration map[string]any         `yaml:"configuration"`
}

type rawScenario struct {
	ID                 string            `yaml:"id"`
	DataTypes          []string          `yaml:"data-types"`
	BusinessDomain     string            `yaml:"business-domain"`
	RuleConfigRefs     []string          `yaml:"rule-configuration-refs"`
	Metadata           rawEntityMetadata `yaml:"metadata"`
}

type rawDataSourceRef struct {
	Name       string `yaml:"name"`
	ConfigFile string `yaml:"config-file"`
}

type rawDataset struct {
	ID       string           `yaml:"id"`
	KeyField string           `yaml:"key-field"`
	Rows     []map[string]any `yaml:"rows"`
}

// rawDocument mirrors one YAML configuration file, spec §6.1.
type rawDocument struct {
	Metadata            rawMetadata        `yaml:"metadata"`
	Rules               []rawRule          `yaml:"rules"`
	RuleGroups          []rawRuleGroup     `yaml:"rule-groups"`
	Enrichments         []rawEnrichment    `yaml:"enrichments"`
	RuleChains          []rawRuleChain     `yaml:"rule-chains"`
	Scenarios           []rawScenario      `yaml:"scenarios"`
	Datasets            []rawDataset       `yaml:"datasets"`
	DataSources         []rawDataSourceRef `yaml:"data-sources"`
	ExternalDataSources []rawDataSourceRef `yaml:"external-data-sources"`
}

// Document is one parsed, validated configuration file: the output of
// load-single (spec §4.2).
type Document struct {
	Path     string
	Name     string
	Version  string
	Type     string
	Registry *model.Registry
}

func parseYAML(data []byte) (*rawDocument, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &doc, nil
}

// decodeConfiguration decodes a rule-chain's generic configuration block
// into dst using mapstructure, matching the teacher pack's pattern of
// keeping wire-format maps loosely typed until a concrete shape is known
// (here, the shape is chosen by the sibling "pattern" field rather than
// by reflection over dst's static type).
func decodeConfiguration(src map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}

// clockStamp is shared by translate.go constructors needing a Metadata
// audit stamp when the document doesn't supply created-at/modified-at
// (the wire format never exposes those — they are populated by the
// Loader, per spec invariant 1).
func clockStamp(clk apexclock.Clock) time.Time { return clk.Now() }

package config

import (
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/apex-rules/apex/model"
)

// Canonical renders reg back into a YAML document equivalent to what the
// Loader would have produced it from, satisfying spec §8's round-trip
// property: parse → canonicalize → reparse yields an isomorphic
// registry. Map iteration order is not stable, so every collection is
// sorted by id before marshaling. Rule chains are not emitted, so a
// registry holding chains comes back from the reparse without them.
func Canonical(reg *model.Registry) ([]byte, error) {
	doc := rawDocument{
		Metadata: rawMetadata{Name: "canonical", Version: "1.0.0", Type: TypeRuleConfig},
	}

	for _, id := range sortedKeys(reg.Rules) {
		doc.Rules = append(doc.Rules, canonicalRule(reg.Rules[id]))
	}
	for _, id := range sortedKeys(reg.Groups) {
		doc.RuleGroups = append(doc.RuleGroups, canonicalGroup(reg.Groups[id]))
	}
	for _, id := range sortedKeys(reg.Enrichments) {
		doc.Enrichments = append(doc.Enrichments, canonicalEnrichment(reg.Enrichments[id]))
	}
	for _, id := range sortedKeys(reg.Scenarios) {
		s := reg.Scenarios[id]
		doc.Scenarios = append(doc.Scenarios, rawScenario{
			ID:             s.ID,
			DataTypes:      s.DataTypes,
			BusinessDomain: s.BusinessDomain,
			RuleConfigRefs: s.RuleConfigRefs,
		})
	}
	for _, id := range sortedKeys(reg.Datasets) {
		d := reg.Datasets[id]
		doc.Datasets = append(doc.Datasets, rawDataset{ID: id, KeyField: d.KeyField, Rows: d.Rows})
	}
	for _, id := range sortedKeys(reg.DataSourceRefs) {
		d := reg.DataSourceRefs[id]
		doc.DataSources = append(doc.DataSources, rawDataSourceRef{Name: d.Name, ConfigFile: d.ConfigFile})
	}

	return yaml.Marshal(doc)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func canonicalRule(r *model.Rule) rawRule {
	categories := make([]string, 0, len(r.Categories))
	for c := range r.Categories {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	priority := r.Priority
	return rawRule{
		ID:         r.ID,
		Name:       r.Name,
		Condition:  r.Condition,
		Message:    r.SuccessMessage,
		Severity:   r.Severity.String(),
		Priority:   &priority,
		Categories: categories,
		DependsOn:  r.Dependencies,
		Metadata: rawEntityMetadata{
			Owner:          r.Metadata.Owner,
			Domain:         r.Metadata.Domain,
			Tags:           r.Metadata.Tags,
			EffectiveDate:  r.Metadata.EffectiveDate,
			ExpirationDate: r.Metadata.ExpirationDate,
			Extra:          r.Metadata.Extra,
		},
	}
}

func canonicalGroup(g *model.RuleGroup) rawRuleGroup {
	members := append([]model.RuleReference(nil), g.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].Sequence < members[j].Sequence })

	var refs, groupRefs []rawRuleReference
	for _, m := range members {
		rr := rawRuleReference{Sequence: m.Sequence, Enabled: boolPtr(m.Enabled), OverridePriority: m.OverridePriority}
		if m.TargetIsGroup {
			rr.RuleGroupID = m.TargetID
			groupRefs = append(groupRefs, rr)
		} else {
			rr.RuleID = m.TargetID
			refs = append(refs, rr)
		}
	}
	categories := make([]string, 0, len(g.Categories))
	for c := range g.Categories {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	priority := g.Priority
	return rawRuleGroup{
		ID:                  g.ID,
		Name:                g.Name,
		Operator:            string(g.Operator),
		Priority:            &priority,
		RuleReferences:      refs,
		RuleGroupReferences: groupRefs,
		StopOnFirstFailure:  boolPtr(g.ShortCircuit),
		ParallelExecution:   g.Parallel,
		Debug:               g.Debug,
		TimeoutMillis:       g.TimeoutMillis,
		Categories:          categories,
	}
}

func canonicalFieldMapping(fm model.FieldMapping) rawFieldMapping {
	return rawFieldMapping{SourceField: fm.Source.Value, TargetField: fm.TargetField, Transformation: fm.Transformation}
}

func canonicalEnrichment(e *model.Enrichment) rawEnrichment {
	out := rawEnrichment{
		ID:        e.ID,
		Type:      string(e.Type),
		Condition: e.Condition,
		Enabled:   boolPtr(e.Enabled),
		DependsOn: e.DependsOn,
		Metadata: rawEntityMetadata{
			Owner:          e.Metadata.Owner,
			Domain:         e.Metadata.Domain,
			Tags:           e.Metadata.Tags,
			EffectiveDate:  e.Metadata.EffectiveDate,
			ExpirationDate: e.Metadata.ExpirationDate,
			Extra:          e.Metadata.Extra,
		},
	}
	switch e.Type {
	case model.EnrichmentLookup:
		if e.Lookup != nil {
			spec := &rawLookupSpec{
				LookupKey:       e.Lookup.LookupKeyExpr,
				KeyField:        e.Lookup.KeyField,
				CacheEnabled:    e.Lookup.CacheEnabled,
				CacheTTLSeconds: e.Lookup.CacheTTLSeconds,
				DefaultValues:   e.Lookup.DefaultValues,
				DatasetRef:      rawDatasetRef{Kind: string(e.Lookup.DatasetKind), KeyField: e.Lookup.KeyField},
			}
			switch e.Lookup.DatasetKind {
			case model.DatasetInline:
				if e.Lookup.InlineDataset != nil {
					spec.DatasetRef.Inline = e.Lookup.InlineDataset.Rows
				}
			case model.DatasetExternalFile:
				spec.DatasetRef.ExternalFile = e.Lookup.ExternalFile
			case model.DatasetDataSource:
				spec.DatasetRef.DataSource = e.Lookup.DataSourceRef
				spec.DatasetRef.QueryRef = e.Lookup.QueryRef
			}
			for _, fm := range e.Lookup.FieldMappings {
				spec.FieldMappings = append(spec.FieldMappings, canonicalFieldMapping(fm))
			}
			out.Lookup = spec
		}
	case model.EnrichmentField:
		for _, fm := range e.FieldMappings {
			out.FieldMappings = append(out.FieldMappings, canonicalFieldMapping(fm))
		}
	case model.EnrichmentCalculation:
		if e.Calculation != nil {
			out.Calculation = &rawCalculationSpec{Expression: e.Calculation.Expression, ResultField: e.Calculation.ResultField}
		}
	case model.EnrichmentConditionalMapping:
		if e.ConditionalMapping != nil {
			cm := &rawConditionalMapping{TargetField: e.ConditionalMapping.TargetField}
			cm.ExecutionSettings.StopOnFirstMatch = e.ConditionalMapping.StopOnFirstMatch
			cm.ExecutionSettings.LogMatchedRule = e.ConditionalMapping.LogMatchedRule
			for _, mr := range e.ConditionalMapping.MappingRules {
				priority := mr.Priority
				rmr := rawMappingRule{ID: mr.ID, Priority: &priority}
				rmr.Conditions.Operator = string(mr.ConditionOp)
				rmr.Conditions.SubConditions = mr.SubConditions
				rmr.Mapping.Transformation = mr.Transformation
				cm.MappingRules = append(cm.MappingRules, rmr)
			}
			out.ConditionalMapping = cm
		}
	case model.EnrichmentAudit:
		if e.Audit != nil {
			audit := &rawAuditSpec{SinkName: e.Audit.SinkName}
			for _, fm := range e.Audit.Fields {
				audit.Fields = append(audit.Fields, canonicalFieldMapping(fm))
			}
			out.Audit = audit
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/dependency"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
)

// semverPattern is a pragmatic MAJOR.MINOR.PATCH check (with an optional
// pre-release/build suffix). No third-party semver library appears
// anywhere in the retrieval pack with an actually-exercised parse call
// (only transitive go.mod listings in unrelated tools), so this stays on
// regexp rather than importing an unverified dependency.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// Loader parses and merges APEX configuration documents into a Registry,
// per spec §4.2.
type Loader struct {
	clock apexclock.Clock
	eval  *evaluator.Evaluator
}

// NewLoader builds a Loader bound to clk, used to stamp created-at/
// modified-at on every entity it constructs (spec invariant 1), and to
// syntax-check every expression string it encounters.
func NewLoader(clk apexclock.Clock) *Loader {
	return &Loader{clock: clk, eval: evaluator.New(clk)}
}

// validateExpressions compiles (without running) every expression string
// reachable from reg, per spec §4.2 ("expression strings parse").
func (l *Loader) validateExpressions(b *builder, reg *model.Registry) {
	check := func(subject, expr string) {
		if expr == "" {
			return
		}
		if err := l.eval.CheckSyntax(expr); err != nil {
			b.fail("%s: expression %q does not parse: %v", subject, expr, err)
		}
	}
	for _, r := range reg.Rules {
		check(fmt.Sprintf("rule %s condition", r.ID), r.Condition)
	}
	for _, e := range reg.Enrichments {
		check(fmt.Sprintf("enrichment %s condition", e.ID), e.Condition)
		switch e.Type {
		case model.EnrichmentLookup:
			if e.Lookup != nil {
				check(fmt.Sprintf("enrichment %s lookup-key", e.ID), e.Lookup.LookupKeyExpr)
				for _, fm := range e.Lookup.FieldMappings {
					check(fmt.Sprintf("enrichment %s field-mapping transformation", e.ID), fm.Transformation)
				}
			}
		case model.EnrichmentField:
			for _, fm := range e.FieldMappings {
				check(fmt.Sprintf("enrichment %s field-mapping transformation", e.ID), fm.Transformation)
			}
		case model.EnrichmentCalculation:
			if e.Calculation != nil {
				check(fmt.Sprintf("enrichment %s calculation expression", e.ID), e.Calculation.Expression)
			}
		case model.EnrichmentConditionalMapping:
			if e.ConditionalMapping != nil {
				for _, mr := range e.ConditionalMapping.MappingRules {
					for _, sc := range mr.SubConditions {
						check(fmt.Sprintf("enrichment %s mapping-rule %s condition", e.ID, mr.ID), sc)
					}
					check(fmt.Sprintf("enrichment %s mapping-rule %s transformation", e.ID, mr.ID), mr.Transformation)
				}
			}
		case model.EnrichmentAudit:
			if e.Audit != nil {
				for _, fm := range e.Audit.Fields {
					check(fmt.Sprintf("enrichment %s audit field transformation", e.ID), fm.Transformation)
				}
			}
		}
	}
	for _, c := range reg.Chains {
		switch c.Pattern {
		case model.PatternConditional:
			if c.Conditional != nil {
				check(fmt.Sprintf("chain %s trigger-rule", c.ID), c.Conditional.TriggerRule)
			}
		case model.PatternSequential:
			if c.Sequential != nil {
				for i, s := range c.Sequential.Stages {
					check(fmt.Sprintf("chain %s stage %d expression", c.ID, i), s.Expression)
				}
			}
		case model.PatternRouting:
			if c.Routing != nil {
				check(fmt.Sprintf("chain %s router-expression", c.ID), c.Routing.RouterExpression)
			}
		case model.PatternAccumulative:
			if c.Accumulative != nil {
				for _, r := range c.Accumulative.Rules {
					check(fmt.Sprintf("chain %s accumulation-rule %s condition", c.ID, r.ID), r.Condition)
				}
				check(fmt.Sprintf("chain %s final-decision-rule", c.ID), c.Accumulative.FinalDecisionRule)
				check(fmt.Sprintf("chain %s threshold-expression", c.ID), c.Accumulative.Selection.ThresholdExpression)
			}
		case model.PatternComplexWorkflow:
			if c.ComplexWorkflow != nil {
				for _, s := range c.ComplexWorkflow.Stages {
					if s.Conditional != nil {
						check(fmt.Sprintf("chain %s stage %s condition", c.ID, s.ID), s.Conditional.Condition)
					}
				}
			}
		case model.PatternFluentBuilder:
			if c.FluentBuilder != nil {
				var walk func(*model.FluentNode)
				walk = func(n *model.FluentNode) {
					if n == nil {
						return
					}
					check(fmt.Sprintf("chain %s fluent node %s rule", c.ID, n.ID), n.Rule)
					walk(n.OnSuccess)
					walk(n.OnFailure)
				}
				walk(c.FluentBuilder.Root)
			}
		}
	}
}

// LoadSingle implements load-single: parses one YAML file and validates
// its required metadata and type-specific required fields.
func (l *Loader) LoadSingle(path string) (*Document, error) {
	return l.loadSingle(path, true)
}

// loadSingle is LoadSingle's body. With checkRefs false it skips the
// document-local reference check, which LoadMany runs instead over the
// merged registry in validateFull.
func (l *Loader) loadSingle(path string, checkRefs bool) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	b := &builder{clock: l.clock, subject: path}
	validateMetadata(b, raw.Metadata)

	reg := model.NewRegistry()
	for _, r := range raw.Rules {
		if rule := b.rule(r); rule != nil {
			if _, dup := reg.Rules[rule.ID]; dup {
				b.fail("duplicate rule id %q", rule.ID)
			}
			reg.Rules[rule.ID] = rule
		}
	}
	for _, g := range raw.RuleGroups {
		if grp := b.ruleGroup(g); grp != nil {
			if _, dup := reg.Groups[grp.ID]; dup {
				b.fail("duplicate rule group id %q", grp.ID)
			}
			reg.Groups[grp.ID] = grp
		}
	}
	for _, e := range raw.Enrichments {
		if enr := b.enrichment(e); enr != nil {
			if _, dup := reg.Enrichments[enr.ID]; dup {
				b.fail("duplicate enrichment id %q", enr.ID)
			}
			reg.Enrichments[enr.ID] = enr
		}
	}
	for _, c := range raw.RuleChains {
		if chain := b.ruleChain(c); chain != nil {
			if _, dup := reg.Chains[chain.ID]; dup {
				b.fail("duplicate rule chain id %q", chain.ID)
			}
			reg.Chains[chain.ID] = chain
		}
	}
	for _, s := range raw.Scenarios {
		if sc := b.scenario(s); sc != nil {
			if _, dup := reg.Scenarios[sc.ID]; dup {
				b.fail("duplicate scenario id %q", sc.ID)
			}
			reg.Scenarios[sc.ID] = sc
			reg.ScenarioOrder = append(reg.ScenarioOrder, sc.ID)
		}
	}
	for _, d := range raw.Datasets {
		reg.Datasets[d.ID] = b.dataset(d)
	}
	for _, ds := range raw.DataSources {
		reg.DataSourceRefs[ds.Name] = &model.DataSourceRef{Name: ds.Name, ConfigFile: ds.ConfigFile}
	}
	if len(raw.ExternalDataSources) > 0 {
		b.fail("external-data-sources is only resolved by load-classpath, not load-single/load-many")
	}

	if checkRefs {
		validateReferences(b, reg)
	}
	l.validateExpressions(b, reg)

	if len(b.errs) > 0 {
		return nil, &model.ValidationError{Subject: path, Message: strings.Join(b.errs, "; ")}
	}

	return &Document{
		Path:     path,
		Name:     raw.Metadata.Name,
		Version:  raw.Metadata.Version,
		Type:     raw.Metadata.Type,
		Registry: reg,
	}, nil
}

// LoadMany implements load-many: loads every path, then merges the
// resulting registries. Duplicate ids across files fail the merge
// atomically — no partial registry is returned.
func (l *Loader) LoadMany(paths ...string) (*model.Registry, error) {
	merged := model.NewRegistry()
	var mergeErrs []string

	for _, path := range paths {
		doc, err := l.loadSingle(path, false)
		if err != nil {
			return nil, err
		}
		mergeRegistry(merged, doc.Registry, path, &mergeErrs)
	}

	if len(mergeErrs) > 0 {
		return nil, &model.ValidationError{Subject: "load-many", Message: strings.Join(mergeErrs, "; ")}
	}
	validateFull(merged, &mergeErrs)
	if len(mergeErrs) > 0 {
		return nil, &model.ValidationError{Subject: "load-many", Message: strings.Join(mergeErrs, "; ")}
	}
	return merged, nil
}

// LoadClasspath implements load-classpath: like LoadMany over every YAML
// file under root, but additionally resolves external-data-source
// references declared under `external-data-sources` against root. File
// system paths used as external-data-source references are rejected.
func (l *Loader) LoadClasspath(root string) (*model.Registry, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	merged := model.NewRegistry()
	var mergeErrs []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		raw, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		b := &builder{clock: l.clock, subject: path}
		validateMetadata(b, raw.Metadata)

		reg := model.NewRegistry()
		for _, r := range raw.Rules {
			if rule := b.rule(r); rule != nil {
				reg.Rules[rule.ID] = rule
			}
		}
		for _, g := range raw.RuleGroups {
			if grp := b.ruleGroup(g); grp != nil {
				reg.Groups[grp.ID] = grp
			}
		}
		for _, e := range raw.Enrichments {
			if enr := b.enrichment(e); enr != nil {
				reg.Enrichments[enr.ID] = enr
			}
		}
		for _, c := range raw.RuleChains {
			if chain := b.ruleChain(c); chain != nil {
				reg.Chains[chain.ID] = chain
			}
		}
		for _, s := range raw.Scenarios {
			if sc := b.scenario(s); sc != nil {
				reg.Scenarios[sc.ID] = sc
				reg.ScenarioOrder = append(reg.ScenarioOrder, sc.ID)
			}
		}
		for _, d := range raw.Datasets {
			reg.Datasets[d.ID] = b.dataset(d)
		}
		for _, ds := range raw.DataSources {
			reg.DataSourceRefs[ds.Name] = &model.DataSourceRef{Name: ds.Name, ConfigFile: ds.ConfigFile}
		}
		for _, ds := range raw.ExternalDataSources {
			if filepath.IsAbs(ds.ConfigFile) || strings.Contains(ds.ConfigFile, "..") {
				b.fail("external-data-source %q must resolve within the classpath root, got %q", ds.Name, ds.ConfigFile)
				continue
			}
			resolved := filepath.Join(root, ds.ConfigFile)
			if _, err := os.Stat(resolved); err != nil {
				b.fail("external-data-source %q config file %q not found under classpath root", ds.Name, ds.ConfigFile)
				continue
			}
			reg.DataSourceRefs[ds.Name] = &model.DataSourceRef{Name: ds.Name, ConfigFile: resolved}
		}

		l.validateExpressions(b, reg)
		if len(b.errs) > 0 {
			return nil, &model.ValidationError{Subject: path, Message: strings.Join(b.errs, "; ")}
		}
		mergeRegistry(merged, reg, path, &mergeErrs)
	}

	if len(mergeErrs) > 0 {
		return nil, &model.ValidationError{Subject: "load-classpath", Message: strings.Join(mergeErrs, "; ")}
	}
	validateFull(merged, &mergeErrs)
	if len(mergeErrs) > 0 {
		return nil, &model.ValidationError{Subject: "load-classpath", Message: strings.Join(mergeErrs, "; ")}
	}
	return merged, nil
}

func mergeRegistry(dst, src *model.Registry, sourcePath string, errs *[]string) {
	for id, v := range src.Rules {
		if _, dup := dst.Rules[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate rule id %q across merged files", sourcePath, id))
			continue
		}
		dst.Rules[id] = v
	}
	for id, v := range src.Groups {
		if _, dup := dst.Groups[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate rule group id %q across merged files", sourcePath, id))
			continue
		}
		dst.Groups[id] = v
	}
	for id, v := range src.Enrichments {
		if _, dup := dst.Enrichments[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate enrichment id %q across merged files", sourcePath, id))
			continue
		}
		dst.Enrichments[id] = v
	}
	for id, v := range src.Chains {
		if _, dup := dst.Chains[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate rule chain id %q across merged files", sourcePath, id))
			continue
		}
		dst.Chains[id] = v
	}
	for id, v := range src.Datasets {
		if _, dup := dst.Datasets[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate dataset id %q across merged files", sourcePath, id))
			continue
		}
		dst.Datasets[id] = v
	}
	for id, v := range src.DataSourceRefs {
		dst.DataSourceRefs[id] = v
	}
	for id, v := range src.Scenarios {
		if _, dup := dst.Scenarios[id]; dup {
			*errs = append(*errs, fmt.Sprintf("%s: duplicate scenario id %q across merged files", sourcePath, id))
			continue
		}
		dst.Scenarios[id] = v
		dst.ScenarioOrder = append(dst.ScenarioOrder, id)
	}
}

func validateMetadata(b *builder, m rawMetadata) {
	if m.Name == "" {
		b.fail("missing metadata.name")
	}
	if m.Version == "" {
		b.fail("missing metadata.version")
	} else if !semverPattern.MatchString(m.Version) {
		b.fail("metadata.version %q is not a valid semantic version", m.Version)
	}
	switch m.Type {
	case TypeRuleConfig, TypeScenarioRegistry, TypeDataset, TypeEnrichment, TypeRuleChain:
	case TypeScenario:
		if m.BusinessDomain == "" {
			b.fail("scenario document missing metadata.business-domain")
		}
	case TypeExternalDataConfig:
	case "":
		b.fail("missing metadata.type")
	default:
		b.fail("unrecognized metadata.type %q", m.Type)
	}
}

// validateReferences checks that every id a rule group, enrichment, or
// chain references within the same document actually exists. Full
// cross-file validation (after merge) is the Dependency Analyzer's job
// (spec §4.3); this is the document-local subset the Loader owns per
// §4.2 ("referenced rule/group ids exist").
func validateReferences(b *builder, reg *model.Registry) {
	for _, g := range reg.Groups {
		for _, m := range g.Members {
			if m.TargetIsGroup {
				if _, ok := reg.Groups[m.TargetID]; !ok {
					b.fail("rule group %s references unknown group %q", g.ID, m.TargetID)
				}
			} else if _, ok := reg.Rules[m.TargetID]; !ok {
				b.fail("rule group %s references unknown rule %q", g.ID, m.TargetID)
			}
		}
	}
	for _, e := range reg.Enrichments {
		for _, dep := range e.DependsOn {
			if _, ok := reg.Enrichments[dep]; !ok {
				b.fail("enrichment %s depends on unknown enrichment %q", e.ID, dep)
			}
		}
		if e.Lookup != nil && e.Lookup.DatasetKind == model.DatasetDataSource {
			if _, ok := reg.DataSourceRefs[e.Lookup.DataSourceRef]; !ok {
				b.fail("enrichment %s references unknown data source %q", e.ID, e.Lookup.DataSourceRef)
			}
		}
	}
}

// validateFull re-runs cross-entity reference checks against the fully
// merged registry, catching references that only resolve once all files
// have been combined, then runs the Dependency Analyzer's cycle check
// (spec §4.3: cycles among rule groups, enrichment depends-on, and
// complex-workflow stages are fatal at load time).
func validateFull(reg *model.Registry, errs *[]string) {
	b := &builder{subject: "merged registry"}
	validateReferences(b, reg)
	*errs = append(*errs, b.errs...)

	report := dependency.Analyze(reg)
	for _, depErr := range report.Errors() {
		if depErr.Kind == model.Cycle {
			*errs = append(*errs, depErr.Error())
		}
	}
}

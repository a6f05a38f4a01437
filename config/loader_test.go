package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validRuleConfig = `
metadata:
  name: discount-rules
  version: 1.0.0
  type: rule-config
rules:
  - id: big-order
    condition: "#order.total >= 500"
    severity: WARNING
  - id: repeat-customer
    condition: "#customer.orderCount > 3"
rule-groups:
  - id: discount-checks
    operator: OR
    rule-references:
      - rule-id: big-order
        sequence: 1
        enabled: true
      - rule-id: repeat-customer
        sequence: 2
        enabled: true
`

func TestLoadSingleHappyPath(t *testing.T) {
	path := writeTempYAML(t, validRuleConfig)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))

	doc, err := l.LoadSingle(path)
	require.NoError(t, err)
	assert.Equal(t, "discount-rules", doc.Name)
	assert.Equal(t, "1.0.0", doc.Version)
	assert.Contains(t, doc.Registry.Rules, "big-order")
	assert.Contains(t, doc.Registry.Groups, "discount-checks")
}

func TestLoadSingleMissingMetadataNameFails(t *testing.T) {
	path := writeTempYAML(t, `
metadata:
  version: 1.0.0
  type: rule-config
rules:
  - id: r1
    condition: "true"
`)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadSingle(path)
	assert.Error(t, err)
}

func TestLoadSingleInvalidVersionFails(t *testing.T) {
	path := writeTempYAML(t, `
metadata:
  name: x
  version: not-a-version
  type: rule-config
`)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadSingle(path)
	assert.Error(t, err)
}

func TestLoadSingleBadExpressionSyntaxFails(t *testing.T) {
	path := writeTempYAML(t, `
metadata:
  name: x
  version: 1.0.0
  type: rule-config
rules:
  - id: r1
    condition: "#a +"
`)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadSingle(path)
	assert.Error(t, err)
}

func TestLoadSingleUnknownGroupReferenceFails(t *testing.T) {
	path := writeTempYAML(t, `
metadata:
  name: x
  version: 1.0.0
  type: rule-config
rule-groups:
  - id: g1
    operator: AND
    rule-references:
      - rule-id: nope
        sequence: 1
        enabled: true
`)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadSingle(path)
	assert.Error(t, err)
}

func TestLoadManyMergesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.yaml")
	path2 := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(path1, []byte(`
metadata:
  name: a
  version: 1.0.0
  type: rule-config
rules:
  - id: r1
    condition: "true"
`), 0o644))
	require.NoError(t, os.WriteFile(path2, []byte(`
metadata:
  name: b
  version: 1.0.0
  type: rule-config
rule-groups:
  - id: g1
    operator: AND
    rule-references:
      - rule-id: r1
        sequence: 1
        enabled: true
`), 0o644))

	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	reg, err := l.LoadMany(path1, path2)
	require.NoError(t, err)
	assert.Contains(t, reg.Rules, "r1")
	assert.Contains(t, reg.Groups, "g1")
}

func TestLoadManyDuplicateIDAcrossFilesFails(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.yaml")
	path2 := filepath.Join(dir, "b.yaml")
	dup := `
metadata:
  name: dup
  version: 1.0.0
  type: rule-config
rules:
  - id: r1
    condition: "true"
`
	require.NoError(t, os.WriteFile(path1, []byte(dup), 0o644))
	require.NoError(t, os.WriteFile(path2, []byte(dup), 0o644))

	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadMany(path1, path2)
	assert.Error(t, err)
}

func TestLoadManyDetectsGroupCycleAfterMerge(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.yaml")
	path2 := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(path1, []byte(`
metadata:
  name: a
  version: 1.0.0
  type: rule-config
rule-groups:
  - id: g1
    operator: AND
    rule-group-references:
      - rule-group-id: g2
        sequence: 1
        enabled: true
`), 0o644))
	require.NoError(t, os.WriteFile(path2, []byte(`
metadata:
  name: b
  version: 1.0.0
  type: rule-config
rule-groups:
  - id: g2
    operator: AND
    rule-group-references:
      - rule-group-id: g1
        sequence: 1
        enabled: true
`), 0o644))

	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	_, err := l.LoadMany(path1, path2)
	assert.Error(t, err)
}

func TestAuditEnrichmentParsesAndValidates(t *testing.T) {
	path := writeTempYAML(t, `
metadata:
  name: audit-doc
  version: 1.0.0
  type: rule-config
enrichments:
  - id: log-audit
    type: audit
    enabled: true
    audit:
      sink: trail
      fields:
        - source-field: "#order.total"
          target-field: total
`)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	doc, err := l.LoadSingle(path)
	require.NoError(t, err)
	enr := doc.Registry.Enrichments["log-audit"]
	require.NotNil(t, enr)
	require.NotNil(t, enr.Audit)
	assert.Equal(t, "trail", enr.Audit.SinkName)
}

func TestCanonicalRoundTripPreservesRules(t *testing.T) {
	path := writeTempYAML(t, validRuleConfig)
	l := NewLoader(apexclock.NewFixed(time.Unix(0, 0)))
	doc, err := l.LoadSingle(path)
	require.NoError(t, err)

	out, err := Canonical(doc.Registry)
	require.NoError(t, err)

	path2 := writeTempYAML(t, string(out))
	doc2, err := l.LoadSingle(path2)
	require.NoError(t, err)

	assert.Equal(t, len(doc.Registry.Rules), len(doc2.Registry.Rules))
	assert.Equal(t, doc.Registry.Rules["big-order"].Condition, doc2.Registry.Rules["big-order"].Condition)
}

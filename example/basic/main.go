// Command basic shows the smallest end-to-end use of apex: load one YAML
// rule configuration, build an Engine, and evaluate a fact map against
// its default rule set.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/apex-rules/apex/apex"
	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/config"
)

var ruleConfigYAML = `
metadata:
  name: discount-eligibility
  version: "1.0.0"
  type: rule-config
  business-domain: pricing
rules:
  - id: high-value-order
    name: High value order
    condition: "order.total >= 500"
    message: "order qualifies for the high-value discount tier"
    severity: WARNING
  - id: repeat-customer
    name: Repeat customer
    condition: "customer.orderCount > 3"
    message: "customer qualifies for the loyalty discount"
    severity: INFO
rule-groups:
  - id: discount-checks
    name: Discount eligibility checks
    operator: OR
    rule-ids: [high-value-order, repeat-customer]
`

func main() {
	dir, err := os.MkdirTemp("", "apex-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "discount.yaml")
	if err := os.WriteFile(path, []byte(ruleConfigYAML), 0o644); err != nil {
		log.Fatal(err)
	}

	loader := config.NewLoader(apexclock.Real{})
	reg, err := loader.LoadMany(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	engine, err := apex.NewEngine(reg, apex.WithDefaultRuleSet("discount-checks"))
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	facts := map[string]any{
		"order":    map[string]any{"total": 620},
		"customer": map[string]any{"orderCount": 1},
	}

	result, err := engine.EvaluateFacts(context.Background(), facts)
	if err != nil {
		log.Fatalf("evaluate-facts: %v", err)
	}
	fmt.Printf("triggered=%v severity=%s\n", result.Triggered, result.Severity)
}

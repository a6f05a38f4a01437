// Command chain shows running a sequential rule chain: each stage's
// expression result is bound to an output variable visible to later
// stages, via #ruleResults/fact bindings.
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

var chainYAML = `
metadata:
  name: risk-scoring-chain
  version: "1.0.0"
  type: rule-config
rule-chains:
  - id: risk-score
    name: Sequential risk scoring
    pattern: sequential
    configuration:
      stages:
        - expression: "application.income / application.requestedAmount"
          output-variable: incomeRatio
        - expression: "incomeRatio > 0.5 ? \"low\" : \"high\""
          output-variable: riskBand
`

func main() {
	dir, err := os.MkdirTemp("", "apex-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "risk-chain.yaml")
	if err := os.WriteFile(path, []byte(chainYAML), 0o644); err != nil {
		log.Fatal(err)
	}

	loader := config.NewLoader(apexclock.Real{})
	reg, err := loader.LoadMany(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	engine, err := apex.NewEngine(reg)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	facts := map[string]any{
		"application": map[string]any{"income": 9000, "requestedAmount": 12000},
	}

	result, err := engine.RunChain(context.Background(), "risk-score", facts)
	if err != nil {
		log.Fatalf("run-chain: %v", err)
	}
	fmt.Printf("success=%v path=%v\n", result.Success, result.ExecutionPath)
}

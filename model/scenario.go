package model

// Scenario bundles a set of rule configurations selected by payload kind,
// per spec §4.11.
type Scenario struct {
	ID                 string
	DataTypes          []string
	RuleConfigRefs     []string // file paths or registry ids
	BusinessDomain     string
	Metadata           Metadata
}

// MatchesDataType reports whether the scenario declares dataType among
// its DataTypes.
func (s *Scenario) MatchesDataType(dataType string) bool {
	for _, t := range s.DataTypes {
		if t == dataType {
			return true
		}
	}
	return false
}

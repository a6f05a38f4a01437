package model

import "testing"

func TestSeverityMax(t *testing.T) {
	cases := []struct {
		a, b, want Severity
	}{
		{SeverityInfo, SeverityWarning, SeverityWarning},
		{SeverityError, SeverityWarning, SeverityError},
		{SeverityInfo, SeverityInfo, SeverityInfo},
	}
	for _, c := range cases {
		if got := c.a.Max(c.b); got != c.want {
			t.Errorf("Max(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestParseSeverityDefaultsToInfo(t *testing.T) {
	if ParseSeverity("bogus") != SeverityInfo {
		t.Error("expected unrecognized severity to default to INFO")
	}
	if ParseSeverity("") != SeverityInfo {
		t.Error("expected empty severity to default to INFO")
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityError.String() != "ERROR" {
		t.Errorf("got %q", SeverityError.String())
	}
}

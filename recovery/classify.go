package recovery

import (
	"errors"

	"github.com/apex-rules/apex/model"
)

// ClassifyDataSourceError maps err to the spec §4.9/§7 data-store error
// class so pipeline callers (lookup resolution, enrichment application)
// can decide whether to skip-and-continue or fail fast without needing
// to understand the originating adapter's error types. Errors already
// carrying a *model.DataSourceError keep their declared class; anything
// else defaults to Fatal, since an unclassified data-store failure
// should never be silently treated as transient.
func ClassifyDataSourceError(err error) model.DataSourceErrorClass {
	if err == nil {
		return ""
	}
	var dsErr *model.DataSourceError
	if errors.As(err, &dsErr) {
		return dsErr.Class
	}
	return model.Fatal
}

// Recoverable reports whether class should be treated as skip-and-continue
// by a caller applying the data-source failure policy (spec §4.9: data
// integrity and transient failures may be skipped; configuration and
// fatal failures must not).
func Recoverable(class model.DataSourceErrorClass) bool {
	switch class {
	case model.DataIntegrity, model.Transient:
		return true
	default:
		return false
	}
}

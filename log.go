package netasio

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newDiscardLogger returns a logrus.Logger that drops everything. The
// library never requires a logger from its embedding application (spec
// §1 scopes "the logger" as an external collaborator) — callers that
// don't supply one via WithClientLogger / WithServerLogger get this instead, so log.go never has
// to nil-check at each call site.
func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// connFields builds the structured fields every connection-scoped log
// line carries, in the style of nabbar-golib's logger.Fields: a base set
// built once and extended per call site.
func connFields(role string, id uint32, remote string) logrus.Fields {
	return logrus.Fields{
		"role":   role,
		"conn":   id,
		"remote": remote,
	}
}

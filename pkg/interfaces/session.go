package interfaces

import (
	"context"

	"focusboard/pkg/types"
)

// CredentialVerifier maps an opaque bearer credential to a user id.
type CredentialVerifier interface {
	Verify(token string) (int64, error)
}

// Authorizer decides whether a user may attach to a session. A denial is
// reported as allowed=false with a nil error; errors are reserved for
// collaborator failures.
type Authorizer interface {
	Authorize(ctx context.Context, user *types.User, sessionID int64) (role types.Role, allowed bool, err error)
}

// ReportSink receives fire-and-forget "report generation requested" events.
type ReportSink interface {
	RequestReport(sessionID int64)
}

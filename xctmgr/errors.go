package xctmgr

import "errors"

// ErrValidationFailed is returned by PrecommitXct when Phase 2 read, page
// version, or pointer validation detects a conflicting concurrent change.
// The caller must treat this exactly like AbortXct: the transaction's
// locks are already released and its retrospective lock list is already
// seeded for a retry.
var ErrValidationFailed = errors.New("xctmgr: precommit validation failed")

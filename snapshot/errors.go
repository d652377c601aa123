package snapshot

import "errors"

// ErrGleanFailed is returned by Gleaner.RunOnce when any mapper or
// reducer reported an error during the round.
var ErrGleanFailed = errors.New("snapshot: gleaning round failed")

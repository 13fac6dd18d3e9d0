package record

import "errors"

// ErrEmptyLine is returned by Decode for a whitespace-only line. Callers
// must skip such lines rather than treat them as corruption.
var ErrEmptyLine = errors.New("record: empty line")

// ErrMalformedRecord wraps any JSON decode failure. The log store is
// responsible for attaching the offending line number and deciding
// whether the failure is fatal (mid-file) or tolerated (end of file).
var ErrMalformedRecord = errors.New("record: malformed record")

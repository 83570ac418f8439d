package room

import "errors"

// Sentinel errors returned by Room operations. Room itself is
// language-agnostic; internal/session maps these to a localized reason
// string via internal/l10n before replying to a client.
var (
	ErrHostOnly        = errors.New("only the host can do this")
	ErrInvalidState    = errors.New("invalid room state for this request")
	ErrAlreadyReady    = errors.New("already ready")
	ErrNotReady        = errors.New("not ready")
	ErrAlreadyUploaded = errors.New("result already uploaded")
	ErrAlreadyAborted  = errors.New("already aborted")
)

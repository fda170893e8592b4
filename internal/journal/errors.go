package journal

import "errors"

var (
	ErrJournalClosed = errors.New("journal is closed")
	ErrEmptyPath     = errors.New("journal path cannot be empty")
)

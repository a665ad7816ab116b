package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateJob   = errors.New("job already exists")
	ErrConflict       = errors.New("conflicting terminal write")
)

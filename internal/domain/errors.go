package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrDuplicateOperationID = errors.New("duplicate operation id")
	ErrInUse                = errors.New("still referenced")
)

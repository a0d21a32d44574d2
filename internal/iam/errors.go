package iam

import "errors"

var (
	ErrNotFound      = errors.New("iam: not found")
	ErrAlreadyExists = errors.New("iam: already exists")
	ErrInvalidInput  = errors.New("iam: invalid input")

	// ErrPermissionDenied is the terminal resolver outcome for a request. It
	// covers explicit deny votes and all-abstain fallback denies alike.
	ErrPermissionDenied = errors.New("iam: permission denied")

	// ErrUnknownPermission marks a (source, action) pair absent from the
	// catalog. Absence is never treated as allow.
	ErrUnknownPermission = errors.New("iam: unknown permission")

	// ErrInvalidPermissionGraph marks a cycle in permission group inheritance.
	// This is a configuration-integrity failure, not a per-request condition.
	ErrInvalidPermissionGraph = errors.New("iam: invalid permission graph")

	// ErrPermissionInUse prevents deleting a permission still referenced by a
	// group or role.
	ErrPermissionInUse = errors.New("iam: permission in use")
)

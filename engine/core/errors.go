package core

import (
	"errors"
)

var (
	ErrUnknown             = errors.New("unknown")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnsupported         = errors.New("unsupported by this backend")
	ErrNativeCall          = errors.New("native graphics API call failed")
	ErrCompile             = errors.New("shader compilation failed")
	ErrReflection          = errors.New("shader reflection failed")
	ErrMissingPart         = errors.New("shader container part missing")
	ErrEntryPointNotFound  = errors.New("shader entry point not found")
	ErrBindingConflict     = errors.New("shader stages disagree about a binding")
	ErrUnsupportedFormat   = errors.New("unsupported shader interface format")
	ErrUnsupportedResource = errors.New("unsupported shader resource type")
	ErrAttachmentMismatch  = errors.New("framebuffer does not match shader outputs")
	ErrStaleHandle         = errors.New("resource handle is stale")
	ErrInvalidHandle       = errors.New("resource handle is invalid")
)

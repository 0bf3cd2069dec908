package fileops

import (
	"errors"
	"fmt"
)

// Code classifies a file-operation failure. Codes are stable strings so they
// can cross the API and MCP boundaries unchanged.
type Code string

const (
	CodePathValidation  Code = "PATH_VALIDATION_ERROR"
	CodeFileNotFound    Code = "FILE_NOT_FOUND"
	CodePermission      Code = "PERMISSION_DENIED"
	CodeMkdir           Code = "MKDIR_ERROR"
	CodeWriteFile       Code = "WRITE_FILE_ERROR"
	CodeReadFile        Code = "READ_FILE_ERROR"
	CodeParse           Code = "PARSE_ERROR"
	CodeBuildInProgress Code = "INDEX_BUILD_IN_PROGRESS"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeTimeout         Code = "TIMEOUT_ERROR"
	CodeUnknown         Code = "UNKNOWN_ERROR"
)

// Error is the typed result every fileops operation returns on failure.
// The original cause is always attached for diagnostics.
type Error struct {
	Code Code
	Op   string // "read", "write", "stat", "mkdir", "access"
	Path string // relative path as supplied by the caller
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("fileops: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("fileops: %s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the failure code from err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// errors.go: Error codes for format detection and dataset access
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes
const (
	ErrCodeUnknownFormat      = "QPFORMAT_UNKNOWN_FORMAT"
	ErrCodeWrongFormat        = "QPFORMAT_WRONG_FORMAT"
	ErrCodeMultipleFormats    = "QPFORMAT_MULTIPLE_FORMATS"
	ErrCodeMalformedData      = "QPFORMAT_MALFORMED_DATA"
	ErrCodeInvalidMetadataKey = "QPFORMAT_INVALID_METADATA_KEY"
	ErrCodeInvalidBackground  = "QPFORMAT_INVALID_BACKGROUND"
	ErrCodeIndexOutOfRange    = "QPFORMAT_INDEX_OUT_OF_RANGE"
	ErrCodeMissingIdentifier  = "QPFORMAT_MISSING_IDENTIFIER"
	ErrCodeUnsupportedValue   = "QPFORMAT_UNSUPPORTED_VALUE"
	ErrCodeFileNotFound       = "QPFORMAT_FILE_NOT_FOUND"
	ErrCodeIOError            = "QPFORMAT_IO_ERROR"
	ErrCodeInvalidConfig      = "QPFORMAT_INVALID_CONFIG"
	ErrCodeAuditError         = "QPFORMAT_AUDIT_ERROR"
)

// HasCode reports whether err or any error it wraps carries code.
func HasCode(err error, code string) bool {
	for e := err; e != nil; e = goerrors.Unwrap(e) {
		if ec, ok := e.(errors.ErrorCoder); ok && string(ec.ErrorCode()) == code {
			return true
		}
	}
	return false
}

func malformed(err error, format, msg string) error {
	return errors.Wrap(err, ErrCodeMalformedData, msg).WithContext("format", format)
}

func outOfRange(idx, n int) error {
	return errors.New(ErrCodeIndexOutOfRange, fmt.Sprintf("index %d out of range for length %d", idx, n))
}

func malformedData(format, msg string) error {
	return errors.New(ErrCodeMalformedData, msg).WithContext("format", format)
}

// errors.go: Error codes for image and container operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

// Error codes
const (
	ErrCodeInvalidMetaKey   = "QPIMAGE_INVALID_META_KEY"
	ErrCodeInvalidData      = "QPIMAGE_INVALID_DATA"
	ErrCodeShapeMismatch    = "QPIMAGE_SHAPE_MISMATCH"
	ErrCodeReconstruction   = "QPIMAGE_RECONSTRUCTION"
	ErrCodeContainer        = "QPIMAGE_CONTAINER"
	ErrCodeContainerClosed  = "QPIMAGE_CONTAINER_CLOSED"
	ErrCodeIndexOutOfRange  = "QPIMAGE_INDEX_OUT_OF_RANGE"
	ErrCodeInvalidPrecision = "QPIMAGE_INVALID_PRECISION"
)

/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const SkyPrefix = "Sky."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Scan-related errors
   02: Backlog-related errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError = SkyPrefix + "00001"
	BadRequest    = SkyPrefix + "00002"
	Forbidden     = SkyPrefix + "00003"
	AlreadyExist  = SkyPrefix + "00004"
	NotFound      = SkyPrefix + "00005"
	Unauthorized  = SkyPrefix + "00006"
	Conflict      = SkyPrefix + "00007"
)

// scan: 01xxx
const (
	ScanNotFound     = SkyPrefix + "01001"
	ResultNotFound   = SkyPrefix + "01002"
	MetadataImmutable = SkyPrefix + "01003"
)

// backlog: 02xxx
const (
	BacklogEntryNotFound = SkyPrefix + "02001"
)

// IsSky returns true if the specified error carries a SkyDriver error code.
func IsSky(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(string(apierrors.ReasonForError(err)), SkyPrefix)
}

func IsAlreadyExist(err error) bool {
	return apierrors.ReasonForError(err) == AlreadyExist
}

func IsBadRequest(err error) bool {
	reason := apierrors.ReasonForError(err)
	return reason == BadRequest || reason == MetadataImmutable
}

func IsInternal(err error) bool {
	return apierrors.ReasonForError(err) == InternalError
}

func IsNotFound(err error) bool {
	reason := apierrors.ReasonForError(err)
	if reason == NotFound || reason == ScanNotFound ||
		reason == ResultNotFound || reason == BacklogEntryNotFound {
		return true
	}
	return false
}

func IgnoreNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func GetErrorCode(err error) string {
	if err == nil || !IsSky(err) {
		return ""
	}
	return string(apierrors.ReasonForError(err))
}

func NewBadRequest(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  BadRequest,
		Message: message,
	}}
}

func NewInternalError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  InternalError,
		Message: fmt.Sprintf("Internal error. %s", message),
	}}
}

func NewAlreadyExist(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  AlreadyExist,
		Message: message,
	}}
}

func NewForbidden(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusForbidden,
		Reason:  Forbidden,
		Message: message,
	}}
}

func NewUnauthorized(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnauthorized,
		Reason:  Unauthorized,
		Message: message,
	}}
}

// NewScanNotFound reports a missing (or deleted and not requested) scan.
func NewScanNotFound(scanId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: ScanNotFound,
		Details: &metav1.StatusDetails{
			Kind: "Scan",
			Name: scanId,
		},
		Message: fmt.Sprintf("scan %s not found.", scanId),
	}}
}

func NewResultNotFound(scanId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: ResultNotFound,
		Details: &metav1.StatusDetails{
			Kind: "Result",
			Name: scanId,
		},
		Message: fmt.Sprintf("result for scan %s not found.", scanId),
	}}
}

func NewBacklogEntryNotFound(scanId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: BacklogEntryNotFound,
		Details: &metav1.StatusDetails{
			Kind: "BacklogEntry",
			Name: scanId,
		},
		Message: fmt.Sprintf("backlog entry for scan %s not found.", scanId),
	}}
}

func NewNotFoundWithMessage(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  NotFound,
		Message: message,
	}}
}

// NewMetadataImmutable reports an attempt to overwrite set-once manifest
// metadata. The message is stable; tests and clients match on it.
func NewMetadataImmutable(field string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  MetadataImmutable,
		Message: fmt.Sprintf("Cannot change an existing %s", field),
	}}
}

func NewConflict(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  Conflict,
		Message: message,
	}}
}

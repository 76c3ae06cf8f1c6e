/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// SkyApiError is the unified error response body: HTTP code, project error
// code, and message.
type SkyApiError struct {
	HttpCode     int    `json:"-"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Error returns the error message string.
func (err *SkyApiError) Error() string {
	return err.ErrorMessage
}

// AbortWithApiError converts any error into the unified error format and
// aborts the request with it.
func AbortWithApiError(c *gin.Context, err error) {
	logErrors(c, err)
	rsp := convertToErrResponse(err)
	c.AbortWithStatusJSON(rsp.HttpCode, rsp)
}

func convertToErrResponse(err error) SkyApiError {
	var result *SkyApiError
	if errors.As(err, &result) {
		return *result
	}
	var statusErr *apierrors.StatusError
	if !errors.As(err, &statusErr) {
		switch {
		case apierrors.IsNotFound(err):
			statusErr = skyerrors.NewNotFoundWithMessage(err.Error())
		case apierrors.IsBadRequest(err), apierrors.IsInvalid(err):
			statusErr = skyerrors.NewBadRequest(err.Error())
		case apierrors.IsAlreadyExists(err):
			statusErr = skyerrors.NewAlreadyExist(err.Error())
		case apierrors.IsForbidden(err):
			statusErr = skyerrors.NewForbidden(err.Error())
		default:
			statusErr = skyerrors.NewInternalError(err.Error())
		}
	}
	return SkyApiError{
		HttpCode:     int(statusErr.Status().Code),
		ErrorCode:    string(statusErr.Status().Reason),
		ErrorMessage: statusErr.Error(),
	}
}

func logErrors(c *gin.Context, err error) {
	var errs []error
	if aggregate, ok := err.(utilerrors.Aggregate); ok {
		errs = aggregate.Errors()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		_ = c.Error(e)
	}
}

type handleFunc func(*gin.Context) (interface{}, error)

// handle executes a handler function and renders its response, routing any
// error through the unified error body.
func handle(c *gin.Context, fn handleFunc) {
	response, err := fn(c)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	if c.Writer.Written() {
		// the handler already responded (e.g. raw log text or a redirect)
		return
	}
	code := http.StatusOK
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	if response == nil {
		c.Status(code)
		return
	}
	c.JSON(code, response)
}

// NoRoute renders unknown paths with the unified error body.
func NoRoute(c *gin.Context) {
	AbortWithApiError(c, skyerrors.NewNotFoundWithMessage("no such route: "+c.Request.URL.Path))
}

// Logger is the request log middleware.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			klog.Errorf("%s %s -> %d %v", c.Request.Method, c.Request.URL.Path, status, c.Errors.Errors())
		} else {
			klog.V(2).Infof("%s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		}
	}
}

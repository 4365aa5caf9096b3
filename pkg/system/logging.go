// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
	ReqLoggerKey = "reqLogger"
	// RequestIDKey is the context key holding the request correlation id.
	RequestIDKey = "requestId"
	// RequestIDHeader carries the correlation id in and out of the broker.
	RequestIDHeader = "X-Request-ID"
	// maxRequestIDLength bounds client supplied ids before they reach the logs.
	maxRequestIDLength = 128
)

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns a fallback sugared logger derived from the provided zap.Logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// GetRequestID returns the correlation id assigned by RequestLogger, or "".
func GetRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(RequestIDKey)
}

// RequestLogger assigns every request a correlation id and stores a logger
// carrying it under ReqLoggerKey. An incoming X-Request-ID is reused when it
// is present and reasonably sized.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With(
			"requestId", id,
			"clientIP", c.ClientIP(),
			"path", c.FullPath(),
		))
		c.Next()
	}
}

// EnrichReqLoggerWithSubject annotates the request-scoped logger with the
// identity established for the request. Empty values are skipped.
func EnrichReqLoggerWithSubject(reqLogger *zap.SugaredLogger, subject, email string) *zap.SugaredLogger {
	if reqLogger == nil {
		return nil
	}
	if subject != "" {
		reqLogger = reqLogger.With("sub", subject)
	}
	if email != "" {
		reqLogger = reqLogger.With("email", email)
	}
	return reqLogger
}

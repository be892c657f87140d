// Package awsutil maps AWS SDK errors onto the errdefs taxonomy.
package awsutil

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/smithy-go"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// throttleCodes are API error codes that signal rate limiting. AWS reports
// several of them as client faults, but they are transient.
var throttleCodes = []string{
	"Throttling",
	"ThrottlingException",
	"ThrottledException",
	"RequestLimitExceeded",
	"RequestThrottled",
	"RequestThrottledException",
	"TooManyRequestsException",
	"SlowDown",
}

// Classify wraps err with the errdefs kind its API error code implies:
// codes listed in notFound become errdefs.ErrNotFound, other client faults
// become errdefs.ErrRejected. Server faults, throttling and transport
// errors are returned unchanged so the retry policy treats them as
// transient.
func Classify(err error, notFound ...string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := apiErr.ErrorCode()
	switch {
	case slices.Contains(notFound, code):
		return fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
	case slices.Contains(throttleCodes, code):
		return err
	case apiErr.ErrorFault() == smithy.FaultClient:
		return fmt.Errorf("%w: %w", errdefs.ErrRejected, err)
	}
	return err
}

// Code returns the API error code of err, or "".
func Code(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

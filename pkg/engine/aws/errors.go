package aws

import (
	"errors"
	"strings"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
)

var accessDeniedCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
}

// classify maps an SDK error onto the failure taxonomy: missing permissions are
// failure.Permission, everything else failure.TransientFetch.
func classify(op string, err error) error {
	if isAccessDenied(err) {
		return failure.New(failure.Permission, op, err)
	}
	return failure.New(failure.TransientFetch, op, err)
}

func isAccessDenied(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) && accessDeniedCodes[ae.ErrorCode()] {
		return true
	}
	return strings.Contains(err.Error(), "cloudtrail:LookupEvents")
}

var throttleCodes = retry.ThrottleErrorCode{Codes: retry.DefaultThrottleErrorCodes}

// IsThrottle reports whether err is an AWS throttling response.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	return throttleCodes.IsErrorThrottle(err) == aws.TrueTernary
}

package dynamo

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/prazos-api/internal/domain"
)

// Error codes that mean the caller is not allowed in. Retrying will not help.
var accessDeniedCodes = map[string]bool{
	"AccessDeniedException":               true,
	"UnrecognizedClientException":         true,
	"InvalidSignatureException":           true,
	"MissingAuthenticationTokenException": true,
	"ExpiredTokenException":               true,
	"IncompleteSignature":                 true,
}

// Error codes that survive the SDK retryer only when the service stays unhealthy.
var unavailableCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"LimitExceededException":                 true,
}

// classify maps AWS failures onto domain.ErrAccessDenied / domain.ErrUnavailable
// and prefixes op. Other errors are wrapped unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case accessDeniedCodes[code]:
			return fmt.Errorf("%s: %w (%s: %s)", op, domain.ErrAccessDenied, code, apiErr.ErrorMessage())
		case unavailableCodes[code]:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
		}
	}
	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

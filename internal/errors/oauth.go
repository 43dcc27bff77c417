// Package errors defines the OAuth 2.1 error taxonomy shared by every
// endpoint of the authorization façade. All failures surfaced to callers are
// expressed as one of these codes with a fixed description; internal detail
// (upstream response bodies, transport errors) never leaves the process.
package errors

// OAuth 2.0/2.1 error codes (RFC 6749, RFC 7591, RFC 6750).
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrInvalidScope            = "invalid_scope"
	ErrAccessDenied            = "access_denied"
	ErrServerError             = "server_error"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrInvalidToken            = "invalid_token"
	ErrInvalidClientMetadata   = "invalid_client_metadata"
	ErrInvalidRedirectURI      = "invalid_redirect_uri"
	ErrMethodNotAllowed        = "method_not_allowed"
	ErrTooManyRequests         = "too_many_requests"
	ErrUnauthorized            = "unauthorized"
)

// OAuthError is an error value carrying an OAuth error code and the fixed
// description that may be shown to the caller.
type OAuthError struct {
	ErrorCode string
	Message   string
	ErrorURI  string
}

// NewOAuthError creates an OAuthError with the given code and description.
func NewOAuthError(errCode string, message string, uri string) OAuthError {
	return OAuthError{
		ErrorCode: errCode,
		Message:   message,
		ErrorURI:  uri,
	}
}

func (e OAuthError) Error() string {
	if e.Message == "" {
		return e.ErrorCode
	}
	return e.ErrorCode + ": " + e.Message
}

// OAuthErrorResponse is the wire shape of an OAuth error body.
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// ToResponseStruct converts the error into its JSON response body.
func (e OAuthError) ToResponseStruct() OAuthErrorResponse {
	return OAuthErrorResponse{
		Error:            e.ErrorCode,
		ErrorDescription: e.Message,
		ErrorURI:         e.ErrorURI,
	}
}

// AsOAuthError returns err as an OAuthError, or wraps it under the given
// fallback code with a generic description when it is some other error type.
func AsOAuthError(err error, fallbackCode string, fallbackMessage string) OAuthError {
	if oauthErr, ok := err.(OAuthError); ok {
		return oauthErr
	}
	return NewOAuthError(fallbackCode, fallbackMessage, "")
}

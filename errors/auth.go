package errors

// Reasons of the authentication taxonomy. They double as the error tags
// exposed to session consumers.
const (
	ReasonDecode          = "DecodeError"
	ReasonRefreshDeclined = "RefreshDeclined"
	ReasonSessionExpired  = "SessionExpired"
	ReasonUnauthorized    = "Unauthorized"
	ReasonConfiguration   = "ConfigurationError"
)

var (
	// ErrDecode: the token is not a well-formed bearer token.
	ErrDecode = NewReason(400, ReasonDecode, "malformed token")

	// ErrRefreshDeclined: the identity provider did not produce a usable token pair.
	ErrRefreshDeclined = NewReason(401, ReasonRefreshDeclined, "refresh declined")

	// ErrSessionExpired: a session existed but can no longer be recovered.
	ErrSessionExpired = NewReason(401, ReasonSessionExpired, "session expired")

	// ErrUnauthorized: no session was ever present.
	ErrUnauthorized = NewReason(401, ReasonUnauthorized, "no session")

	// ErrConfiguration: required provider or application configuration is missing.
	ErrConfiguration = NewReason(500, ReasonConfiguration, "invalid configuration")
)

func IsDecode(err error) bool          { return Is(err, ErrDecode) }
func IsRefreshDeclined(err error) bool { return Is(err, ErrRefreshDeclined) }
func IsSessionExpired(err error) bool  { return Is(err, ErrSessionExpired) }
func IsUnauthorized(err error) bool    { return Is(err, ErrUnauthorized) }
func IsConfiguration(err error) bool   { return Is(err, ErrConfiguration) }

// IsAuthFailure reports whether err should end the user's session.
func IsAuthFailure(err error) bool {
	return IsSessionExpired(err) || IsUnauthorized(err)
}

// Kind returns the reason of the first *Error in err's chain, or "" if there is none.
func Kind(err error) string {
	var ge *Error
	if As(err, &ge) {
		return ge.Reason
	}
	return ""
}

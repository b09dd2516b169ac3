package handlers

const (
	SessionCookieName = "session_id"
	CSRFHeaderName    = "X-CSRF-Token"
	RequestIDHeader   = "X-Request-ID"

	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"
)

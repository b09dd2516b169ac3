package handlers

import "errors"

var (
	errCSRF        = errors.New("invalid or missing CSRF token")
	errRateLimited = errors.New("too many requests, try again later")
)

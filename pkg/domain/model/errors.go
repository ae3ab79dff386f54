package model

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for the credential and API access layer
var (
	// ErrTokenFormat means a sealed token failed structural parsing
	// (version tag or segment count)
	ErrTokenFormat = goerr.New("invalid sealed token format")

	// ErrTokenAuthentication means decryption or tag verification failed:
	// tampering, wrong secret, or a corrupted cookie
	ErrTokenAuthentication = goerr.New("sealed token authentication failed")

	// ErrNoSession means no sealed credential is present at all
	ErrNoSession = goerr.New("no session")

	// ErrInvalidSession means a sealed credential is present but unusable
	ErrInvalidSession = goerr.New("session is invalid")

	// ErrHostNotAllowed means the resolved target host is outside the
	// configured allow-list (SSRF guard)
	ErrHostNotAllowed = goerr.New("gitlab host not allowed")

	// ErrNetwork means the transport failed before an HTTP status existed
	ErrNetwork = goerr.New("network error")

	// ErrGraphQL means an HTTP-200 GraphQL response carried an errors array
	ErrGraphQL = goerr.New("graphql query failed")

	// ErrGroupNotFound means the analysis target group could not be resolved
	ErrGroupNotFound = goerr.New("group not found")

	// ErrIterationNotFound means the requested iteration is not among the
	// group's recent iterations
	ErrIterationNotFound = goerr.New("iteration not found")
)

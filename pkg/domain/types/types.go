package types

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupID represents a GitLab group identifier
type GroupID int64

// String returns the string representation
func (id GroupID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ProjectID represents a GitLab project identifier
type ProjectID int64

// String returns the string representation
func (id ProjectID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IterationID represents a GitLab iteration identifier
type IterationID int64

// String returns the string representation
func (id IterationID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IssueID represents a GitLab issue identifier (globally unique id, not iid)
type IssueID int64

// String returns the string representation
func (id IssueID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IssueIID represents a project-scoped issue number
type IssueIID int64

// String returns the string representation
func (iid IssueIID) String() string {
	return strconv.FormatInt(int64(iid), 10)
}

// ActorID identifies the user a time log belongs to. Upstream user ids are
// positive; ActorNone buckets log entries without an identifiable actor.
type ActorID int64

// ActorNone is the sentinel key for time logs with no resolvable actor.
const ActorNone ActorID = -1

// IsNone reports whether the actor is the no-actor sentinel
func (id ActorID) IsNone() bool {
	return id == ActorNone
}

// String returns the string representation ("none" for the sentinel)
func (id ActorID) String() string {
	if id.IsNone() {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

// ParseActorID parses a decimal actor id, accepting the "none" sentinel
func ParseActorID(s string) (ActorID, error) {
	if s == "none" {
		return ActorNone, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return ActorNone, fmt.Errorf("invalid actor id: %q", s)
	}
	return ActorID(n), nil
}

// ActorIDFromGlobalID extracts the numeric user id from a GraphQL global id
// such as "gid://gitlab/User/123" by taking the trailing decimal run after
// the last slash. Anything else maps to ActorNone, never a fabricated id.
func ActorIDFromGlobalID(gid string) ActorID {
	idx := strings.LastIndexByte(gid, '/')
	if idx < 0 || idx == len(gid)-1 {
		return ActorNone
	}
	n, err := strconv.ParseInt(gid[idx+1:], 10, 64)
	if err != nil || n <= 0 {
		return ActorNone
	}
	return ActorID(n)
}

// Credential is an opaque bearer token granting GitLab API access. It lives
// in the request context between the access guard and the API clients and
// must never be written to a response body or log.
type Credential string

// String masks the credential to keep it out of accidental formatting
func (c Credential) String() string {
	return "[redacted]"
}

// Raw returns the plaintext token for request headers
func (c Credential) Raw() string {
	return string(c)
}

// IsEmpty reports whether the credential is unset
func (c Credential) IsEmpty() bool {
	return string(c) == ""
}

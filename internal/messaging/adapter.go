package messaging

import (
	"context"
	"errors"
	"strings"

	"callhub-backend/internal/domain"
)

// Client is the encrypted-messaging substrate the call subsystem sits
// next to. The call coordinators never talk to it directly; the
// orchestrator uses it to resolve contacts and to drop call markers into
// conversations. Implementations wrap the actual messaging provider SDK.
type Client interface {
	// Self returns the local user's address.
	Self() string
	// SendMessage sends a text message to a contact.
	SendMessage(ctx context.Context, address, text string) error
	// SendGroupMessage sends a text message to a group.
	SendGroupMessage(ctx context.Context, groupID, text string) error
	// CreateGroup creates a group with the given members and returns its id.
	CreateGroup(ctx context.Context, name string, members []string) (string, error)
	// GroupMembers lists the addresses of a group's members.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	// MarkRead marks a conversation read up to now.
	MarkRead(ctx context.Context, conversationID string) error
	// Friends lists the user's contacts.
	Friends(ctx context.Context) ([]*domain.Friend, error)
	// Groups lists the groups the user belongs to.
	Groups(ctx context.Context) ([]*domain.Group, error)
}

// ErrorKind classifies provider errors into conditions the rest of the
// system branches on. Classification by provider message text happens
// here and only here; coordinators and handlers switch on the kind, never
// on error strings.
type ErrorKind int

const (
	// KindUnknown is any provider error without a recognized condition.
	KindUnknown ErrorKind = iota
	// KindDeviceLimit means the account hit the provider's device
	// registration cap and this installation cannot register.
	KindDeviceLimit
	// KindRateLimited means the provider throttled the operation.
	KindRateLimited
	// KindNetwork means the provider could not be reached.
	KindNetwork
	// KindNotFriend means the target address is not a contact.
	KindNotFriend
	// KindGroupNotFound means the group id resolves to nothing.
	KindGroupNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeviceLimit:
		return "device_limit"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindNotFriend:
		return "not_friend"
	case KindGroupNotFound:
		return "group_not_found"
	default:
		return "unknown"
	}
}

// Error wraps a provider error with its classified kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a raw provider error to a typed Error. Provider SDKs
// report most conditions only through message text, so this is the one
// place substring matching is allowed to live.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	kind := KindUnknown
	switch {
	case strings.Contains(msg, "installation limit") ||
		strings.Contains(msg, "device limit") ||
		strings.Contains(msg, "too many registered devices"):
		kind = KindDeviceLimit
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		kind = KindRateLimited
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "i/o timeout"):
		kind = KindNetwork
	case strings.Contains(msg, "not a friend") ||
		strings.Contains(msg, "friend not found"):
		kind = KindNotFriend
	case strings.Contains(msg, "group not found") ||
		strings.Contains(msg, "no such group"):
		kind = KindGroupNotFound
	}

	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classified kind from an error chain, classifying
// raw errors on the fly.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return Classify(err).Kind
}

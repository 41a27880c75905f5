// Package endpoint defines the messaging transport the relay runs on: inbound
// commands with a sender identity, replies to those commands, and proactive
// delivery to any known identity.
package endpoint

import (
	"context"
	"errors"
	"strings"

	"github.com/magefree/anonrelay-server-go/internal/registry"
)

// ErrUnreachable is returned by Deliver when the identity has no live route.
var ErrUnreachable = errors.New("identity unreachable")

// Responder answers the sender of one inbound command. Implementations must
// stay usable after the handler returns; delayed confirmations use them.
type Responder interface {
	Reply(ctx context.Context, text string) error
}

// Command is one inbound command. Args are positional, in the order typed.
type Command struct {
	Name   string
	Args   []string
	Sender registry.Identity
	Reply  Responder
}

// Handler processes a command. A non-nil error stops the endpoint.
type Handler func(ctx context.Context, cmd Command) error

// Endpoint is a messaging transport.
type Endpoint interface {
	// Serve receives commands and passes them to h until ctx is done or h fails.
	Serve(ctx context.Context, h Handler) error
	// Deliver sends text to the given identity.
	Deliver(ctx context.Context, to registry.Identity, text string) error
}

// ParseCommandLine splits "/name arg1 arg2" into a command name and arguments.
// A "@botname" suffix on the command is dropped. ok is false for non-commands.
func ParseCommandLine(line string) (name string, args []string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

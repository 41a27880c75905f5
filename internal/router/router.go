// Package router dispatches inbound commands to the registry and the relay
// engine and formats the replies participants see.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"github.com/magefree/anonrelay-server-go/internal/relay"
	"go.uber.org/zap"
)

const helpText = "Hello! There are next commands:\n" +
	"/list - show people\n" +
	"/message {game} {user} {delay in minutes} {text} - send message\n" +
	"/register {game} {user} - register yourself\n" +
	"/unregister {game} - unregister yourself\n" +
	"/new_game {game} - New game. Responds only to admin\n" +
	"/delete_game {game} - Deletes game. Responds only to admin\n" +
	"/ban {game} {user} - Bans user in a game. Responds only to admin\n" +
	"/unban {user} - Unbans user. Responds only to admin"

const (
	replyUnauthorized = "Sorry. You are not authorized."
	replyBanned       = "Sorry. You are banned..."
	replyInternal     = "Sorry. Something went wrong."
)

// Sender schedules relayed messages.
type Sender interface {
	Send(ctx context.Context, req relay.Request) (*relay.Delivery, error)
}

type handlerFunc func(ctx context.Context, cmd endpoint.Command) (string, error)

type route struct {
	usage   string
	minArgs int
	admin   bool
	handle  handlerFunc
}

// Router maps command names to registry and relay operations.
type Router struct {
	reg    *registry.Registry
	relay  Sender
	admin  registry.Identity
	logger *zap.Logger
	routes map[string]route
}

// New creates a router. admin is the only identity allowed to run
// new_game, delete_game, ban and unban.
func New(reg *registry.Registry, sender Sender, admin registry.Identity, logger *zap.Logger) *Router {
	r := &Router{
		reg:    reg,
		relay:  sender,
		admin:  admin,
		logger: logger,
	}
	r.routes = map[string]route{
		"start":       {handle: r.start},
		"help":        {handle: r.start},
		"register":    {usage: "/register {game} {user}", minArgs: 2, handle: r.register},
		"unregister":  {usage: "/unregister {game}", minArgs: 1, handle: r.unregister},
		"message":     {usage: "/message {game} {user} {delay in minutes} {text}", minArgs: 3, handle: r.message},
		"new_game":    {usage: "/new_game {game}", minArgs: 1, admin: true, handle: r.newGame},
		"delete_game": {usage: "/delete_game {game}", minArgs: 1, admin: true, handle: r.deleteGame},
		"ban":         {usage: "/ban {game} {user}", minArgs: 2, admin: true, handle: r.ban},
		"unban":       {usage: "/unban {user}", minArgs: 1, admin: true, handle: r.unban},
		"list":        {handle: r.list},
	}
	return r
}

// Handle runs one command and replies to its sender. Only errors that must
// stop the process are returned; everything else becomes a reply.
func (r *Router) Handle(ctx context.Context, cmd endpoint.Command) error {
	rt, ok := r.routes[cmd.Name]
	if !ok {
		r.logger.Debug("ignoring unknown command", zap.String("command", cmd.Name))
		return nil
	}

	var (
		reply string
		err   error
	)
	switch {
	case rt.admin && cmd.Sender != r.admin:
		reply, err = replyUnauthorized, registry.ErrUnauthorized
	case len(cmd.Args) < rt.minArgs:
		reply = "Usage: " + rt.usage
	default:
		reply, err = rt.handle(ctx, cmd)
	}

	if err != nil {
		if registry.IsFatal(err) {
			r.logger.Error("command aborted by persistence failure",
				zap.String("command", cmd.Name),
				zap.Error(err),
			)
			r.send(ctx, cmd, replyInternal)
			return err
		}
		r.logger.Debug("command rejected",
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
		if reply == "" {
			reply = replyInternal
		}
	}

	r.send(ctx, cmd, reply)
	return nil
}

func (r *Router) send(ctx context.Context, cmd endpoint.Command, text string) {
	if text == "" || cmd.Reply == nil {
		return
	}
	if err := cmd.Reply.Reply(ctx, text); err != nil {
		r.logger.Warn("failed to reply",
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
	}
}

func (r *Router) start(ctx context.Context, cmd endpoint.Command) (string, error) {
	return helpText, nil
}

func (r *Router) register(ctx context.Context, cmd endpoint.Command) (string, error) {
	game, alias := cmd.Args[0], cmd.Args[1]

	err := r.reg.Register(ctx, game, cmd.Sender, alias)
	switch {
	case err == nil:
		return fmt.Sprintf("Hello, %s!", alias), nil
	case errors.Is(err, registry.ErrGameNotFound):
		return fmt.Sprintf("Sorry. Game %s is not present.", game), err
	case errors.Is(err, registry.ErrBanned):
		return replyBanned, err
	case errors.Is(err, registry.ErrAliasTaken):
		return fmt.Sprintf("Sorry. User %s is already present.", alias), err
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return "Sorry. You are already registered.", err
	case errors.Is(err, registry.ErrInvalidArgument):
		return "Usage: /register {game} {user}", err
	default:
		return "", err
	}
}

func (r *Router) unregister(ctx context.Context, cmd endpoint.Command) (string, error) {
	game := cmd.Args[0]

	_, err := r.reg.Unregister(ctx, game, cmd.Sender)
	switch {
	case err == nil:
		return "Bye!", nil
	case errors.Is(err, registry.ErrGameNotFound):
		return fmt.Sprintf("Sorry. Game %s is not present.", game), err
	case errors.Is(err, registry.ErrNotRegistered):
		return "Sorry. You are not registered.", err
	case errors.Is(err, registry.ErrBanned):
		return replyBanned, err
	default:
		return "", err
	}
}

func (r *Router) message(ctx context.Context, cmd endpoint.Command) (string, error) {
	game, alias := cmd.Args[0], cmd.Args[1]

	delay, err := strconv.Atoi(cmd.Args[2])
	if err != nil || delay < 0 {
		return "Usage: /message {game} {user} {delay in minutes} {text}",
			fmt.Errorf("%w: delay %q", registry.ErrInvalidArgument, cmd.Args[2])
	}

	_, err = r.relay.Send(ctx, relay.Request{
		Game:      game,
		Sender:    cmd.Sender,
		Recipient: alias,
		Delay:     delay,
		Body:      strings.Join(cmd.Args[3:], " "),
		Reply:     cmd.Reply,
	})
	switch {
	case err == nil:
		// The engine acknowledges and confirms on its own.
		return "", nil
	case errors.Is(err, registry.ErrGameNotFound):
		return fmt.Sprintf("Sorry. There is no game %s.", game), err
	case errors.Is(err, registry.ErrNotRegistered):
		return "Sorry. You need to register to send messages.", err
	case errors.Is(err, registry.ErrBanned):
		return replyBanned, err
	case errors.Is(err, registry.ErrAliasNotFound):
		return fmt.Sprintf("Sorry. There is no user %s.", alias), err
	case errors.Is(err, registry.ErrInvalidArgument):
		return "Sorry. That delay is not allowed.", err
	default:
		return replyInternal, err
	}
}

func (r *Router) newGame(ctx context.Context, cmd endpoint.Command) (string, error) {
	game := cmd.Args[0]

	err := r.reg.CreateGame(ctx, game)
	switch {
	case err == nil:
		return fmt.Sprintf("Game %s created!", game), nil
	case errors.Is(err, registry.ErrAlreadyExists):
		return fmt.Sprintf("Game %s is already present.", game), err
	default:
		return "", err
	}
}

func (r *Router) deleteGame(ctx context.Context, cmd endpoint.Command) (string, error) {
	game := cmd.Args[0]

	err := r.reg.DeleteGame(ctx, game)
	switch {
	case err == nil:
		return fmt.Sprintf("Game %s deleted!", game), nil
	case errors.Is(err, registry.ErrGameNotFound):
		return fmt.Sprintf("Game %s is not present.", game), err
	default:
		return "", err
	}
}

func (r *Router) ban(ctx context.Context, cmd endpoint.Command) (string, error) {
	game, alias := cmd.Args[0], cmd.Args[1]

	_, err := r.reg.Ban(game, alias)
	switch {
	case err == nil:
		return fmt.Sprintf("User %s banned...", alias), nil
	case errors.Is(err, registry.ErrGameNotFound):
		return fmt.Sprintf("Sorry. There is no game %s.", game), err
	case errors.Is(err, registry.ErrAliasNotFound):
		return fmt.Sprintf("Sorry. There is no user %s.", alias), err
	default:
		return "", err
	}
}

func (r *Router) unban(ctx context.Context, cmd endpoint.Command) (string, error) {
	alias := cmd.Args[0]

	_, err := r.reg.Unban(alias)
	switch {
	case err == nil:
		return fmt.Sprintf("User %s unblocked!", alias), nil
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Sprintf("Sorry. There is no user %s.", alias), err
	default:
		return "", err
	}
}

func (r *Router) list(ctx context.Context, cmd endpoint.Command) (string, error) {
	lines := []string{"banned: " + strings.Join(r.reg.BannedAliases(), " ")}
	for _, g := range r.reg.ListGames() {
		lines = append(lines, g.Name+": "+strings.Join(g.Aliases, " "))
	}
	return strings.Join(lines, "\n"), nil
}

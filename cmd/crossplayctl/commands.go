package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/crossplay/internal/attrs"
)

// call builds a command whose RunE sends one request and prints the result.
func call(opts *cliOptions, use, short string, args cobra.PositionalArgs, request func(args []string) (method, path string, body any, err error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, path, body, err := request(args)
			if err != nil {
				return err
			}
			api, err := opts.api()
			if err != nil {
				return err
			}
			return api.print(cmd.Context(), method, path, body)
		},
	}
}

func fixed(method, path string) func([]string) (string, string, any, error) {
	return func([]string) (string, string, any, error) {
		return method, path, nil, nil
	}
}

func newLoginCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "login", "Log the local player into the cross-play backend", cobra.NoArgs, fixed(http.MethodPost, "/login"))
}

func newLogoutCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "logout", "Leave session and lobby and log out", cobra.NoArgs, fixed(http.MethodPost, "/logout"))
}

func newMeCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "me", "Show the local identity", cobra.NoArgs, fixed(http.MethodGet, "/me"))
}

func newFriendsCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "friends", "List platform friends with a cross-play identity", cobra.NoArgs, fixed(http.MethodGet, "/friends"))
}

func newUserCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "user [canonical-id]", "Resolve a user through the directory", cobra.ExactArgs(1),
		func(args []string) (string, string, any, error) {
			return http.MethodGet, "/users/" + url.PathEscape(args[0]), nil, nil
		})
}

func newAvatarsCmd(opts *cliOptions) *cobra.Command {
	return call(opts, "avatars [canonical-id...]", "Fetch avatars for resolved users", cobra.MinimumNArgs(1),
		func(args []string) (string, string, any, error) {
			return http.MethodPost, "/avatars", map[string]any{"user_ids": args}, nil
		})
}

func newLobbyCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Lobby commands",
	}

	var maxMembers int
	create := call(opts, "create", "Create a lobby", cobra.NoArgs,
		func([]string) (string, string, any, error) {
			return http.MethodPost, "/lobby", map[string]any{"max_members": maxMembers}, nil
		})
	create.Flags().IntVar(&maxMembers, "max-members", 0, "Lobby capacity (0 uses the configured default)")

	var byUser bool
	join := call(opts, "join [lobby-id|user-id]", "Join a lobby by id, or by a member's id with --user", cobra.ExactArgs(1),
		func(args []string) (string, string, any, error) {
			if byUser {
				return http.MethodPost, "/lobby/join", map[string]any{"user_id": args[0]}, nil
			}
			return http.MethodPost, "/lobby/join", map[string]any{"lobby_id": args[0]}, nil
		})
	join.Flags().BoolVar(&byUser, "user", false, "Treat the argument as a member's canonical id")

	cmd.AddCommand(
		create,
		join,
		call(opts, "leave", "Leave the current lobby", cobra.NoArgs, fixed(http.MethodPost, "/lobby/leave")),
		call(opts, "show", "Show the current lobby", cobra.NoArgs, fixed(http.MethodGet, "/lobby")),
		call(opts, "members", "List the current lobby's members", cobra.NoArgs, fixed(http.MethodGet, "/lobby/members")),
		call(opts, "set [key=type:value...]", "Update lobby attributes (owner only)", cobra.MinimumNArgs(1),
			func(args []string) (string, string, any, error) {
				list, err := parseAttributes(args)
				return http.MethodPut, "/lobby/attributes", map[string]any{"attributes": list}, err
			}),
	)
	return cmd
}

func newSessionCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session commands",
	}

	var (
		name       string
		maxMembers int
		initial    []string
	)
	create := call(opts, "create", "Create a session from the current lobby", cobra.NoArgs,
		func([]string) (string, string, any, error) {
			list, err := parseAttributes(initial)
			if err != nil {
				return "", "", nil, err
			}
			return http.MethodPost, "/session", map[string]any{
				"name":        name,
				"max_members": maxMembers,
				"attributes":  list,
			}, nil
		})
	create.Flags().StringVar(&name, "name", "", "Session name (defaults to the lobby id)")
	create.Flags().IntVar(&maxMembers, "max-members", 0, "Session capacity (0 uses the lobby's)")
	create.Flags().StringArrayVar(&initial, "attr", nil, "Initial attribute key=type:value (repeatable)")

	cmd.AddCommand(
		create,
		call(opts, "join [session-id]", "Join a session by handle", cobra.ExactArgs(1),
			func(args []string) (string, string, any, error) {
				return http.MethodPost, "/session/join", map[string]any{"session_id": args[0]}, nil
			}),
		call(opts, "leave", "Leave the current session", cobra.NoArgs, fixed(http.MethodPost, "/session/leave")),
		call(opts, "show", "Show the current session", cobra.NoArgs, fixed(http.MethodGet, "/session")),
		call(opts, "set [key=type:value...]", "Update session attributes (owner only)", cobra.MinimumNArgs(1),
			func(args []string) (string, string, any, error) {
				list, err := parseAttributes(args)
				return http.MethodPut, "/session/attributes", map[string]any{"attributes": list}, err
			}),
		call(opts, "invite [user-id]", "Invite a player to the current session", cobra.ExactArgs(1),
			func(args []string) (string, string, any, error) {
				return http.MethodPost, "/session/invites", map[string]any{"user_id": args[0]}, nil
			}),
		call(opts, "invites", "List pending session invites", cobra.NoArgs, fixed(http.MethodGet, "/session/invites")),
		call(opts, "accept [invite-id]", "Accept a pending session invite", cobra.ExactArgs(1),
			func(args []string) (string, string, any, error) {
				return http.MethodPost, "/session/invites/" + url.PathEscape(args[0]) + "/accept", nil, nil
			}),
	)
	return cmd
}

// parseAttributes reads key=type:value pairs. type is one of bool, string,
// int and double; a value without a type prefix is a string.
func parseAttributes(args []string) ([]attrs.Attribute, error) {
	out := make([]attrs.Attribute, 0, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=type:value", arg)
		}
		value, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		out = append(out, attrs.Attribute{Key: key, Value: value})
	}
	return out, nil
}

func parseValue(raw string) (attrs.Value, error) {
	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return attrs.String(raw), nil
	}
	switch strings.ToLower(kind) {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return attrs.Value{}, err
		}
		return attrs.Bool(b), nil
	case "int", "int64":
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return attrs.Value{}, err
		}
		return attrs.Int64(i), nil
	case "double", "float":
		d, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return attrs.Value{}, err
		}
		return attrs.Double(d), nil
	case "string":
		return attrs.String(value), nil
	default:
		return attrs.String(raw), nil
	}
}

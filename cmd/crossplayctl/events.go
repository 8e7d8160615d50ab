package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newEventsCmd(opts *cliOptions) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream identity, lobby and session events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := opts.api()
			if err != nil {
				return err
			}
			target, err := eventsURL(api.baseURL, topic)
			if err != nil {
				return err
			}
			header := http.Header{}
			if api.token != "" {
				header.Set("Authorization", "Bearer "+api.token)
			}
			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial events: %w (http %d)", err, resp.StatusCode)
				}
				return fmt.Errorf("dial events: %w", err)
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				_ = conn.Close()
			}()

			enc := json.NewEncoder(os.Stdout)
			for {
				var ev json.RawMessage
				if err := conn.ReadJSON(&ev); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Only stream one topic (identity, lobby or session)")
	return cmd
}

// eventsURL turns the http base URL into the websocket events endpoint.
func eventsURL(baseURL, topic string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events/ws"
	if topic = strings.TrimSpace(topic); topic != "" {
		u.RawQuery = url.Values{"topic": {topic}}.Encode()
	}
	return u.String(), nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	router "github.com/dkeye/p2pcall/internal/adapters/http"
	"github.com/dkeye/p2pcall/internal/app/orch"
	"github.com/dkeye/p2pcall/internal/app/playout"
	"github.com/dkeye/p2pcall/internal/domain"
)

// apiClient talks to the control API of a running agent.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is a non-2xx control API reply.
type apiError struct {
	Status int
	Body   router.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Body.Kind, e.Body.Error)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Body.Error)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Body); err != nil {
			apiErr.Body.Error = resp.Status
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) calls(ctx context.Context) ([]orch.CallInfo, error) {
	var out []orch.CallInfo
	return out, c.do(ctx, http.MethodGet, "/api/calls", nil, &out)
}

func (c *apiClient) start(ctx context.Context, id domain.CallID, initiator bool) (orch.CallInfo, error) {
	var out orch.CallInfo
	err := c.do(ctx, http.MethodPost, "/api/calls", router.StartCallRequest{CallID: id, Initiator: initiator}, &out)
	return out, err
}

func (c *apiClient) mute(ctx context.Context, id domain.CallID, muted bool) error {
	return c.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(string(id))+"/mute", router.MuteRequest{Muted: &muted}, nil)
}

func (c *apiClient) hangup(ctx context.Context, id domain.CallID) error {
	return c.do(ctx, http.MethodDelete, "/api/calls/"+url.PathEscape(string(id)), nil, nil)
}

func (c *apiClient) stats(ctx context.Context, id domain.CallID) (playout.Stats, error) {
	var out playout.Stats
	err := c.do(ctx, http.MethodGet, "/api/calls/"+url.PathEscape(string(id))+"/stats", nil, &out)
	return out, err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCallsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "calls",
		Short: "List the active calls of a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			calls, err := client().calls(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, calls)
		},
	}
}

func newCallCmd(client func() *apiClient) *cobra.Command {
	var initiator bool
	cmd := &cobra.Command{
		Use:   "call [call-id]",
		Short: "Open a call; a new id is generated when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id domain.CallID
			if len(args) == 1 {
				id = domain.CallID(args[0])
			}
			info, err := client().start(cmd.Context(), id, initiator)
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
	cmd.Flags().BoolVar(&initiator, "initiator", true, "send the offer; false waits for the peer's offer")
	return cmd
}

func newMuteCmd(client func() *apiClient) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "mute <call-id>",
		Short: "Mute the local audio of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().mute(cmd.Context(), domain.CallID(args[0]), !off)
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "unmute instead")
	return cmd
}

func newHangupCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "hangup <call-id>",
		Short: "End a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().hangup(cmd.Context(), domain.CallID(args[0]))
		},
	}
}

func newStatsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <call-id>",
		Short: "Show inbound audio counters of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := client().stats(cmd.Context(), domain.CallID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

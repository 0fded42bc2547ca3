package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/dkeye/p2pcall/internal/config"
)

func main() {
	if err := fang.Execute(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "p2pcall",
		Short: "Peer-to-peer audio call agent",
		Long: "Runs the call agent: joins the signaling server, negotiates direct WebRTC audio\n" +
			"calls and serves a local control API. Subcommands drive a running agent.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), cmd.Flags())
		},
	}
	config.RegisterFlags(cmd.Flags())

	var api string
	cmd.PersistentFlags().StringVar(&api, "api", "http://127.0.0.1:8090", "control API of a running agent")
	client := func() *apiClient { return newAPIClient(api) }

	cmd.AddCommand(
		newCallsCmd(client),
		newCallCmd(client),
		newMuteCmd(client),
		newHangupCmd(client),
		newStatsCmd(client),
	)
	return cmd
}

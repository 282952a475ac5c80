package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

type clientFunc func() *apiClient

// printJSON writes v indented, the common output of every command.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getAndPrint(client clientFunc, path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		var out json.RawMessage
		if err := client().do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	}
}

func newStatusCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and settings",
		Args:  cobra.NoArgs,
		RunE:  getAndPrint(client, "/status"),
	}
}

func newOverviewCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show chat totals for the current channel",
		Args:  cobra.NoArgs,
		RunE:  getAndPrint(client, "/overview"),
	}
}

func newGiveawayCmd(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "giveaway",
		Short: "Inspect and run the giveaway",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show entrants, winner and the winner's messages",
			Args:  cobra.NoArgs,
			RunE:  getAndPrint(client, "/giveaway"),
		},
		&cobra.Command{
			Use:   "draw",
			Short: "Draw a winner among the entrants",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Drawn  bool `json:"drawn"`
					Winner *struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"winner"`
				}
				if err := client().do(cmd.Context(), http.MethodPost, "/admin/giveaway/draw", nil, &out); err != nil {
					return err
				}
				if !out.Drawn || out.Winner == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no entrants")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "winner: %s (%s)\n", out.Winner.Name, out.Winner.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove entrants, winner and winner messages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := client().do(cmd.Context(), http.MethodPost, "/admin/giveaway/clear", nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "giveaway cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "prefix <text>",
			Short: "Set the text a message must start with to enter",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body := map[string]string{"prefix": strings.Join(args, " ")}
				var out json.RawMessage
				if err := client().do(cmd.Context(), http.MethodPut, "/admin/giveaway/prefix", body, &out); err != nil {
					return err
				}
				return printJSON(cmd, out)
			},
		},
	)
	return cmd
}

func newChannelCmd(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage the followed channel",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <name>",
		Short: "Follow a different channel (empty string stops ingestion)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"twitch_channel": args[0]}
			var out json.RawMessage
			if err := client().do(cmd.Context(), http.MethodPut, "/admin/settings", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	})
	return cmd
}

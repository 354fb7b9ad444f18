package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCatalogCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Discover and print the merged tool catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gateway, err := buildGateway(opts)
			if err != nil {
				return err
			}
			defer func() { _ = gateway.Close() }()

			results := gateway.Aggregator.DiscoverAll(cmd.Context(), opts.userID)
			return printDiscovery(results, opts.jsonOutput)
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-connection availability for the current user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gateway, err := buildGateway(opts)
			if err != nil {
				return err
			}
			defer func() { _ = gateway.Close() }()

			statuses := gateway.Aggregator.Status(cmd.Context(), opts.userID)
			return printStatuses(statuses, opts.jsonOutput)
		},
	}
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <connection.tool>",
		Short: "Invoke one tool by its qualified name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs json.RawMessage
			if argsJSON != "" {
				if !json.Valid([]byte(argsJSON)) {
					return fmt.Errorf("--args must be valid JSON")
				}
				toolArgs = json.RawMessage(argsJSON)
			}

			gateway, err := buildGateway(opts)
			if err != nil {
				return err
			}
			defer func() { _ = gateway.Close() }()

			result, err := gateway.Aggregator.Invoke(cmd.Context(), opts.userID, args[0], toolArgs)
			if err != nil {
				return err
			}
			return printResult(result, opts.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}

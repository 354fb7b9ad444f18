package main

import (
	"encoding/json"
	"fmt"

	"toolgate/internal/domain"
)

func writeJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printDiscovery(results []domain.DiscoveryResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{"connections": results})
	}
	for _, res := range results {
		if !res.Available() {
			fmt.Printf("%s\t%s\t%s\n", res.Connection, res.Availability, res.Detail)
			continue
		}
		fmt.Printf("%s\tok\ttools=%d\n", res.Connection, len(res.Tools))
		for _, tool := range res.Tools {
			if tool.Description != "" {
				fmt.Printf("  %s\t%s\n", tool.QualifiedName, tool.Description)
			} else {
				fmt.Printf("  %s\n", tool.QualifiedName)
			}
		}
	}
	return nil
}

func printStatuses(statuses []domain.ConnectionStatus, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{"connections": statuses})
	}
	for _, status := range statuses {
		line := fmt.Sprintf("%s\t%s\ttools=%d", status.Connection, status.Availability, status.ToolCount)
		if status.Detail != "" {
			line += "\t" + status.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func printResult(result domain.ToolResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{
			"isError": result.IsError,
			"result":  json.RawMessage(result.ResultJSON),
		})
	}
	if result.IsError {
		fmt.Println("tool reported an error:")
	}
	fmt.Println(string(result.ResultJSON))
	return nil
}

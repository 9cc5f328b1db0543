package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func outputFormat(cmd *cobra.Command) string {
	flag := cmd.Flag("format")
	if flag == nil {
		return formatJSON
	}
	return strings.ToLower(strings.TrimSpace(flag.Value.String()))
}

func writeOutput(cmd *cobra.Command, value any) error {
	return renderOutput(cmd.OutOrStdout(), outputFormat(cmd), value)
}

func renderOutput(writer io.Writer, format string, value any) error {
	switch format {
	case formatJSON, "":
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case formatYAML, "yml":
		encoder := yaml.NewEncoder(writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

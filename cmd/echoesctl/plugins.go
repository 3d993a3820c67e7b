package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echoes-blog/echoes/internal/plugin"
)

func newPluginsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List, enable, disable and configure plugins",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered plugins",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				var infos []plugin.PluginInfo
				if err := c.Get(cmd.Context(), "/api/plugins", &infos); err != nil {
					return fmt.Errorf("failed to list plugins: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintln(out, "No plugins registered.")
					return nil
				}
				fmt.Fprintf(out, "%-16s  %-8s  %-8s  %s\n", "NAME", "VERSION", "ENABLED", "DESCRIPTION")
				for _, info := range infos {
					m := info.Manifest
					fmt.Fprintf(out, "%-16s  %-8s  %-8t  %s\n", m.Name, m.Version, info.Enabled, m.Description)
				}
				return nil
			},
		},
		pluginActionCmd(flags, "enable"),
		pluginActionCmd(flags, "disable"),
		&cobra.Command{
			Use:   "config <name> <key=json>...",
			Short: "Set plugin settings; values are JSON, bare words are strings",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseAssignments(args[1:])
				if err != nil {
					return err
				}
				c, err := flags.client()
				if err != nil {
					return err
				}
				if err := c.Put(cmd.Context(), "/api/plugins/"+url.PathEscape(args[0])+"/config", values, nil); err != nil {
					return fmt.Errorf("failed to configure %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s configured\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func pluginActionCmd(flags *globalFlags, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <name>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if err := c.Post(cmd.Context(), "/api/plugins/"+url.PathEscape(args[0])+"/"+action, nil, nil); err != nil {
				return fmt.Errorf("failed to %s %s: %w", action, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s %sd\n", args[0], action)
			return nil
		},
	}
}

// parseAssignments turns key=value pairs into a settings body.
func parseAssignments(pairs []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		if !json.Valid([]byte(raw)) {
			quoted, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			raw = string(quoted)
		}
		out[key] = json.RawMessage(raw)
	}
	return out, nil
}

func newCapabilityCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <capability> [json-arg]...",
		Short: "Run a capability on the site and print every outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := make([]json.RawMessage, 0, len(args)-1)
			for _, a := range args[1:] {
				if !json.Valid([]byte(a)) {
					quoted, _ := json.Marshal(a)
					a = string(quoted)
				}
				callArgs = append(callArgs, json.RawMessage(a))
			}
			c, err := flags.client()
			if err != nil {
				return err
			}

			var outcomes []struct {
				Source string          `json:"source"`
				Value  json.RawMessage `json:"value,omitempty"`
				Error  string          `json:"error,omitempty"`
			}
			body := map[string]any{"args": callArgs}
			if err := c.Post(cmd.Context(), "/api/capabilities/"+url.PathEscape(args[0]), body, &outcomes); err != nil {
				return fmt.Errorf("failed to call %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if len(outcomes) == 0 {
				fmt.Fprintf(out, "No plugin provides %s.\n", args[0])
				return nil
			}
			for _, o := range outcomes {
				if o.Error != "" {
					fmt.Fprintf(out, "%-16s  error: %s\n", o.Source, o.Error)
					continue
				}
				fmt.Fprintf(out, "%-16s  %s\n", o.Source, o.Value)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/echoes-blog/echoes/internal/setup"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the install step and the active theme",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var st setup.Status
			if err := c.Get(cmd.Context(), "/api/setup/status", &st); err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Step:           %d\n", st.Step)
			fmt.Fprintf(out, "Setup required: %t\n", st.SetupRequired)
			fmt.Fprintf(out, "Initialized:    %t\n", st.Initialized)
			if st.Theme != "" {
				fmt.Fprintf(out, "Theme:          %s\n", st.Theme)
			}
			if st.Error != "" {
				fmt.Fprintf(out, "Last error:     %s (%s)\n", st.Error, st.ErrorKind)
			}
			return nil
		},
	}
}

func newStepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "step <n>",
		Short: "Record the install step; 3 or above initializes the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("step must be a non-negative integer, got %q", args[0])
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			var resp struct {
				Step int `json:"step"`
			}
			if err := c.Post(cmd.Context(), "/api/setup/step", map[string]int{"step": n}, &resp); err != nil {
				return fmt.Errorf("failed to set step: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Install step set to %d\n", resp.Step)
			return nil
		},
	}
}

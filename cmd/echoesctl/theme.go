package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/theme"
)

func newThemeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Work with theme bundles on disk",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a theme bundle: manifest, templates and layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if info, err := os.Stat(dir); err != nil {
				return err
			} else if !info.IsDir() {
				dir = filepath.Dir(dir)
			}

			reg := theme.NewRegistry(theme.Options{Logger: logging.Discard()})
			d, err := reg.RegisterBundle(os.DirFS(dir))
			if err != nil {
				return fmt.Errorf("invalid theme: %w", err)
			}
			skipped := 0
			for key, ref := range d.Templates {
				// Templates written in Go register their own loader at startup.
				if !reg.Has(d.Name, ref.Path) {
					skipped++
					continue
				}
				if _, err := reg.LoadTemplate(cmd.Context(), d.Name, ref.Path); err != nil {
					return fmt.Errorf("template %s (%s): %w", key, ref.Path, err)
				}
			}
			if d.GlobalSettings != nil && d.GlobalSettings.Layout != "" {
				if _, err := reg.LoadLayout(cmd.Context(), d.Name, d.LayoutPath()); err != nil {
					return fmt.Errorf("layout %s: %w", d.LayoutPath(), err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Theme %s %s is valid (%d templates, %d settings)\n",
				d.Name, d.Version, len(d.Templates)-skipped, len(d.Configuration))
			if skipped > 0 {
				fmt.Fprintf(out, "  %d template(s) have no file in the bundle and must be provided in code\n", skipped)
			}
			return nil
		},
	})
	return cmd
}

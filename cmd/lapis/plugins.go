package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amaumene/lapis/internal/plugins"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the loaded importers and exporters in resolution order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg, logger)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tNAME\tVERSION\tPRIORITY\tCONCURRENCY\tRULES")
		for _, desc := range append(registry.Importers(), registry.Exporters()...) {
			printDescriptor(w, desc)
		}
		return w.Flush()
	},
}

func printDescriptor(w *tabwriter.Writer, desc plugins.Descriptor) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
		desc.Kind, desc.Name, desc.Version, desc.Priority, desc.MaxConcurrency, strings.Join(desc.Rules, " "))
}

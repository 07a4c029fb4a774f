// File: cmd/objstore/providers_cmd.go
package main

import (
	"fmt"

	"objstore/internal/provider/registry"
	"objstore/pkg/common"
	"objstore/pkg/formatter"

	"github.com/spf13/cobra"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported storage providers",
		Long:  `Lists every supported storage provider and whether a default store is configured for it. Providers can also be reached by URL without any configuration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			table := formatter.NewTable([]string{"PROVIDER", "NAME", "CONFIGURED"})
			for _, name := range registry.GetSupportedProviders() {
				configured := "no"
				if app.ProviderFactory.IsConfigured(name) {
					configured = "yes"
				}
				table.AddRow([]string{name, common.Provider(name).DisplayName(), configured})
			}
			fmt.Println(table.String())

			supported := registry.GetSupportedProviders()
			fmt.Printf("%d of %d providers configured\n", len(app.ProviderFactory.GetConfiguredProviders()), len(supported))
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/marginal"
)

func familiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "families",
		Short: "List supported marginal and copula families",
		RunE:  runFamilies,
	}
	cmd.Flags().Bool("json", false, "Emit machine-readable JSON")
	return cmd
}

func runFamilies(cmd *cobra.Command, args []string) error {
	marginals := marginal.Families()
	copulas := copula.Families()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(map[string]any{
			"marginals": marginals,
			"copulas":   copulas,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("Marginal families:")
	for _, f := range marginals {
		fmt.Printf("  %s\n", f)
	}
	fmt.Println("Copula families:")
	for _, f := range copulas {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

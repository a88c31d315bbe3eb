package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/engadi/gateway/adapters/sqlite"
)

var routesActiveOnly bool

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect configured routes",
	Long: `Inspect configured routes.

Routes define how incoming requests are matched and forwarded to
upstream services. They are managed at runtime through the admin API;
this command reads them straight from the store.

Examples:
  gateway routes list
  gateway routes list --active
  gateway routes get <route-id>`,
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all routes",
	RunE:  runRoutesList,
}

var routesGetCmd = &cobra.Command{
	Use:   "get <route-id>",
	Short: "Get route details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutesGet,
}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.AddCommand(routesListCmd)
	routesCmd.AddCommand(routesGetCmd)

	routesListCmd.Flags().BoolVar(&routesActiveOnly, "active", false, "show active routes only")
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	routeStore := sqlite.NewRouteStore(db)
	routes, err := routeStore.List(context.Background(), routesActiveOnly)
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}

	if len(routes) == 0 {
		fmt.Println("No routes found.")
		fmt.Println()
		fmt.Println("Create one through the admin API: POST /api/v1/gateway/routes")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATTERN\tMETHODS\tSERVICE\tTARGET\tAUTH\tPRIORITY\tACTIVE")
	fmt.Fprintln(w, "--\t-------\t-------\t-------\t------\t----\t--------\t------")

	for _, r := range routes {
		methods := "*"
		if len(r.Methods) > 0 {
			methods = strings.Join(r.Methods, ",")
		}
		auth := "no"
		if r.AuthRequired {
			auth = "yes"
		}
		active := "no"
		if r.Active {
			active = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Pattern, methods, r.TargetService, r.TargetBaseURL, auth, r.Priority, active)
	}

	w.Flush()
	return nil
}

func runRoutesGet(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	routeStore := sqlite.NewRouteStore(db)
	r, err := routeStore.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("route not found: %s", args[0])
	}

	methods := "*"
	if len(r.Methods) > 0 {
		methods = strings.Join(r.Methods, ", ")
	}
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Pattern:     %s\n", r.Pattern)
	fmt.Printf("Methods:     %s\n", methods)
	fmt.Printf("Service:     %s\n", r.TargetService)
	fmt.Printf("Target:      %s\n", r.TargetBaseURL)
	fmt.Printf("Auth:        %v\n", r.AuthRequired)
	fmt.Printf("Priority:    %d\n", r.Priority)
	if r.TimeoutMs > 0 {
		fmt.Printf("Timeout:     %dms\n", r.TimeoutMs)
	}
	if r.RetryCount > 0 {
		fmt.Printf("Retries:     %d\n", r.RetryCount)
	}
	fmt.Printf("Breaker:     %v\n", r.CircuitBreakerEnabled)
	fmt.Printf("Active:      %v\n", r.Active)
	fmt.Printf("Created:     %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	if !r.UpdatedAt.IsZero() {
		fmt.Printf("Updated:     %s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

package main

// coordinatorcmd.go holds the coordinator command group: the coordinator
// daemon, database migrations, the audit log reader, and tenant management.

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/oib/AITBC-sub002/modules/coordinator"
	"github.com/oib/AITBC-sub002/types"
)

var (
	auditFrom  uint64
	auditLimit int
	tenantAddr string
)

func coordinatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Coordinator commands",
		Long:  "Run the job coordinator or manage its database and tenants.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Long:  "Run the job lifecycle coordinator serving the client and miner endpoints.",
		Run: func(*cobra.Command, []string) {
			serve(roles{coordinator: true})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Migrate the coordinator database",
		Long:  "Apply pending schema migrations to the configured database and exit.",
		Run:   migratecmd,
	})

	auditCmd := &cobra.Command{
		Use:   "audit-log",
		Short: "Print the coordinator audit log",
		Long:  "Print the coordinator's append-only audit trail of job transitions and money movements.",
		Run:   auditlogcmd,
	}
	auditCmd.Flags().Uint64Var(&auditFrom, "from", 0, "first sequence number to print")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum number of events")
	cmd.AddCommand(auditCmd)

	tenantsCmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
		Long:  "List, add, or remove the client organizations with API access.",
		Run:   tenantslistcmd,
	}
	tenantsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Long:  "List tenants.",
		Run:   tenantslistcmd,
	})
	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a tenant",
		Long:  "Add a tenant. The generated api key is printed once and stored only as a hash.",
		Run:   tenantsaddcmd,
	}
	addCmd.Flags().StringVar(&tenantAddr, "address", "", "the tenant's billing address")
	tenantsCmd.AddCommand(addCmd)
	tenantsCmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a tenant",
		Long:  "Remove a tenant, revoking its api key.",
		Run:   tenantsremovecmd,
	})
	cmd.AddCommand(tenantsCmd)

	return cmd
}

func migratecmd(*cobra.Command, []string) {
	cfg, err := loadConfig()
	if err != nil {
		die(exitConfig, "Configuration error:", err)
	}
	if cfg.Coordinator.DatabaseURL == "" {
		die(exitConfig, "Configuration error: migrate needs DATABASE_URL")
	}
	db, err := sql.Open("postgres", cfg.Coordinator.DatabaseURL)
	if err != nil {
		die(exitMigration, "Could not open the database:", err)
	}
	defer db.Close()
	if err := coordinator.Migrate(db); err != nil {
		die(exitMigration, "Migration failed:", err)
	}
	fmt.Println("Database is up to date.")
}

func auditlogcmd(*cobra.Command, []string) {
	events, err := operatorClient().Audit(auditFrom, auditLimit)
	if err != nil {
		die(exitSemantic, "Could not read the audit log:", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Seq\tTime\tJob\tKind\tDetail")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Timestamp.Time().Format(time.RFC3339), e.JobID, e.Kind, e.Detail)
	}
	w.Flush()
}

func tenantslistcmd(*cobra.Command, []string) {
	tenants, err := operatorClient().Tenants()
	if err != nil {
		die(exitSemantic, "Could not list tenants:", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tName\tAddress\tDisabled")
	for _, t := range tenants {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", t.ID, t.Name, t.Address, t.Disabled)
	}
	w.Flush()
}

func tenantsaddcmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.UsageFunc()(cmd)
		die(exitSemantic, "tenants add needs a name")
	}
	var addr types.Address
	if err := addr.LoadString(tenantAddr); err != nil {
		die(exitSemantic, "--address is missing or malformed:", err)
	}
	resp, err := operatorClient().AddTenant(args[0], addr)
	if err != nil {
		die(exitSemantic, "Could not add the tenant:", err)
	}
	fmt.Println("Added tenant", resp.Tenant.ID)
	fmt.Println("\tapi key (shown once):", resp.APIKey)
}

func tenantsremovecmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.UsageFunc()(cmd)
		die(exitSemantic, "tenants remove needs a tenant id")
	}
	if err := operatorClient().RemoveTenant(args[0]); err != nil {
		die(exitSemantic, "Could not remove the tenant:", err)
	}
	fmt.Println("Removed tenant", args[0])
}

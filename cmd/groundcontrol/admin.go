package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Strob0t/GroundControl/internal/adapter/postgres"
	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "register-drone":
		return runAdminRegisterDrone(args[1:])
	case "delete-drone":
		return runAdminDeleteDrone(args[1:])
	case "list-drones":
		return runAdminListDrones(args[1:])
	case "history":
		return runAdminHistory(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: groundcontrol admin <command> [options]

Commands:
  migrate          Apply, roll back or show database migrations
  register-drone   Register a drone with the fleet
  delete-drone     Remove a drone from the fleet
  list-drones      List registered drones (--active, --module)
  history          List archived decision records
  help             Show this help message

Examples:
  groundcontrol admin migrate
  groundcontrol admin migrate --down 1
  groundcontrol admin register-drone --id alpha --name Alpha --sysid 1 --ip 10.0.0.11 --port 14550
  groundcontrol admin delete-drone --id alpha
  groundcontrol admin history --drone alpha --outcome rejected --limit 20
`)
}

func loadAdminPool() (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, nil
}

func runAdminMigrate(args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying")
	status := fs.Bool("status", false, "print the current schema version")
	yes := fs.BoolP("yes", "y", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		fmt.Printf("schema version: %d\n", v)
		return nil
	case *down > 0:
		if !*yes {
			ok, err := confirm(fmt.Sprintf("Roll back %d migration(s)? Archived decisions may be lost.", *down))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("aborted")
			}
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
		return nil
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
		return nil
	}
}

func runAdminRegisterDrone(args []string) error {
	fs := pflag.NewFlagSet("register-drone", pflag.ContinueOnError)
	id := fs.String("id", "", "drone ID (required)")
	name := fs.String("name", "", "display name (required)")
	sysID := fs.Int("sysid", 0, "MAVLink system ID (required)")
	ip := fs.String("ip", "", "vehicle bridge address (required)")
	port := fs.Int("port", 0, "vehicle bridge port (required)")
	color := fs.String("color", "", "console color")
	module := fs.String("module", "", "active mission module")
	inactive := fs.Bool("inactive", false, "register the drone as inactive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	active := !*inactive
	req := drone.RegisterRequest{
		ID:           *id,
		Name:         *name,
		SysID:        *sysID,
		IP:           *ip,
		Port:         *port,
		Color:        *color,
		ActiveModule: *module,
		Active:       &active,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	_, pool, err := loadAdminPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	d, err := postgres.NewStore(pool).CreateDrone(context.Background(), req)
	if err != nil {
		return fmt.Errorf("register drone: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Drone registered: %s (sysid=%d, active=%t)\n", d.ID, d.SysID, d.Active)
	return nil
}

func runAdminDeleteDrone(args []string) error {
	fs := pflag.NewFlagSet("delete-drone", pflag.ContinueOnError)
	id := fs.String("id", "", "drone ID (required)")
	yes := fs.BoolP("yes", "y", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	if !*yes {
		ok, err := confirm(fmt.Sprintf("Delete drone %s?", *id))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}

	_, pool, err := loadAdminPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.NewStore(pool).DeleteDrone(context.Background(), *id); err != nil {
		return fmt.Errorf("delete drone: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Drone deleted: %s\n", *id)
	return nil
}

func runAdminListDrones(args []string) error {
	fs := pflag.NewFlagSet("list-drones", pflag.ContinueOnError)
	active := fs.String("active", "", "only active (true) or inactive (false) drones")
	module := fs.String("module", "", "only drones flying this mission module")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := drone.ListFilter{Module: *module}
	if *active != "" {
		v, err := strconv.ParseBool(*active)
		if err != nil {
			return fmt.Errorf("--active must be true or false: %w", err)
		}
		filter.Active = &v
	}

	_, pool, err := loadAdminPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	drones, err := postgres.NewStore(pool).ListDrones(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("list drones: %w", err)
	}
	if len(drones) == 0 {
		fmt.Println("No drones registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSYSID\tADDRESS\tMODULE\tACTIVE\tCONNECTED\tLAST_SEEN")
	for i := range drones {
		d := &drones[i]
		lastSeen := "-"
		if d.LastSeenAt != nil {
			lastSeen = d.LastSeenAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s:%d\t%s\t%t\t%t\t%s\n",
			d.ID, d.Name, d.SysID, d.IP, d.Port, d.ActiveModule, d.Active, d.Connected, lastSeen)
	}
	return w.Flush()
}

func runAdminHistory(args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	droneID := fs.String("drone", "", "only records for this drone")
	outcome := fs.String("outcome", "", "only records with this outcome")
	since := fs.Duration("since", 0, "only records resolved within this window, e.g. 24h")
	offset := fs.Int("offset", 0, "records to skip")
	limit := fs.Int("limit", decision.DefaultPageLimit, "maximum records to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := decision.Filter{DroneID: *droneID}
	if *outcome != "" {
		if !decision.ValidOutcome(*outcome) {
			return fmt.Errorf("unknown outcome %q", *outcome)
		}
		filter.Outcome = decision.Outcome(*outcome)
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	page := decision.Page{Offset: *offset, Limit: *limit}.Normalize()

	_, pool, err := loadAdminPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	records, err := postgres.NewRecordArchive(pool).ListRecords(context.Background(), filter, page)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No archived decisions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RESOLVED_AT\tDECISION\tDRONE\tTOOL\tRISK\tOUTCOME\tRESOLVED_BY\tERROR")
	for i := range records {
		rec := &records[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			rec.ResolvedAt.Format(time.RFC3339),
			rec.Decision.ID,
			rec.Decision.Request.DroneID,
			rec.Decision.Request.ToolName,
			rec.Decision.RiskScore.Value,
			rec.Outcome,
			dash(rec.ResolvedBy),
			dash(rec.Error),
		)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// confirm asks a yes/no question on the terminal. It refuses to guess when
// stdin is not a terminal; pass --yes in scripts.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Package main provides the fleet charging optimizer entry point and CLI interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/fleet-optimizer/config"
	"github.com/devskill-org/fleet-optimizer/controller"
	"github.com/devskill-org/fleet-optimizer/models"
	"github.com/devskill-org/fleet-optimizer/optimizer"
	"github.com/devskill-org/fleet-optimizer/server"
	"github.com/devskill-org/fleet-optimizer/store"
)

func main() {
	// Command line flags
	var (
		configFile  = flag.String("config", "config.json", "Configuration file path")
		mode        = flag.String("mode", "unified", "Run mode: allocate, schedule, unified, workflow, serve")
		siteID      = flag.Int("siteID", 0, "Site to optimize (required except in serve mode)")
		startTime   = flag.String("startTime", "", "Run clock override (YYYY-MM-DD HH:MM:SS, UTC), defaults to now")
		scheduleID  = flag.Int64("scheduleID", 0, "Resume an existing schedule instead of creating one")
		routeSource = flag.String("routeSource", "", "Vehicle-route binding source: allocated or route_plan")
		windowHours = flag.Float64("windowHours", 0, "Allocation window override in hours")
		noPersist   = flag.Bool("noPersist", false, "Solve without writing results to the database")
		help        = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	optimizer.SetEngineActive(cfg.EngineActive)

	logger := log.New(os.Stdout, cfg.LogPrefix, log.LstdFlags)

	ds, err := store.Open(cfg.PostgresConnString, logger)
	if err != nil {
		fmt.Println("Error connecting to database:", err)
		os.Exit(1)
	}
	defer ds.Close()

	if *mode == "serve" {
		runServer(cfg, ds, logger)
		return
	}

	if *siteID <= 0 {
		fmt.Println("Error: -siteID is required")
		os.Exit(1)
	}

	at := time.Now().UTC()
	if *startTime != "" {
		at, err = time.Parse("2006-01-02 15:04:05", *startTime)
		if err != nil {
			fmt.Println("Error: invalid -startTime, expected YYYY-MM-DD HH:MM:SS:", err)
			os.Exit(1)
		}
		at = at.UTC()
	}

	// A signal during a solve abandons the run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Printf("Shutdown signal received, abandoning run...")
		cancel()
		os.Exit(130)
	}()

	persist := !*noPersist

	switch *mode {
	case "allocate":
		runAllocation(ctx, cfg, ds, *siteID, at, persist, logger)
	case "schedule":
		runScheduling(ctx, cfg, ds, *siteID, *scheduleID, at, persist, *routeSource, logger)
	case "unified":
		runUnified(ctx, cfg, ds, *siteID, *scheduleID, at, persist, *routeSource, *windowHours, logger)
	case "workflow":
		runChainedWorkflow(ctx, ds, *siteID, at, persist, *routeSource, cfg, logger)
	default:
		fmt.Printf("Error: unknown mode %q\n", *mode)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the default config file is absent,
// so `-siteID 10` works without any file on disk.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.json" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func settingsFromConfig(cfg *config.Config) models.SchedulerSettings {
	s := controller.DefaultSchedulerSettings()
	s.PlanningWindowHours = cfg.PlanningWindowHours
	s.TargetSOCPercent = cfg.TargetSOCPercent
	s.MinSOCPercent = cfg.MinSOCPercent
	s.RouteEnergySafetyFactor = cfg.RouteEnergySafetyFactor
	s.MinDepartureBufferMin = int(cfg.MinDepartureBufferMin)
	s.BackToBackThresholdMin = int(cfg.BackToBackThresholdMin)
	s.TriadPenaltyFactor = cfg.TriadPenaltyFactor
	s.SyntheticTimePriceFactor = cfg.SyntheticTimePriceFactor
	s.PowerFactor = cfg.PowerFactor
	s.SiteUsageFactor = cfg.SiteUsageFactor
	return s
}

func runAllocation(ctx context.Context, cfg *config.Config, ds *store.Store, siteID int, at time.Time, persist bool, logger *log.Logger) {
	ac := controller.NewAllocationController(ds, siteID, "initial", cfg.AppName, persist, logger)

	result, err := ac.Run(ctx, at)
	if err != nil {
		fmt.Println("Allocation failed:", err)
		os.Exit(1)
	}

	printAllocationResult(result)
	if result.Status == models.AllocationStatusFailed {
		os.Exit(1)
	}
}

func runScheduling(ctx context.Context, cfg *config.Config, ds *store.Store, siteID int, scheduleID int64, at time.Time, persist bool, routeSource string, logger *log.Logger) {
	sc := controller.NewSchedulerController(ds, siteID, scheduleID, cfg.AppName, persist, logger)
	sc.Settings = settingsFromConfig(cfg)
	sc.TimeLimit = cfg.SchedulingTimeLimit
	if routeSource != "" {
		sc.RouteSource = models.RouteSourceMode(routeSource)
	}

	result, err := sc.Run(ctx, at)
	if err != nil {
		fmt.Println("Scheduling failed:", err)
		os.Exit(1)
	}

	printScheduleResult(result)
	if !result.ValidationPassed {
		os.Exit(1)
	}
}

func runUnified(ctx context.Context, cfg *config.Config, ds *store.Store, siteID int, scheduleID int64, at time.Time, persist bool, routeSource string, windowHours float64, logger *log.Logger) {
	uc := controller.NewUnifiedController(ds, siteID, cfg.AppName, persist, logger)
	uc.ScheduleID = scheduleID
	uc.Settings = settingsFromConfig(cfg)
	uc.Config.AllocationTimeLimit = cfg.AllocationTimeLimit
	uc.Config.SchedulingTimeLimit = cfg.SchedulingTimeLimit
	uc.Config.UnifiedTimeLimit = cfg.UnifiedTimeLimit
	uc.Config.CandidateCount = cfg.CandidateCount
	if routeSource != "" {
		uc.RouteSource = models.RouteSourceMode(routeSource)
	}
	if windowHours > 0 {
		uc.WindowHours = windowHours
	}

	result, err := uc.Run(ctx, at)
	if err != nil {
		fmt.Println("Unified optimization failed:", err)
		os.Exit(1)
	}

	fmt.Println("\n========================================")
	fmt.Println("UNIFIED OPTIMIZATION RESULT")
	fmt.Println("========================================")
	fmt.Printf("Mode:               %s\n", result.Mode)
	fmt.Printf("Status:             %s\n", result.Status)
	fmt.Printf("Combined objective: %.4f\n", result.CombinedObjective)
	fmt.Printf("Solve time:         %s\n", result.SolveTime.Round(time.Millisecond))

	if result.Allocation != nil {
		printAllocationResult(result.Allocation)
	}
	if result.Schedule != nil {
		printScheduleResult(result.Schedule)
	}

	rejected := result.Allocation != nil && result.Allocation.Status == models.AllocationStatusFailed
	invalid := result.Schedule != nil && !result.Schedule.ValidationPassed
	if rejected || invalid {
		os.Exit(1)
	}
}

func runChainedWorkflow(ctx context.Context, ds *store.Store, siteID int, at time.Time, persist bool, routeSource string, cfg *config.Config, logger *log.Logger) {
	opts := controller.WorkflowOptions{
		Trigger: "initial",
		Persist: persist,
	}
	if routeSource != "" {
		opts.RouteSource = models.RouteSourceMode(routeSource)
	}

	result, err := controller.RunWorkflow(ctx, ds, siteID, cfg.AppName, at, opts, logger)
	if err != nil {
		fmt.Println("Workflow failed:", err)
		os.Exit(1)
	}

	if result.Allocation != nil {
		printAllocationResult(result.Allocation)
	}
	if result.Schedule != nil {
		printScheduleResult(result.Schedule)
	}
	fmt.Printf("\nWorkflow completed in %s\n", result.Elapsed.Round(time.Millisecond))

	if result.Allocation != nil && result.Allocation.Status == models.AllocationStatusFailed {
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, ds *store.Store, logger *log.Logger) {
	srv := server.New(ds, cfg.AppName, cfg.ListenAddr, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	logger.Printf("Shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
	logger.Printf("Server stopped successfully")
}

func printAllocationResult(result *models.AllocationResult) {
	fmt.Println("\n========================================")
	fmt.Println("ROUTE ALLOCATION RESULT")
	fmt.Println("========================================")
	fmt.Printf("Status:           %s (solver: %s)\n", result.Status, result.SolverStatus)
	fmt.Printf("Total score:      %.4f\n", result.TotalScore)
	fmt.Printf("Routes allocated: %d of %d\n", result.RoutesAllocated, result.RoutesInWindow)

	if len(result.Allocations) > 0 {
		fmt.Println("┌────────────┬──────────────┬─────────────────────┬──────────┬──────────┐")
		fmt.Println("│  Vehicle   │    Route     │     Est. arrival    │ Arr. SOC │   Cost   │")
		fmt.Println("├────────────┼──────────────┼─────────────────────┼──────────┼──────────┤")
		for _, a := range result.Allocations {
			if !a.Allocated {
				continue
			}
			fmt.Printf("│ %10d │ %12s │ %19s │ %7.1f%% │ %8.4f │\n",
				a.VehicleID, a.RouteID, a.EstimatedArrival.Format("2006-01-02 15:04"), a.EstimatedArrivalSOC, a.Cost)
		}
		fmt.Println("└────────────┴──────────────┴─────────────────────┴──────────┴──────────┘")
	}

	if len(result.UnallocatedRoutes) > 0 {
		fmt.Printf("Unallocated routes: %v\n", result.UnallocatedRoutes)
	}
}

func printScheduleResult(result *models.ScheduleResult) {
	fmt.Println("\n========================================")
	fmt.Println("CHARGE SCHEDULE RESULT")
	fmt.Println("========================================")
	fmt.Printf("Schedule ID:    %d\n", result.ScheduleID)
	fmt.Printf("Status:         %s\n", result.OptimizationStatus)
	fmt.Printf("Window:         %s to %s\n",
		result.PlanningStart.Format("2006-01-02 15:04"), result.PlanningEnd.Format("2006-01-02 15:04"))
	fmt.Printf("Total energy:   %.2f kWh\n", result.TotalEnergyKWh)
	fmt.Printf("Total cost:     %.4f\n", result.TotalCost)

	if len(result.VehicleSchedules) > 0 {
		fmt.Println("┌────────────┬───────────┬───────────┬───────────┬───────┬────────┐")
		fmt.Println("│  Vehicle   │ Start SOC │ Final SOC │  Energy   │ Slots │ Routes │")
		fmt.Println("│            │   (kWh)   │   (kWh)   │   (kWh)   │       │  met   │")
		fmt.Println("├────────────┼───────────┼───────────┼───────────┼───────┼────────┤")
		for _, vs := range result.VehicleSchedules {
			met := "yes"
			if !vs.MeetsRouteRequirements {
				met = "NO"
			}
			fmt.Printf("│ %10d │  %7.2f  │  %7.2f  │  %7.2f  │ %5d │ %6s │\n",
				vs.VehicleID, vs.InitialSOCKWh, vs.FinalSOCKWh(), vs.TotalEnergyScheduled, len(vs.ChargeSlots), met)
		}
		fmt.Println("└────────────┴───────────┴───────────┴───────────┴───────┴────────┘")
	}

	if len(result.ValidationErrors) > 0 {
		fmt.Println("Validation errors:")
		for _, e := range result.ValidationErrors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func showHelp() {
	fmt.Println("Fleet Charging Optimizer - Allocate delivery routes to EVs and schedule depot charging")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Optimizes a single-depot electric delivery fleet in two coupled stages:")
	fmt.Println("  route allocation assigns planned routes to vehicles under shift, energy,")
	fmt.Println("  turnaround and charger constraints; charge scheduling plans half-hour")
	fmt.Println("  charging slots against electricity prices, site demand forecasts and the")
	fmt.Println("  agreed site capacity. The unified mode prices candidate allocations with")
	fmt.Println("  the scheduler and picks the cheapest combination.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  fleet-optimizer [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Integrated allocation and scheduling for site 10")
	fmt.Println("  fleet-optimizer -mode unified -siteID 10")
	fmt.Println()
	fmt.Println("  # Allocation only, pinned run clock, no database writes")
	fmt.Println("  fleet-optimizer -mode allocate -siteID 10 -startTime \"2026-02-11 04:00:00\" -noPersist")
	fmt.Println()
	fmt.Println("  # Schedule charging against the route plan's own vehicle bindings")
	fmt.Println("  fleet-optimizer -mode schedule -siteID 10 -routeSource route_plan")
	fmt.Println()
	fmt.Println("  # Run the HTTP API")
	fmt.Println("  fleet-optimizer -mode serve -config config.json")
	fmt.Println()
	fmt.Println("  # Show this help")
	fmt.Println("  fleet-optimizer -help")
}

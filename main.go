package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/oakmere/fleettrack/internal/api"
	"github.com/oakmere/fleettrack/internal/broadcast"
	"github.com/oakmere/fleettrack/internal/config"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/geofence"
	"github.com/oakmere/fleettrack/internal/ingest"
	"github.com/oakmere/fleettrack/internal/trip"
	"github.com/oakmere/fleettrack/internal/ws"
)

var (
	udpWorkers = flag.Int("udp-workers", 4, "Number of datagram processing workers")
	migrate    = flag.Bool("migrate", false, "Run pending schema migrations and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *migrate {
		// golang-migrate owns the schema here; the baseline applied by NewDB
		// would collide with migration 000001.
		store, err := db.OpenDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := store.MigrateUp(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		store.Close()
		log.Print("migrations applied")
		return
	}

	database, err := db.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	gpsBus := broadcast.NewGPSBus()
	responseBus := broadcast.NewResponseBus()
	logBus := broadcast.NewLogBus()

	server := api.NewWebServer(cfg, database)

	var router *ws.Router
	if cfg.BroadcasterEnabled {
		gpsRegistry := ws.NewRegistry("gps")
		logRegistry := ws.NewRegistry("logs")
		responseRegistry := ws.NewRegistry("response")
		// Retained responses flush to a reconnecting observer.
		responseRegistry.OnAttach = responseBus.Wake
		upgrader := ws.NewUpgrader(cfg.CORSAllowOrigins)

		router = ws.NewRouter(database, responseBus, gpsBus, nil)

		server.GPSObserver = func(w http.ResponseWriter, r *http.Request) {
			gpsRegistry.ServeObserver(upgrader, w, r)
		}
		server.LogObserver = func(w http.ResponseWriter, r *http.Request) {
			logRegistry.ServeObserver(upgrader, w, r)
		}
		server.RequestObserver = func(w http.ResponseWriter, r *http.Request) {
			router.ServeRequests(ctx, responseRegistry, upgrader, w, r)
		}

		// One long-lived dispatcher per bus.
		for _, run := range []func(){
			func() { gpsBus.Run(ctx, gpsRegistry) },
			func() { responseBus.Run(ctx, responseRegistry) },
			func() { logBus.Run(ctx, logRegistry) },
		} {
			wg.Add(1)
			go func(run func()) {
				defer wg.Done()
				run()
			}(run)
		}
	}

	if cfg.UDPEnabled {
		var gpsPub, logPub ingest.Publisher
		if cfg.BroadcasterEnabled {
			gpsPub, logPub = gpsBus, logBus
		}
		supervisor := ingest.NewSupervisor(database,
			geofence.NewEngine(database),
			trip.NewDetector(database, cfg.Trip),
			gpsPub, logPub, cfg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := supervisor.Run(ctx, *udpWorkers); err != nil && err != context.Canceled {
				log.Printf("UDP supervisor terminated: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("HTTP server terminated: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	if router != nil {
		router.Stop()
	}
	wg.Wait()
	log.Print("all routines stopped")
}

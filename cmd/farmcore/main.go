// Farm Core - supervisory control for livestock and greenhouse plant.
//
// This is the main entry point for the farm control core. It polls field
// I/O over Modbus RTU/TCP and S7, runs one supervised controller per fan,
// pump and siren, and layers interlocks, alarms and temperature staging on
// top. MQTT, SQLite history and InfluxDB telemetry are attached around the
// control loop and may fail without stopping it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/bridges/modbus"
	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/environment"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/gateway"
	"github.com/nerrad567/gray-logic-farm/internal/history"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-farm/internal/interlock"
	"github.com/nerrad567/gray-logic-farm/internal/plant"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
	"github.com/nerrad567/gray-logic-farm/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	mqttConnectWait   = 10 * time.Second
	influxConnectWait = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting farm core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(getEnvFile()); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Everything started below stops when ctx is cancelled. Deferred
	// waits and closes run in reverse order.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if serveErr := m.Serve(ctx, cfg.Metrics); serveErr != nil {
				log.Error("metrics listener stopped", "error", serveErr)
			}
		}()
		log.Info("metrics listener started", "listen", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
	}

	bus := events.NewBus()
	bus.SetLogger(log.Component("events"))
	defer bus.Close()

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)
	} else {
		log.Info("history database disabled")
	}

	mqttClient := connectMQTT(ctx, cfg, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient := connectInflux(ctx, cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	p, err := plant.Load(cfg.PlantFile)
	if err != nil {
		return fmt.Errorf("loading plant: %w", err)
	}
	log.Info("plant loaded",
		"path", cfg.PlantFile,
		"ports", len(p.Ports),
		"points", len(p.Points),
		"equipment", len(p.Equipment),
		"interlocks", len(p.Interlocks),
		"alarms", len(p.Alarms),
		"environment", p.Environment != nil,
	)

	ports, sims := p.Adapters()
	if len(sims) > 0 {
		log.Warn("simulator ports configured, no field I/O on these ports", "count", len(sims))
	}
	for _, port := range ports {
		if rtu, ok := port.Adapter.(*modbus.RTU); ok {
			rtu.SetLogger(log.Component("modbus").With("port", port.Name))
		}
	}

	store, err := datapoint.New(ports, p.Points, plant.StoreOptions(cfg.Engine.PollInterval, cfg.Engine.StaleAfterCycles))
	if err != nil {
		return fmt.Errorf("creating data point store: %w", err)
	}
	store.SetLogger(log.Component("datapoint"))
	store.SetMetrics(m)
	store.Start(ctx)
	defer func() {
		log.Info("stopping data point store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing data point store", "error", closeErr)
		}
	}()
	log.Info("data point store started", "poll_interval", cfg.Engine.PollInterval, "stale_after", cfg.Engine.StaleAfter())

	mgr, err := equipment.NewManager(store, p.Definitions(), equipment.Options{
		DebounceCycles: cfg.Engine.DefaultDebounceCycles,
		CommandTimeout: cfg.Engine.CommandTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating equipment manager: %w", err)
	}
	mgr.SetLogger(log.Component("equipment"))
	mgr.SetMetrics(m)
	mgr.SetPublisher(bus)

	interlocks, err := interlock.New(mgr, p.Interlocks)
	if err != nil {
		return fmt.Errorf("creating interlock engine: %w", err)
	}
	interlocks.SetLogger(log.Component("interlock"))
	mgr.SetInterlock(interlocks)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting equipment controllers: %w", err)
	}
	defer func() {
		cancel()
		mgr.Wait()
		log.Info("equipment controllers stopped")
	}()

	sup := supervisor.New()
	sup.SetLogger(log.Component("supervisor"))
	defer func() {
		cancel()
		sup.Wait()
	}()

	alarms, err := alarm.New(store, mgr, p.Alarms)
	if err != nil {
		return fmt.Errorf("creating alarm engine: %w", err)
	}
	alarms.SetLogger(log.Component("alarm"))
	alarms.SetMetrics(m)
	alarms.SetPublisher(bus)
	alarms.SetCommandTimeout(cfg.Engine.CommandTimeout)
	if err := alarms.Start(ctx, sup); err != nil {
		return fmt.Errorf("starting alarm engine: %w", err)
	}

	var envStatus gateway.EnvironmentService
	if p.Environment != nil {
		env, envErr := environment.New(store, mgr, *p.Environment)
		if envErr != nil {
			return fmt.Errorf("creating environment controller: %w", envErr)
		}
		env.SetLogger(log.Component("environment"))
		env.SetMetrics(m)
		env.SetPublisher(bus)
		env.SetCommandTimeout(cfg.Engine.CommandTimeout)
		if err := env.Start(ctx, sup); err != nil {
			return fmt.Errorf("starting environment controller: %w", err)
		}
		envStatus = env
	} else {
		log.Info("environment controller disabled")
	}

	if mqttClient != nil {
		gw := gateway.New(mqttClient, mgr, alarms, envStatus, gateway.Options{
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // QoS validated in config
			CommandTimeout: cfg.Engine.CommandTimeout,
		})
		gw.SetLogger(log.Component("gateway"))
		gw.SetMetrics(m)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			gw.PublishAll()
		})
		if err := gw.Subscribe(ctx); err != nil {
			log.Warn("MQTT command subscription failed, retried on reconnect", "error", err)
		}
		if err := gw.Start(ctx, sup, bus); err != nil {
			return fmt.Errorf("starting gateway: %w", err)
		}
	}

	if db != nil {
		rec, recErr := history.New(ctx, db, cfg.Database.Retention())
		if recErr != nil {
			return fmt.Errorf("creating history recorder: %w", recErr)
		}
		rec.SetLogger(log.Component("history"))
		rec.SetMetrics(m)
		if err := rec.Start(ctx, sup, bus); err != nil {
			return fmt.Errorf("starting history recorder: %w", err)
		}
	}

	if influxClient != nil {
		tel := telemetry.New(influxClient, store, bus)
		tel.SetLogger(log.Component("telemetry"))
		tel.SetMetrics(m)
		if err := tel.Start(ctx, sup); err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: supervised engines, equipment
	// controllers, store, InfluxDB, MQTT, database, bus.
	return nil
}

// connectMQTT connects to the broker. A broker that is down at startup is
// logged and the client keeps retrying in the background; control runs
// regardless.
func connectMQTT(ctx context.Context, cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}
	client := mqtt.New(cfg.MQTT, cfg.Site.ID)
	client.SetLogger(log.Component("mqtt"))
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectWait)
	defer cancel()
	broker := fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	if err := client.Connect(connectCtx); err != nil {
		log.Warn("MQTT unavailable, retrying in background", "broker", broker, "error", err)
		return client
	}
	log.Info("MQTT connected", "broker", broker, "client_id", cfg.MQTT.Broker.ClientID)
	return client
}

// connectInflux connects to InfluxDB. Failure is logged and control runs
// without telemetry.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.New(cfg.InfluxDB, cfg.Site.ID)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB misconfigured, continuing without telemetry", "error", err)
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, influxConnectWait)
	defer cancel()
	if err := client.Connect(pingCtx); err != nil {
		log.Warn("InfluxDB unavailable, continuing without telemetry", "error", err)
		client.Close() //nolint:errcheck // nothing buffered yet
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// getConfigPath returns the configuration file path.
// Uses FARMCORE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("FARMCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvFile returns the optional dotenv file path.
func getEnvFile() string {
	if path := os.Getenv("FARMCORE_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFile
}

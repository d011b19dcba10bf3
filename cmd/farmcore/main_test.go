package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const simPlant = `
ports:
  - name: sim
    protocol: sim
    sim:
      initial:
        temp: 26
      links:
        fan1.out: [fan1.fb]
points:
  - {name: FAN-1-OUT, port: sim, io: do, address: {key: fan1.out}}
  - {name: FAN-1-FB, port: sim, io: di, address: {key: fan1.fb}}
  - {name: TEMP-1, port: sim, io: ai, address: {key: temp}}
equipment:
  - name: FAN-1
    type: fan
    roles: {on_off_output: FAN-1-OUT, running_feedback: FAN-1-FB}
alarms:
  - name: FAN-FAULT
    logic: any
    clear: auto
    conditions:
      - {equipment: FAN-1, predicate: error}
environment:
  temperature_points: [TEMP-1]
  steps:
    - {target: 24, fans: [FAN-1]}
`

func writeFiles(t *testing.T, plant string) string {
	t.Helper()
	dir := t.TempDir()
	plantPath := filepath.Join(dir, "plant.yaml")
	if err := os.WriteFile(plantPath, []byte(plant), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := `
site:
  id: test-farm
engine:
  poll_interval: 100ms
plant_file: "` + plantPath + `"
database:
  enabled: true
  path: "` + filepath.Join(dir, "farmcore.db") + `"
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
`
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FARMCORE_CONFIG", cfgPath)
	t.Setenv("FARMCORE_ENV_FILE", filepath.Join(dir, ".env"))
	return dir
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("FARMCORE_CONFIG", "/nonexistent/path/config.yaml")
	t.Setenv("FARMCORE_ENV_FILE", filepath.Join(t.TempDir(), ".env"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want config error", err)
	}
}

func TestRun_InvalidPlant(t *testing.T) {
	writeFiles(t, "equipment:\n  - name: FAN-1\n    roles: {on_off_output: MISSING}\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading plant") {
		t.Fatalf("run() error = %v, want plant error", err)
	}
}

func TestRun_SimulatedPlantStartsAndStops(t *testing.T) {
	dir := writeFiles(t, simPlant)

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "farmcore.db")); err != nil {
		t.Errorf("history database not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FARMCORE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("FARMCORE_CONFIG", "/etc/farmcore/config.yaml")
	if got := getConfigPath(); got != "/etc/farmcore/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestGatherer(t *testing.T) {
	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kobo_export_test_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	path := filepath.Join(t.TempDir(), "kobo_export.prom")
	if err := writeTextfile(reg, path); err != nil {
		t.Fatalf("writeTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "kobo_export_test_total 3") {
		t.Errorf("metrics file missing counter:\n%s", data)
	}
}

func TestWriteTextfile_DefaultGatherer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kobo_export.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("metrics file not written: %v", err)
	}
}

func TestWriteTextfile_Errors(t *testing.T) {
	if err := writeTextfile(prometheus.NewRegistry(), ""); err == nil {
		t.Error("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "missing", "kobo_export.prom")
	if err := writeTextfile(prometheus.NewRegistry(), path); err == nil {
		t.Error("expected error for missing directory")
	}
}

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/SchoolAuth/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetupWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "schoolauth.log")
	closer, errSetup := Setup(config.LogConfig{Level: "debug", Format: "json", File: path})
	if errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	t.Cleanup(func() {
		log.SetOutput(os.Stdout)
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	})

	log.WithField("roll_number", "S-1001").Debug("login accepted")
	if errClose := closer.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read log: %v", errRead)
	}
	if !strings.Contains(string(data), `"roll_number":"S-1001"`) {
		t.Fatalf("log file missing structured field: %s", data)
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, errSetup := Setup(config.LogConfig{Level: "chatty"}); errSetup == nil {
		t.Fatalf("expected error for unknown level")
	}
}

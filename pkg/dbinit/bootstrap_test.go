package dbinit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return log
}

func testSpec() config.DatabaseSpec {
	return config.DatabaseSpec{
		InstanceName:    "demo-db",
		Schema:          "app_data",
		Capacity:        config.CapacityCU1,
		BootstrapTables: true,
	}
}

func TestBootstrap_BuildsDSNFromCredential(t *testing.T) {
	fake := platform.NewFake()
	fake.SetInstance(platform.DatabaseInstance{
		Name: "demo-db", Capacity: "CU_1", Status: platform.InstanceReady,
		Host: "demo-db.db.fake", Port: 5432,
	})

	b := NewBootstrapper(fake, testSpec(), testLogger(t))
	var gotDSN string
	b.open = func(dsn string) (*gorm.DB, error) {
		gotDSN = dsn
		return nil, errors.New("connection refused")
	}

	err := b.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !deploy.IsTransient(err) {
		t.Errorf("connection failure should be transient, got %v", err)
	}
	for _, want := range []string{"host=demo-db.db.fake", "port=5432", "search_path=app_data", "password=fake-token-"} {
		if !strings.Contains(gotDSN, want) {
			t.Errorf("DSN missing %q: %s", want, gotDSN)
		}
	}
}

func TestBootstrap_MissingInstance(t *testing.T) {
	fake := platform.NewFake()
	b := NewBootstrapper(fake, testSpec(), testLogger(t))

	err := b.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected error for absent instance")
	}
	if deploy.CodeOf(err) != deploy.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", deploy.CodeOf(err))
	}
}

func TestBootstrap_CredentialFailure(t *testing.T) {
	fake := platform.NewFake()
	fake.SetInstance(platform.DatabaseInstance{
		Name: "demo-db", Capacity: "CU_1", Status: platform.InstanceReady,
	})
	fake.FailNext("GenerateDatabaseCredential", errors.New("credential service down"))
	b := NewBootstrapper(fake, testSpec(), testLogger(t))

	err := b.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected credential error")
	}
	var derr *deploy.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if derr.Phase != deploy.PhaseDBTables {
		t.Errorf("expected db-tables phase, got %s", derr.Phase)
	}
}

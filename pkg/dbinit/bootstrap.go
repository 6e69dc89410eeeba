// Package dbinit creates the application's session tables in the
// provisioned database. It connects directly to the instance using a
// short-lived credential minted by the platform, so no standing database
// password exists anywhere in configuration.
package dbinit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lakedeploy/lakedeploy/pkg/config"
	"github.com/lakedeploy/lakedeploy/pkg/deploy"
	"github.com/lakedeploy/lakedeploy/pkg/platform"
	"github.com/lakedeploy/lakedeploy/pkg/telemetry"
)

// UserSession is one chat session owned by a user.
type UserSession struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	UserName  string    `gorm:"index;type:varchar(255);not null"`
	Title     string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// SessionMessage is one message within a session.
type SessionMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"index;type:varchar(64);not null"`
	Role      string    `gorm:"type:varchar(32);not null"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

// ChatRequest records one model invocation for usage accounting.
type ChatRequest struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SessionID  string    `gorm:"index;type:varchar(64)"`
	UserName   string    `gorm:"type:varchar(255)"`
	TokensIn   int       `gorm:"not null;default:0"`
	TokensOut  int       `gorm:"not null;default:0"`
	DurationMs int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
}

// Bootstrapper implements deploy.TableBootstrapper by auto-migrating the
// application tables over a platform-issued credential.
type Bootstrapper struct {
	client platform.Client
	spec   config.DatabaseSpec
	log    *telemetry.Logger

	// open is swapped in tests.
	open func(dsn string) (*gorm.DB, error)
}

// NewBootstrapper returns a bootstrapper for the configured database.
func NewBootstrapper(client platform.Client, spec config.DatabaseSpec, log *telemetry.Logger) *Bootstrapper {
	return &Bootstrapper{
		client: client,
		spec:   spec,
		log:    log,
		open: func(dsn string) (*gorm.DB, error) {
			return gorm.Open(postgres.Open(dsn), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Warn),
			})
		},
	}
}

// Bootstrap mints a credential, connects, and ensures the session tables
// exist in the configured schema. AutoMigrate is idempotent, so repeated
// deployments converge without data loss.
func (b *Bootstrapper) Bootstrap(ctx context.Context) error {
	inst, err := b.client.GetDatabaseInstance(ctx, b.spec.InstanceName)
	if err != nil {
		return deploy.FromPlatform("fetching database instance for bootstrap", err).
			WithPhase(deploy.PhaseDBTables).WithResource(b.spec.InstanceName)
	}

	requestID := uuid.New().String()
	cred, err := b.client.GenerateDatabaseCredential(ctx, requestID, b.spec.InstanceName)
	if err != nil {
		return deploy.FromPlatform("generating database credential", err).
			WithPhase(deploy.PhaseDBTables).WithResource(b.spec.InstanceName)
	}

	user, err := b.client.CurrentUser(ctx)
	if err != nil {
		return deploy.FromPlatform("resolving current user", err).
			WithPhase(deploy.PhaseDBTables)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s search_path=%s sslmode=require TimeZone=UTC",
		inst.Host, inst.Port, user, cred.Token, b.spec.InstanceName, b.spec.Schema)

	db, err := b.open(dsn)
	if err != nil {
		return deploy.NewTransientError("connecting to provisioned database", err).
			WithCode(deploy.CodeProvisionFailed).WithPhase(deploy.PhaseDBTables)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	if err := db.WithContext(ctx).AutoMigrate(&UserSession{}, &SessionMessage{}, &ChatRequest{}); err != nil {
		return deploy.NewPermanentError("migrating application tables", err).
			WithCode(deploy.CodeProvisionFailed).WithPhase(deploy.PhaseDBTables)
	}
	b.log.Infof("application tables ensured in %s.%s", b.spec.InstanceName, b.spec.Schema)
	return nil
}

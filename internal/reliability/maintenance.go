package reliability

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
)

// maintenanceSchedule runs nightly, after the backup window.
const maintenanceSchedule = "0 30 4 * * *"

// MaintenanceService runs scheduled sqlite upkeep on both stores:
// WAL checkpoints, integrity checks, and vacuum.
type MaintenanceService struct {
	stores []*database.DB
	backup *BackupService // nil when R2 backups are disabled
	cron   *cron.Cron
	log    zerolog.Logger
}

// NewMaintenanceService wires the maintenance scheduler. backup may be
// nil; the maintenance jobs still run.
func NewMaintenanceService(stores []*database.DB, backup *BackupService, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		stores: stores,
		backup: backup,
		cron:   cron.New(cron.WithSeconds()),
		log:    log.With().Str("service", "maintenance").Logger(),
	}
}

// Start registers the cron jobs and launches the scheduler.
// backupSchedule is a six-field cron spec; empty disables the backup
// job.
func (m *MaintenanceService) Start(backupSchedule string) error {
	if _, err := m.cron.AddFunc(maintenanceSchedule, m.RunMaintenance); err != nil {
		return err
	}

	if m.backup != nil && backupSchedule != "" {
		if _, err := m.cron.AddFunc(backupSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			if err := m.backup.Run(ctx); err != nil {
				m.log.Error().Err(err).Msg("Scheduled backup failed")
			}
		}); err != nil {
			return err
		}
	}

	m.cron.Start()
	m.log.Info().Str("backup_schedule", backupSchedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *MaintenanceService) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info().Msg("Maintenance scheduler stopped")
}

// RunMaintenance checkpoints, integrity-checks, and vacuums every
// store. Failures are logged per store; one bad store does not block
// upkeep of the other.
func (m *MaintenanceService) RunMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, db := range m.stores {
		log := m.log.With().Str("store", db.Name()).Logger()

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Error().Err(err).Msg("WAL checkpoint failed")
		}
		if err := db.QuickCheck(ctx); err != nil {
			log.Error().Err(err).Msg("Integrity check failed")
			continue
		}
		if err := db.Vacuum(); err != nil {
			log.Error().Err(err).Msg("Vacuum failed")
		}
		log.Debug().Msg("Store maintenance completed")
	}
}

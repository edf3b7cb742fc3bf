package services

import (
	"context"
	"sync"
	"time"

	"lottery-backend/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MonitoringService periodically refreshes gauges that nothing else updates:
// database pool stats and the pending reconciliation count.
type MonitoringService struct {
	db       *gorm.DB               // nil when persistence is disabled
	recon    *ReconciliationService // optional
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitoringService create the monitoring service
func NewMonitoringService(db *gorm.DB, recon *ReconciliationService, interval time.Duration) *MonitoringService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &MonitoringService{
		db:       db,
		recon:    recon,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start the sampling loop
func (m *MonitoringService) Start() {
	logrus.WithField("interval", m.interval).Info("🚀 [Monitoring] starting")
	m.wg.Add(1)
	go m.loop()
}

// Stop the sampling loop and wait for it
func (m *MonitoringService) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	logrus.Info("✅ [Monitoring] stopped")
}

func (m *MonitoringService) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample(context.Background())
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sample(context.Background())
		}
	}
}

// Sample refresh every gauge once
func (m *MonitoringService) Sample(ctx context.Context) {
	if m.db != nil {
		m.updateDatabaseMetrics(ctx)
	}
	if m.recon != nil {
		m.recon.RefreshGauge(ctx)
	}
}

func (m *MonitoringService) updateDatabaseMetrics(ctx context.Context) {
	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
	metrics.DBConnectionActive.Set(float64(stats.InUse))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	err = sqlDB.PingContext(pingCtx)
	metrics.DBQueryDuration.WithLabelValues("ping").Observe(time.Since(start).Seconds())
	if err != nil {
		logrus.Warnf("⚠️ [Monitoring] database ping failed: %v", err)
		metrics.DBConnectionStatus.Set(0)
		return
	}
	metrics.DBConnectionStatus.Set(1)
}

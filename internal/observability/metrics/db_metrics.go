package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func registerDBMetrics(db *sql.DB, logger logrus.FieldLogger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "event_outbox_pending",
			Help: "Pending outbox records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "open_cycles",
			Help: "Routes with an open settlement cycle",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM settlement_cycles WHERE status = 'OPEN'")
		},
	))
}

func queryCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

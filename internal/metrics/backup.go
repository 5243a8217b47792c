package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backup and restore outcome counters, labeled by destination so a
// flaky provider stands out.
var (
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spoolvault_backups_total",
		Help: "Completed and failed backup runs by destination and outcome",
	}, []string{"destination", "outcome"})

	BackupBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spoolvault_backup_bytes_total",
		Help: "Total archive bytes uploaded per destination",
	}, []string{"destination"})

	RestoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spoolvault_restores_total",
		Help: "Restore runs by scope and outcome",
	}, []string{"scope", "outcome"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stillcam_dispatch_queue_depth",
		Help: "Number of commands waiting in a serial queue",
	}, []string{"queue"})

	DispatchCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcam_dispatch_commands_total",
		Help: "Total number of executed commands by queue, command and outcome",
	}, []string{"queue", "command", "outcome"})

	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcam_lifecycle_transitions_total",
		Help: "Total number of device/session phase transitions",
	}, []string{"from", "to"})

	DeviceFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcam_device_faults_total",
		Help: "Total number of asynchronous device and session faults",
	}, []string{"kind"})

	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcam_captures_total",
		Help: "Total number of submitted still-capture requests by mode",
	}, []string{"mode"})

	PairingDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stillcam_pairing_drops_total",
		Help: "Capture metadata records dropped because the pairing queue was full",
	})

	PairedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stillcam_paired_total",
		Help: "Capture metadata records paired with an output buffer",
	})

	PersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcam_persist_total",
		Help: "Persistence pipeline outcomes by stage and result",
	}, []string{"stage", "result"})

	PreviewFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stillcam_preview_frames_total",
		Help: "Raw preview frames received and released",
	})
)

// IncCommand records the outcome of one executed command.
func IncCommand(queue, command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if command == "" {
		command = "unknown"
	}
	DispatchCommandsTotal.WithLabelValues(queue, command, outcome).Inc()
}

// IncPersist records one persistence stage outcome.
func IncPersist(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PersistTotal.WithLabelValues(stage, result).Inc()
}

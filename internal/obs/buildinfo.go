package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	taskflowBuild = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskflow",
			Name:      "build_info",
			Help:      "Constant 1, labelled with the running taskflow build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes taskflow_build_info. Later calls only record the labels;
// the first registration wins.
func InitBuildInfo(version, commit string) {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(taskflowBuild)
		taskflowBuild.WithLabelValues(version, commit, runtime.Version()).Set(1)
	})
}

package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"webhook-service/internal/config"
)

// Setup enables pushing to a remote gateway when configured. Without a URL
// the metrics stay local and are served by Handler.
func Setup(cfg config.Metrics) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		log.Printf("Error initializing metrics push: %v", err)
	}
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}

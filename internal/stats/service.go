package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"webhook-service/internal/webhook"
)

type GatewayStats struct {
	Gateway              webhook.Gateway `json:"gateway"`
	Total                int64           `json:"total"`
	Processed            int64           `json:"processed"`
	Failed               int64           `json:"failed"`
	Pending              int64           `json:"pending"`
	SuccessRate          float64         `json:"successRate"`
	VerificationRate     float64         `json:"verificationRate"`
	AvgProcessingSeconds float64         `json:"avgProcessingSeconds"`
}

// Service aggregates per-gateway success/failure/verification rates over a
// rolling window. Read-only over the webhook store.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const defaultWindowDays = 7

func (s *Service) GetStatistics(ctx context.Context, gateway *webhook.Gateway, days int) ([]GatewayStats, error) {
	if days <= 0 {
		days = defaultWindowDays
	}

	query := `SELECT gateway,
			count(*) AS total,
			count(*) FILTER (WHERE processing_status = 'PROCESSED') AS processed,
			count(*) FILTER (WHERE processing_status = 'FAILED') AS failed,
			count(*) FILTER (WHERE processing_status IN ('PENDING', 'PROCESSING', 'RETRY')) AS pending,
			count(*) FILTER (WHERE verification_status = 'VERIFIED') AS verified,
			coalesce(avg(EXTRACT(EPOCH FROM processed_at - received_at)) FILTER (WHERE processed_at IS NOT NULL), 0)::float8 AS avg_seconds
		FROM webhook_event
		WHERE received_at >= now() - ($1 * interval '1 day')
		  AND ($2::text IS NULL OR gateway = $2)
		GROUP BY gateway
		ORDER BY gateway`

	var gwParam *string
	if gateway != nil {
		name := string(*gateway)
		gwParam = &name
	}

	rows, err := s.pool.Query(ctx, query, days, gwParam)
	if err != nil {
		return nil, errors.Wrap(err, "querying webhook statistics")
	}
	defer rows.Close()

	var result []GatewayStats
	for rows.Next() {
		var st GatewayStats
		var verified int64
		if err := rows.Scan(&st.Gateway, &st.Total, &st.Processed, &st.Failed, &st.Pending, &verified, &st.AvgProcessingSeconds); err != nil {
			return nil, errors.Wrap(err, "scanning webhook statistics")
		}
		if st.Total > 0 {
			st.SuccessRate = float64(st.Processed) / float64(st.Total)
			st.VerificationRate = float64(verified) / float64(st.Total)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// Handler serves GET /statistics?gateway=&days= for operator visibility.
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var gw *webhook.Gateway
		if raw := r.URL.Query().Get("gateway"); raw != "" {
			g, ok := webhook.ParseGateway(raw)
			if !ok {
				http.Error(w, "unknown gateway", http.StatusBadRequest)
				return
			}
			gw = &g
		}

		days, _ := strconv.Atoi(r.URL.Query().Get("days"))

		result, err := s.GetStatistics(r.Context(), gw, days)
		if err != nil {
			http.Error(w, "statistics unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

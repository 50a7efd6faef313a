package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"

	"webhook-service/internal/ingest"
	"webhook-service/internal/webhook"
)

var (
	deliveryReadErrorCounter      = metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="raw_delivery"}`)
	deliveryUnmarshalErrorCounter = metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="raw_delivery"}`)
	deliveryProcessErrorCounter   = metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="raw_delivery"}`)
	deliverySuccessCounter        = metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="raw_delivery"}`)
)

// RawDelivery is what the HTTP front door publishes when it buffers incoming
// webhooks through Kafka instead of calling ingestion in-process.
type RawDelivery struct {
	Gateway   webhook.Gateway `json:"gateway"`
	Signature string          `json:"signature"`
	Body      string          `json:"body"`
}

func NewReader(kafkaURL, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(kafkaURL, ","),
		GroupID: groupID,
		Topic:   topic,
	})
}

// ReadRawDeliveries feeds front-door published deliveries into ingestion.
// A bad message never stops the loop; rejection is final (the front door
// already acknowledged upstream).
func ReadRawDeliveries(ctx context.Context, reader *kafka.Reader, svc *ingest.Service, logger *slog.Logger) {
	go func() {
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.ErrorContext(ctx, fmt.Sprintf("Error reading message: %v", err))
				deliveryReadErrorCounter.Inc()
				continue
			}

			var d RawDelivery
			if err := json.Unmarshal(m.Value, &d); err != nil {
				logger.ErrorContext(ctx, fmt.Sprintf("Error unmarshalling message: %v", err))
				deliveryUnmarshalErrorCounter.Inc()
				continue
			}

			if _, err := svc.Receive(ctx, d.Gateway, d.Signature, []byte(d.Body)); err != nil {
				logger.ErrorContext(ctx, fmt.Sprintf("Error ingesting delivery: %v", err))
				deliveryProcessErrorCounter.Inc()
				continue
			}
			deliverySuccessCounter.Inc()
		}
	}()
}

package bus

import (
	"fmt"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// NewBus creates the bus selected by cfg, instrumented and, when an event
// log path is set, logged to disk. The "none" type yields a nil Bus.
func NewBus(cfg config.BusConfig, log *logger.Logger, m *metrics.Metrics) (Bus, error) {
	var inner Bus
	switch cfg.Type {
	case "none", "":
		return nil, nil

	case "memory":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := cfg.KafkaBrokerList()
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}
		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: "rice-eval",
			ClientID:      "rice-eval-bus",
		}, log)
		if err != nil {
			return nil, err
		}
		inner = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	var b Bus = NewInstrumentedBus(inner, m)
	if cfg.EventLog != "" {
		el, err := NewEventLogger(cfg.EventLog)
		if err != nil {
			inner.Close()
			return nil, err
		}
		b = NewLoggedBus(b, el, log)
	}
	return b, nil
}

package ports

import (
	"time"

	"model-serving-gateway/internal/core/domain"
)

// Metrics records runtime observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveRegistration(fw domain.Framework, err error)
	ObserveLoad(fw domain.Framework, d time.Duration, err error)
	ObservePredict(fw domain.Framework, d time.Duration, err error)
	ObserveHandleCache(hit bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveRegistration(domain.Framework, error) {}
func (NopMetrics) ObserveLoad(domain.Framework, time.Duration, error) {}
func (NopMetrics) ObservePredict(domain.Framework, time.Duration, error) {}
func (NopMetrics) ObserveHandleCache(bool) {}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const Subsystem = "billsync"

var Module = fx.Options(
	fx.Provide(func() (*Billing, error) {
		return NewBilling(prometheus.DefaultRegisterer, Subsystem)
	}),
)

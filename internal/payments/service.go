package payments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/chaos"
)

// Service is the payments collaborator's business logic, fronted by the
// HTTP handler in handler.go. A charge always succeeds absent chaos
// injection; there is no decline policy, only the chaos knob used to
// exercise the resilience fabric in fault-injection scenarios.
type Service struct {
	chaos *chaos.Injector
}

// NewService constructs a Service.
func NewService(chaosInjector *chaos.Injector) *Service {
	return &Service{chaos: chaosInjector}
}

// Charge runs the chaos injector and, absent an injected fault, returns a
// synthetic successful charge.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var charge Charge
	err := s.chaos.Run(ctx, func() error {
		charge = Charge{
			TransactionID: uuid.New(),
			OrderID:       req.OrderID,
			Amount:        req.Amount,
			Status:        StatusCharged,
			CreatedAt:     time.Now(),
		}
		return nil
	})
	return charge, err
}

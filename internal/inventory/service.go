package inventory

import (
	"context"

	"github.com/meridian-commerce/backbone/internal/chaos"
)

// Service is the inventory collaborator's business logic, fronted by the
// HTTP handler in handler.go. Chaos injection runs before the repository
// call so fault-injection tests can exercise the gateway's retry/breaker
// fabric without touching real stock data.
type Service struct {
	repo  Repository
	chaos *chaos.Injector
}

// NewService constructs a Service.
func NewService(repo Repository, chaosInjector *chaos.Injector) *Service {
	return &Service{repo: repo, chaos: chaosInjector}
}

// Reserve runs the chaos injector and then reserves req's line items.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	var result ReserveResult
	err := s.chaos.Run(ctx, func() error {
		var err error
		result, err = s.repo.Reserve(ctx, req)
		return err
	})
	return result, err
}

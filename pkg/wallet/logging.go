package wallet

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation  string
	TenantID   TenantID
	CampaignID CampaignID
	ActorID    ActorID
	EntryCode  EntryCode
	Amount     int64
	Anomalous  bool
	Warning    string
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEntryCodeGenerator overrides the entry code generator (tests use this
// to make codes deterministic).
func WithEntryCodeGenerator(generator EntryCodeGenerator) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.codeFn = generator
		}
	}
}

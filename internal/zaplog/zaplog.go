// Package zaplog adapts a zap logger to the wallet operation log callback.
package zaplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"go.uber.org/zap"
)

// OperationLogger emits one structured log line per wallet operation.
type OperationLogger struct {
	logger *zap.Logger
}

// New returns an OperationLogger writing through logger.
func New(logger *zap.Logger) *OperationLogger {
	return &OperationLogger{logger: logger}
}

func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("tenant_id", entry.TenantID.String()),
		zap.String("status", entry.Status),
		zap.Int64("amount", entry.Amount),
	}
	if !entry.CampaignID.IsZero() {
		fields = append(fields, zap.String("campaign_id", entry.CampaignID.String()))
	}
	if !entry.ActorID.IsZero() {
		fields = append(fields, zap.String("actor_id", entry.ActorID.String()))
	}
	if !entry.EntryCode.IsZero() {
		fields = append(fields, zap.String("entry_code", entry.EntryCode.String()))
	}
	if entry.Anomalous {
		fields = append(fields, zap.Bool("anomalous", true))
	}
	if entry.Warning != "" {
		fields = append(fields, zap.String("warning", entry.Warning))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("wallet operation", fields...)
}

package walletapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/gin-gonic/gin"
)

type holdRequest struct {
	TenantID   string `json:"tenant_id"`
	Amount     int64  `json:"amount"`
	CampaignID string `json:"campaign_id"`
	ActorID    string `json:"actor_id"`
}

type releaseRequest struct {
	TenantID   string `json:"tenant_id"`
	Amount     int64  `json:"amount"`
	CampaignID string `json:"campaign_id"`
	Reason     string `json:"reason"`
	ActorID    string `json:"actor_id"`
}

type finalizeRequest struct {
	TenantID     string `json:"tenant_id"`
	CampaignID   string `json:"campaign_id"`
	SentCount    int64  `json:"sent_count"`
	UnsentCount  int64  `json:"unsent_count"`
	PricePerUnit int64  `json:"price_per_unit"`
	ActorID      string `json:"actor_id"`
}

type chargeRequest struct {
	TenantID       string         `json:"tenant_id"`
	Amount         int64          `json:"amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	Source         string         `json:"source"`
	ReferenceID    string         `json:"reference_id"`
	Metadata       map[string]any `json:"metadata"`
}

type refundRequest struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type topupRequest struct {
	TenantID       string `json:"tenant_id"`
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	ProofReference string `json:"proof_reference"`
}

type topupDecisionRequest struct {
	Note string `json:"note"`
}

type correctionRequest struct {
	TenantID string `json:"tenant_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

type balancePayload struct {
	TenantID      string `json:"tenant_id"`
	Available     int64  `json:"available"`
	Held          int64  `json:"held"`
	Total         int64  `json:"total"`
	LifetimeTopup int64  `json:"lifetime_topup"`
	LifetimeSpent int64  `json:"lifetime_spent"`
	Status        string `json:"status"`
}

type holdPayload struct {
	EntryCode string `json:"entry_code"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
}

type chargeFromHoldPayload struct {
	EntryCode string `json:"entry_code,omitempty"`
	Requested int64  `json:"requested"`
	Charged   int64  `json:"charged"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
	Anomalous bool   `json:"anomalous,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type releasePayload struct {
	EntryCode string `json:"entry_code,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Requested int64  `json:"requested"`
	Released  int64  `json:"released"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
	Anomalous bool   `json:"anomalous,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type finalizationPayload struct {
	Charge    chargeFromHoldPayload `json:"charge"`
	Unsent    releasePayload        `json:"unsent"`
	Residual  releasePayload        `json:"residual"`
	Anomalous bool                  `json:"anomalous"`
}

type chargePayload struct {
	EntryCode string `json:"entry_code"`
	Charged   int64  `json:"charged"`
	Available int64  `json:"available"`
	Status    string `json:"status"`
}

type refundPayload struct {
	EntryCode         string `json:"entry_code"`
	OriginalEntryCode string `json:"original_entry_code"`
	Refunded          int64  `json:"refunded"`
	Available         int64  `json:"available"`
}

type pendingTopupPayload struct {
	EntryCode string `json:"entry_code"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type topupResolutionPayload struct {
	EntryCode string `json:"entry_code"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Available int64  `json:"available"`
}

type correctionPayload struct {
	EntryCode     string `json:"entry_code"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
}

type reconciliationPayload struct {
	TenantID          string `json:"tenant_id"`
	Available         int64  `json:"available"`
	ExpectedAvailable int64  `json:"expected_available"`
	Drift             int64  `json:"drift"`
	Balanced          bool   `json:"balanced"`
}

type entryPayload struct {
	EntryCode      string          `json:"entry_code"`
	Kind           string          `json:"kind"`
	Amount         int64           `json:"amount"`
	BalanceBefore  int64           `json:"balance_before"`
	BalanceAfter   int64           `json:"balance_after"`
	Note           string          `json:"note,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CampaignID     string          `json:"campaign_id,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	ReferenceCode  string          `json:"reference_code,omitempty"`
	TopupStatus    string          `json:"topup_status,omitempty"`
	Refunded       bool            `json:"refunded,omitempty"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func balanceFromView(view wallet.BalanceView) balancePayload {
	return balancePayload{
		TenantID:      view.TenantID.String(),
		Available:     view.Available,
		Held:          view.Held,
		Total:         view.Total,
		LifetimeTopup: view.LifetimeTopup,
		LifetimeSpent: view.LifetimeSpent,
		Status:        view.Status.String(),
	}
}

func chargeFromHoldFromResult(result wallet.ChargeFromHoldResult) chargeFromHoldPayload {
	return chargeFromHoldPayload{
		EntryCode: result.EntryCode.String(),
		Requested: result.Requested,
		Charged:   result.Charged,
		Available: result.Available,
		Held:      result.Held,
		Anomalous: result.Anomalous,
		Warning:   result.Warning,
	}
}

func releaseFromResult(result wallet.ReleaseResult) releasePayload {
	return releasePayload{
		EntryCode: result.EntryCode.String(),
		Kind:      result.Kind.String(),
		Requested: result.Requested,
		Released:  result.Released,
		Available: result.Available,
		Held:      result.Held,
		Anomalous: result.Anomalous,
		Warning:   result.Warning,
	}
}

func entryFromDomain(entry wallet.Entry) entryPayload {
	return entryPayload{
		EntryCode:      entry.EntryCode.String(),
		Kind:           entry.Kind.String(),
		Amount:         entry.Amount,
		BalanceBefore:  entry.BalanceBefore,
		BalanceAfter:   entry.BalanceAfter,
		Note:           entry.Note,
		Metadata:       json.RawMessage(entry.Metadata.String()),
		CampaignID:     entry.CampaignID.String(),
		ActorID:        entry.ActorID.String(),
		IdempotencyKey: entry.IdempotencyKey.String(),
		ReferenceID:    entry.ReferenceID,
		ReferenceCode:  entry.ReferenceCode.String(),
		TopupStatus:    entry.TopupStatus.String(),
		Refunded:       entry.Refunded,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

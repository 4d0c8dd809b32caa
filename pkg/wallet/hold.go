package wallet

import (
	"context"
	"fmt"
	"math"
)

// HoldResult reports the balances after a successful reservation.
type HoldResult struct {
	EntryCode EntryCode
	Available int64
	Held      int64
}

// ChargeFromHoldResult reports a charge against reserved funds. Charged may
// be lower than Requested when the held balance could not cover the request;
// the clamp is reported, never silently swallowed.
type ChargeFromHoldResult struct {
	EntryCode EntryCode
	Requested int64
	Charged   int64
	Available int64
	Held      int64
	Anomalous bool
	Warning   string
}

// ReleaseResult reports reserved funds returned to the available balance.
type ReleaseResult struct {
	EntryCode EntryCode
	Kind      EntryKind
	Requested int64
	Released  int64
	Available int64
	Held      int64
	Anomalous bool
	Warning   string
}

// FinalizationResult aggregates the steps of a campaign finalization.
type FinalizationResult struct {
	Charge    ChargeFromHoldResult
	Unsent    ReleaseResult
	Residual  ReleaseResult
	Anomalous bool
}

// Hold reserves funds for a campaign before any message is sent. The funds
// move from available to held; an insufficient balance fails the whole
// session without mutation.
func (service *Service) Hold(ctx context.Context, tenantID TenantID, amount PositiveAmount, campaignID CampaignID, actorID ActorID) (HoldResult, error) {
	var result HoldResult
	var entryCode EntryCode
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		if account.Available < amount.Int64() {
			return NewInsufficientFundsError(account.Available, amount.Int64())
		}
		balanceBefore := account.Available
		account.Available -= amount.Int64()
		account.Held += amount.Int64()
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode = service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			ActorID:        actorID,
			Kind:           EntryHold,
			Amount:         -amount.Int64(),
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("hold %s for campaign %s", FormatAmount(amount.Int64()), campaignID.String()),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result = HoldResult{
			EntryCode: entryCode,
			Available: account.Available,
			Held:      account.Held,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationHold,
		TenantID:   tenantID,
		CampaignID: campaignID,
		ActorID:    actorID,
		EntryCode:  entryCode,
		Amount:     amount.Int64(),
		Error:      operationError,
	})
	if operationError != nil {
		return HoldResult{}, operationError
	}
	return result, nil
}

// ChargeFromHold moves funds out of held permanently once a message is
// actually sent. The charge is clamped to the held balance: a shortfall is an
// upstream anomaly (e.g. a double charge) reported via the result, never a
// negative held balance.
func (service *Service) ChargeFromHold(ctx context.Context, tenantID TenantID, amount PositiveAmount, campaignID CampaignID, actorID ActorID) (ChargeFromHoldResult, error) {
	var result ChargeFromHoldResult
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		charged, warning := clampToHeld(amount.Int64(), account.Held, "charge")
		result = ChargeFromHoldResult{
			Requested: amount.Int64(),
			Charged:   charged,
			Anomalous: warning != "",
			Warning:   warning,
		}
		if charged == 0 {
			result.Available = account.Available
			result.Held = account.Held
			return nil
		}
		account.Held -= charged
		account.LifetimeSpent += charged
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode := service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			ActorID:        actorID,
			Kind:           EntryChargeFromHold,
			Amount:         -charged,
			BalanceBefore:  account.Available,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("charge %s from hold for campaign %s", FormatAmount(charged), campaignID.String()),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result.EntryCode = entryCode
		result.Available = account.Available
		result.Held = account.Held
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationChargeFromHold,
		TenantID:   tenantID,
		CampaignID: campaignID,
		ActorID:    actorID,
		EntryCode:  result.EntryCode,
		Amount:     result.Charged,
		Anomalous:  result.Anomalous,
		Warning:    result.Warning,
		Error:      operationError,
	})
	if operationError != nil {
		return ChargeFromHoldResult{}, operationError
	}
	return result, nil
}

// Release returns reserved funds to the available balance. The entry kind is
// derived from the caller-supplied reason code: a failed message produces a
// refund entry, everything else a release entry. The amount is clamped to the
// held balance the same way ChargeFromHold clamps.
func (service *Service) Release(ctx context.Context, tenantID TenantID, amount PositiveAmount, campaignID CampaignID, reason ReasonCode, actorID ActorID) (ReleaseResult, error) {
	if _, err := ParseReasonCode(reason.String()); err != nil {
		return ReleaseResult{}, err
	}
	var result ReleaseResult
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		released, warning := clampToHeld(amount.Int64(), account.Held, "release")
		result = ReleaseResult{
			Kind:      reason.releaseKind(),
			Requested: amount.Int64(),
			Released:  released,
			Anomalous: warning != "",
			Warning:   warning,
		}
		if released == 0 {
			result.Available = account.Available
			result.Held = account.Held
			return nil
		}
		balanceBefore := account.Available
		account.Held -= released
		account.Available += released
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode := service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			ActorID:        actorID,
			Kind:           result.Kind,
			Amount:         released,
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("%s %s for campaign %s (%s)", result.Kind.String(), FormatAmount(released), campaignID.String(), reason.String()),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result.EntryCode = entryCode
		result.Available = account.Available
		result.Held = account.Held
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationRelease,
		TenantID:   tenantID,
		CampaignID: campaignID,
		ActorID:    actorID,
		EntryCode:  result.EntryCode,
		Amount:     result.Released,
		Anomalous:  result.Anomalous,
		Warning:    result.Warning,
		Error:      operationError,
	})
	if operationError != nil {
		return ReleaseResult{}, operationError
	}
	return result, nil
}

// FinalizeCampaign settles a finished campaign: charge the sent messages
// from the hold, release the unsent remainder, then release whatever is
// still held for the campaign as a safety net. Each step runs in its own
// locked session and is clamped to the campaign's outstanding hold, so a
// repeated finalization finds nothing left and no-ops without error.
func (service *Service) FinalizeCampaign(ctx context.Context, tenantID TenantID, campaignID CampaignID, sentCount int64, unsentCount int64, pricePerUnit PositiveAmount, actorID ActorID) (FinalizationResult, error) {
	if sentCount < 0 || unsentCount < 0 {
		return FinalizationResult{}, fmt.Errorf("%w: message counts must be non-negative", ErrInvalidAmount)
	}
	// count * price must not wrap around int64.
	if countLimit := math.MaxInt64 / pricePerUnit.Int64(); sentCount > countLimit || unsentCount > countLimit {
		return FinalizationResult{}, fmt.Errorf("%w: message counts overflow the per-unit price", ErrInvalidAmount)
	}
	var result FinalizationResult

	chargeTotal := sentCount * pricePerUnit.Int64()
	if chargeTotal > 0 {
		charge, err := service.finalizeCharge(ctx, tenantID, campaignID, chargeTotal, actorID)
		if err != nil {
			return FinalizationResult{}, err
		}
		result.Charge = charge
	}

	releaseTotal := unsentCount * pricePerUnit.Int64()
	if releaseTotal > 0 {
		release, err := service.finalizeRelease(ctx, tenantID, campaignID, releaseTotal, actorID)
		if err != nil {
			return FinalizationResult{}, err
		}
		result.Unsent = release
	}

	// Safety net: whatever the campaign still holds goes back to available.
	residual, err := service.finalizeResidual(ctx, tenantID, campaignID, actorID)
	if err != nil {
		return FinalizationResult{}, err
	}
	result.Residual = residual
	result.Anomalous = result.Charge.Anomalous || result.Unsent.Anomalous || result.Residual.Anomalous

	service.logOperation(ctx, OperationLog{
		Operation:  operationFinalizeCampaign,
		TenantID:   tenantID,
		CampaignID: campaignID,
		ActorID:    actorID,
		Amount:     result.Charge.Charged + result.Unsent.Released + result.Residual.Released,
		Anomalous:  result.Anomalous,
	})
	return result, nil
}

func (service *Service) finalizeCharge(ctx context.Context, tenantID TenantID, campaignID CampaignID, requested int64, actorID ActorID) (ChargeFromHoldResult, error) {
	var result ChargeFromHoldResult
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		outstanding, err := txStore.CampaignHeld(ctx, tenantID, campaignID)
		if err != nil {
			return err
		}
		charged, warning := clampToOutstanding(requested, outstanding, account.Held, "charge")
		result = ChargeFromHoldResult{
			Requested: requested,
			Charged:   charged,
			Anomalous: warning != "",
			Warning:   warning,
			Available: account.Available,
			Held:      account.Held,
		}
		if charged == 0 {
			return nil
		}
		account.Held -= charged
		account.LifetimeSpent += charged
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode := service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			ActorID:        actorID,
			Kind:           EntryChargeFromHold,
			Amount:         -charged,
			BalanceBefore:  account.Available,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("finalize: charge %s from hold for campaign %s", FormatAmount(charged), campaignID.String()),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result.EntryCode = entryCode
		result.Held = account.Held
		return nil
	})
	if operationError != nil {
		return ChargeFromHoldResult{}, operationError
	}
	return result, nil
}

func (service *Service) finalizeRelease(ctx context.Context, tenantID TenantID, campaignID CampaignID, requested int64, actorID ActorID) (ReleaseResult, error) {
	return service.releaseOutstanding(ctx, tenantID, campaignID, requested, "finalize: release unsent", actorID)
}

func (service *Service) finalizeResidual(ctx context.Context, tenantID TenantID, campaignID CampaignID, actorID ActorID) (ReleaseResult, error) {
	return service.releaseOutstanding(ctx, tenantID, campaignID, releaseAllOutstanding, "finalize: release residual hold", actorID)
}

// releaseAllOutstanding asks releaseOutstanding to return everything the
// campaign still holds.
const releaseAllOutstanding = int64(-1)

func (service *Service) releaseOutstanding(ctx context.Context, tenantID TenantID, campaignID CampaignID, requested int64, notePrefix string, actorID ActorID) (ReleaseResult, error) {
	var result ReleaseResult
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		outstanding, err := txStore.CampaignHeld(ctx, tenantID, campaignID)
		if err != nil {
			return err
		}
		wanted := requested
		if wanted == releaseAllOutstanding {
			wanted = outstanding
		}
		released, warning := clampToOutstanding(wanted, outstanding, account.Held, "release")
		result = ReleaseResult{
			Kind:      EntryRelease,
			Requested: wanted,
			Released:  released,
			Anomalous: warning != "",
			Warning:   warning,
			Available: account.Available,
			Held:      account.Held,
		}
		if released == 0 {
			return nil
		}
		balanceBefore := account.Available
		account.Held -= released
		account.Available += released
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode := service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			ActorID:        actorID,
			Kind:           EntryRelease,
			Amount:         released,
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("%s %s for campaign %s", notePrefix, FormatAmount(released), campaignID.String()),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result.EntryCode = entryCode
		result.Available = account.Available
		result.Held = account.Held
		return nil
	})
	if operationError != nil {
		return ReleaseResult{}, operationError
	}
	return result, nil
}

// clampToHeld bounds a requested movement by the held balance.
func clampToHeld(requested int64, held int64, verb string) (int64, string) {
	if requested <= held {
		return requested, ""
	}
	return held, fmt.Sprintf("requested %s of %s exceeds held %s, clamped", verb, FormatAmount(requested), FormatAmount(held))
}

// clampToOutstanding bounds a movement by both the campaign's outstanding
// hold and the account-wide held balance.
func clampToOutstanding(requested int64, outstanding int64, held int64, verb string) (int64, string) {
	bound := outstanding
	if held < bound {
		bound = held
	}
	if bound < 0 {
		bound = 0
	}
	if requested <= bound {
		return requested, ""
	}
	return bound, fmt.Sprintf("requested %s of %s exceeds outstanding hold %s, clamped", verb, FormatAmount(requested), FormatAmount(bound))
}

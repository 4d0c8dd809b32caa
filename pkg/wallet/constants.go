package wallet

const (
	operationHold             = "hold"
	operationChargeFromHold   = "charge_from_hold"
	operationRelease          = "release"
	operationFinalizeCampaign = "finalize_campaign"
	operationDirectCharge     = "direct_charge"
	operationDirectRefund     = "direct_refund"
	operationRequestTopup     = "request_topup"
	operationApproveTopup     = "approve_topup"
	operationRejectTopup      = "reject_topup"
	operationCorrection       = "correction"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

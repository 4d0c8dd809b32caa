// Package walletapi serves the wallet over HTTP for the campaign engine,
// the message dispatcher, and the admin console.
package walletapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// Run boots the HTTP facade and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service *wallet.Service) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	router, err := NewRouter(cfg, service, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires middleware and routes onto a fresh gin engine.
func NewRouter(cfg Config, service *wallet.Service, logger *zap.Logger) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(machineAuthMiddleware([]byte(cfg.MachineSigningKey), cfg.MachineIssuer))

	api.GET("/wallet/:tenant_id", handler.handleBalance)
	api.GET("/wallet/:tenant_id/entries", handler.handleEntries)
	api.POST("/provision", handler.handleProvision)
	api.POST("/hold", handler.handleHold)
	api.POST("/charge-from-hold", handler.handleChargeFromHold)
	api.POST("/release", handler.handleRelease)
	api.POST("/finalize", handler.handleFinalize)
	api.POST("/charge", handler.handleCharge)
	api.POST("/refund", handler.handleRefund)

	admin := router.Group("/admin")
	admin.Use(sessionValidator.GinMiddleware(contextKeyAuthClaims))
	admin.Use(adminRoleMiddleware(cfg.AdminRole))

	admin.POST("/topups", handler.handleTopupRequest)
	admin.POST("/topups/:code/approve", handler.handleTopupApprove)
	admin.POST("/topups/:code/reject", handler.handleTopupReject)
	admin.POST("/corrections", handler.handleCorrection)
	admin.GET("/wallets/:tenant_id/reconcile", handler.handleReconcile)

	return router, nil
}

type httpHandler struct {
	logger  *zap.Logger
	service *wallet.Service
	cfg     Config
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	tenantID, ok := handler.tenantFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	view, err := handler.service.Balance(requestCtx, tenantID)
	if err != nil {
		handler.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": balanceFromView(view)})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	tenantID, ok := handler.tenantFromPath(ctx)
	if !ok {
		return
	}
	limit := parseQueryInt(ctx.Query("limit"), defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	before := int64(parseQueryInt(ctx.Query("before"), 0))
	if before == 0 {
		before = time.Now().UTC().Add(time.Second).Unix()
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.ListEntries(requestCtx, tenantID, before, limit)
	if err != nil {
		handler.respondError(ctx, "entries", err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryFromDomain(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) handleProvision(ctx *gin.Context) {
	var request struct {
		TenantID string `json:"tenant_id"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, "provision", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.ProvisionAccount(requestCtx, tenantID)
	if err != nil {
		handler.respondError(ctx, "provision", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": balancePayload{
		TenantID:      account.TenantID.String(),
		Available:     account.Available,
		Held:          account.Held,
		Total:         account.Total(),
		LifetimeTopup: account.LifetimeTopup,
		LifetimeSpent: account.LifetimeSpent,
	}})
}

func (handler *httpHandler) handleHold(ctx *gin.Context) {
	var request holdRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, amount, campaignID, actorID, ok := handler.holdArguments(ctx, request.TenantID, request.Amount, request.CampaignID, request.ActorID)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Hold(requestCtx, tenantID, amount, campaignID, actorID)
	if err != nil {
		handler.respondError(ctx, "hold", err)
		return
	}
	ctx.JSON(http.StatusOK, holdPayload{
		EntryCode: result.EntryCode.String(),
		Available: result.Available,
		Held:      result.Held,
	})
}

func (handler *httpHandler) handleChargeFromHold(ctx *gin.Context) {
	var request holdRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, amount, campaignID, actorID, ok := handler.holdArguments(ctx, request.TenantID, request.Amount, request.CampaignID, request.ActorID)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ChargeFromHold(requestCtx, tenantID, amount, campaignID, actorID)
	if err != nil {
		handler.respondError(ctx, "charge_from_hold", err)
		return
	}
	ctx.JSON(http.StatusOK, chargeFromHoldFromResult(result))
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	var request releaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, amount, campaignID, actorID, ok := handler.holdArguments(ctx, request.TenantID, request.Amount, request.CampaignID, request.ActorID)
	if !ok {
		return
	}
	reason, err := wallet.ParseReasonCode(request.Reason)
	if err != nil {
		handler.respondError(ctx, "release", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Release(requestCtx, tenantID, amount, campaignID, reason, actorID)
	if err != nil {
		handler.respondError(ctx, "release", err)
		return
	}
	ctx.JSON(http.StatusOK, releaseFromResult(result))
}

func (handler *httpHandler) handleFinalize(ctx *gin.Context) {
	var request finalizeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, "finalize", err)
		return
	}
	campaignID, err := wallet.NewCampaignID(request.CampaignID)
	if err != nil {
		handler.respondError(ctx, "finalize", err)
		return
	}
	pricePerUnit, err := wallet.NewPositiveAmount(request.PricePerUnit)
	if err != nil {
		handler.respondError(ctx, "finalize", err)
		return
	}
	actorID, err := handler.actorOrMachine(ctx, request.ActorID)
	if err != nil {
		handler.respondError(ctx, "finalize", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.FinalizeCampaign(requestCtx, tenantID, campaignID, request.SentCount, request.UnsentCount, pricePerUnit, actorID)
	if err != nil {
		handler.respondError(ctx, "finalize", err)
		return
	}
	ctx.JSON(http.StatusOK, finalizationPayload{
		Charge:    chargeFromHoldFromResult(result.Charge),
		Unsent:    releaseFromResult(result.Unsent),
		Residual:  releaseFromResult(result.Residual),
		Anomalous: result.Anomalous,
	})
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	var request chargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, "charge", err)
		return
	}
	amount, err := wallet.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "charge", err)
		return
	}
	idempotencyKey, err := wallet.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, "charge", err)
		return
	}
	metadata, err := wallet.NewMetadataJSON(marshalMetadata(request.Metadata))
	if err != nil {
		handler.respondError(ctx, "charge", err)
		return
	}
	source := request.Source
	if source == "" {
		source = machineClient(ctx)
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.service.Charge(requestCtx, tenantID, amount, idempotencyKey, source, request.ReferenceID, metadata)
	if err != nil {
		handler.respondError(ctx, "charge", err)
		return
	}
	ctx.JSON(http.StatusOK, chargePayload{
		EntryCode: outcome.EntryCode.String(),
		Charged:   outcome.Charged,
		Available: outcome.Available,
		Status:    outcome.Status.String(),
	})
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.service.Refund(requestCtx, request.Reference, request.Reason)
	if err != nil {
		handler.respondError(ctx, "refund", err)
		return
	}
	ctx.JSON(http.StatusOK, refundPayload{
		EntryCode:         outcome.EntryCode.String(),
		OriginalEntryCode: outcome.OriginalEntryCode.String(),
		Refunded:          outcome.Refunded,
		Available:         outcome.Available,
	})
}

func (handler *httpHandler) handleTopupRequest(ctx *gin.Context) {
	var request topupRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, "topup_request", err)
		return
	}
	amount, err := wallet.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "topup_request", err)
		return
	}
	adminID, err := handler.adminActor(ctx)
	if err != nil {
		handler.respondError(ctx, "topup_request", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	pending, err := handler.service.RequestTopup(requestCtx, tenantID, amount, request.Method, request.ProofReference, adminID)
	if err != nil {
		handler.respondError(ctx, "topup_request", err)
		return
	}
	ctx.JSON(http.StatusOK, pendingTopupPayload{
		EntryCode: pending.EntryCode.String(),
		Amount:    pending.Amount,
		Status:    pending.Status.String(),
	})
}

func (handler *httpHandler) handleTopupApprove(ctx *gin.Context) {
	handler.resolveTopup(ctx, true)
}

func (handler *httpHandler) handleTopupReject(ctx *gin.Context) {
	handler.resolveTopup(ctx, false)
}

func (handler *httpHandler) resolveTopup(ctx *gin.Context, approve bool) {
	entryCode, err := wallet.NewEntryCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, "topup_resolve", err)
		return
	}
	var request topupDecisionRequest
	if bindErr := ctx.ShouldBindJSON(&request); bindErr != nil && ctx.Request.ContentLength > 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	adminID, err := handler.adminActor(ctx)
	if err != nil {
		handler.respondError(ctx, "topup_resolve", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	var resolution wallet.TopupResolution
	if approve {
		resolution, err = handler.service.ApproveTopup(requestCtx, entryCode, adminID, request.Note)
	} else {
		resolution, err = handler.service.RejectTopup(requestCtx, entryCode, adminID, request.Note)
	}
	if err != nil {
		handler.respondError(ctx, "topup_resolve", err)
		return
	}
	ctx.JSON(http.StatusOK, topupResolutionPayload{
		EntryCode: resolution.EntryCode.String(),
		Status:    resolution.Status.String(),
		Amount:    resolution.Amount,
		Available: resolution.Available,
	})
}

func (handler *httpHandler) handleCorrection(ctx *gin.Context) {
	var request correctionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tenantID, err := wallet.NewTenantID(request.TenantID)
	if err != nil {
		handler.respondError(ctx, "correction", err)
		return
	}
	amount, err := wallet.NewSignedAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "correction", err)
		return
	}
	adminID, err := handler.adminActor(ctx)
	if err != nil {
		handler.respondError(ctx, "correction", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Correct(requestCtx, tenantID, amount, request.Reason, adminID)
	if err != nil {
		handler.respondError(ctx, "correction", err)
		return
	}
	ctx.JSON(http.StatusOK, correctionPayload{
		EntryCode:     result.EntryCode.String(),
		Amount:        result.Amount,
		BalanceBefore: result.BalanceBefore,
		BalanceAfter:  result.BalanceAfter,
	})
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	tenantID, ok := handler.tenantFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.service.Reconcile(requestCtx, tenantID)
	if err != nil {
		handler.respondError(ctx, "reconcile", err)
		return
	}
	ctx.JSON(http.StatusOK, reconciliationPayload{
		TenantID:          report.TenantID.String(),
		Available:         report.Available,
		ExpectedAvailable: report.ExpectedAvailable,
		Drift:             report.Drift,
		Balanced:          report.Balanced,
	})
}

func (handler *httpHandler) holdArguments(ctx *gin.Context, rawTenant string, rawAmount int64, rawCampaign string, rawActor string) (wallet.TenantID, wallet.PositiveAmount, wallet.CampaignID, wallet.ActorID, bool) {
	tenantID, err := wallet.NewTenantID(rawTenant)
	if err != nil {
		handler.respondError(ctx, "request", err)
		return wallet.TenantID{}, 0, wallet.CampaignID{}, wallet.ActorID{}, false
	}
	amount, err := wallet.NewPositiveAmount(rawAmount)
	if err != nil {
		handler.respondError(ctx, "request", err)
		return wallet.TenantID{}, 0, wallet.CampaignID{}, wallet.ActorID{}, false
	}
	campaignID, err := wallet.NewCampaignID(rawCampaign)
	if err != nil {
		handler.respondError(ctx, "request", err)
		return wallet.TenantID{}, 0, wallet.CampaignID{}, wallet.ActorID{}, false
	}
	actorID, err := handler.actorOrMachine(ctx, rawActor)
	if err != nil {
		handler.respondError(ctx, "request", err)
		return wallet.TenantID{}, 0, wallet.CampaignID{}, wallet.ActorID{}, false
	}
	return tenantID, amount, campaignID, actorID, true
}

// actorOrMachine falls back to the authenticated machine client when the
// payload does not attribute the operation to a specific actor.
func (handler *httpHandler) actorOrMachine(ctx *gin.Context, raw string) (wallet.ActorID, error) {
	if raw == "" {
		raw = machineClient(ctx)
	}
	return wallet.NewActorID(raw)
}

func (handler *httpHandler) adminActor(ctx *gin.Context) (wallet.ActorID, error) {
	claims := getClaims(ctx)
	if claims == nil {
		return wallet.ActorID{}, wallet.ErrInvalidActorID
	}
	return wallet.NewActorID(claims.GetUserID())
}

func (handler *httpHandler) tenantFromPath(ctx *gin.Context) (wallet.TenantID, bool) {
	tenantID, err := wallet.NewTenantID(ctx.Param("tenant_id"))
	if err != nil {
		handler.respondError(ctx, "request", err)
		return wallet.TenantID{}, false
	}
	return tenantID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code := mapDomainError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("wallet operation failed", zap.String("operation", operation), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

var validationErrors = []error{
	wallet.ErrInvalidTenantID,
	wallet.ErrInvalidCampaignID,
	wallet.ErrInvalidActorID,
	wallet.ErrInvalidIdempotencyKey,
	wallet.ErrInvalidEntryCode,
	wallet.ErrInvalidAmount,
	wallet.ErrInvalidEntryKind,
	wallet.ErrInvalidTopupStatus,
	wallet.ErrInvalidReasonCode,
	wallet.ErrInvalidMetadataJSON,
	wallet.ErrBelowMinimumTopup,
}

func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, wallet.ErrAccountNotFound),
		errors.Is(err, wallet.ErrEntryNotFound),
		errors.Is(err, wallet.ErrOriginalTransactionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, wallet.ErrAlreadyRefunded):
		return http.StatusConflict, "already_refunded"
	case errors.Is(err, wallet.ErrInvalidTopupState):
		return http.StatusConflict, "invalid_topup_state"
	case errors.Is(err, wallet.ErrDuplicateIdempotencyKey),
		errors.Is(err, wallet.ErrDuplicateEntryCode),
		errors.Is(err, wallet.ErrAccountExists):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, wallet.ErrLockTimeout):
		return http.StatusServiceUnavailable, "lock_timeout"
	}
	for _, validationError := range validationErrors {
		if errors.Is(err, validationError) {
			return http.StatusUnprocessableEntity, "invalid_request"
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func parseQueryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/tripnest-backend/api/responses"
	"github.com/tripnest/tripnest-backend/api/validators"
	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

const merchantIDParam = "merchantId"

// SettlementAccounts is the provisioning surface used by the merchant routes.
type SettlementAccounts interface {
	Provision(ctx context.Context, input merchants.ProvisionInput) (*models.MerchantAccount, error)
	Account(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error)
	CreateOnboardingLink(ctx context.Context, merchantID uuid.UUID) (string, error)
}

type provisionRequest struct {
	Country      string `json:"country" validate:"required,len=2"`
	BusinessType string `json:"businessType" validate:"required"`
}

type requirementsResponse struct {
	CurrentlyDue  []string `json:"currentlyDue"`
	PastDue       []string `json:"pastDue"`
	EventuallyDue []string `json:"eventuallyDue"`
}

type settlementAccountResponse struct {
	MerchantID         uuid.UUID            `json:"merchantId"`
	ProcessorAccountID string               `json:"processorAccountId"`
	Status             string               `json:"status"`
	Payable            bool                 `json:"payable"`
	ChargesEnabled     bool                 `json:"chargesEnabled"`
	PayoutsEnabled     bool                 `json:"payoutsEnabled"`
	DisabledReason     *string              `json:"disabledReason,omitempty"`
	RequiresReview     bool                 `json:"requiresReview"`
	Requirements       requirementsResponse `json:"requirements"`
	LastSyncAt         time.Time            `json:"lastSyncAt"`
}

// ProvisionSettlementAccount creates or returns the merchant's connected account.
func ProvisionSettlementAccount(svc SettlementAccounts, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		merchantID, err := validators.ParseUUIDParam(r, merchantIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload provisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Provision(r.Context(), merchants.ProvisionInput{
			MerchantID:   merchantID,
			Country:      payload.Country,
			BusinessType: payload.BusinessType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSettlementAccountResponse(account))
	}
}

// GetSettlementAccount returns the stored account without a processor round trip.
func GetSettlementAccount(svc SettlementAccounts, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		merchantID, err := validators.ParseUUIDParam(r, merchantIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.Account(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSettlementAccountResponse(account))
	}
}

func CreateOnboardingLink(svc SettlementAccounts, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		merchantID, err := validators.ParseUUIDParam(r, merchantIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		url, err := svc.CreateOnboardingLink(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"url": url})
	}
}

func newSettlementAccountResponse(account *models.MerchantAccount) settlementAccountResponse {
	if account == nil {
		return settlementAccountResponse{}
	}
	return settlementAccountResponse{
		MerchantID:         account.MerchantID,
		ProcessorAccountID: account.ProcessorAccountID,
		Status:             string(account.Status),
		Payable:            account.IsPayable(),
		ChargesEnabled:     account.ChargesEnabled,
		PayoutsEnabled:     account.PayoutsEnabled,
		DisabledReason:     account.DisabledReason,
		RequiresReview:     account.RequiresReview,
		Requirements: requirementsResponse{
			CurrentlyDue:  nonNil(account.RequirementsCurrentlyDue),
			PastDue:       nonNil(account.RequirementsPastDue),
			EventuallyDue: nonNil(account.RequirementsEventuallyDue),
		},
		LastSyncAt: account.LastSyncAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

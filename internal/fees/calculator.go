package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// FeePolicy describes the platform's own commission. Percent is applied to
// the base amount.
type FeePolicy struct {
	Kind        enums.FeePolicyKind
	AmountCents int64
	Percent     decimal.Decimal
}

// TaxPolicy is a percentage charged on the base amount only.
type TaxPolicy struct {
	Percent decimal.Decimal
}

// ProcessorFeeModel is the linear estimate of the processor's own pricing:
// RatePercent of the gross charge plus FixedCents.
type ProcessorFeeModel struct {
	RatePercent decimal.Decimal
	FixedCents  int64
}

// Breakdown is the frozen money split of one checkout. All values are cents.
type Breakdown struct {
	BaseAmountCents           int64 `json:"baseAmountCents"`
	PlatformFeeCents          int64 `json:"platformFeeCents"`
	TaxCents                  int64 `json:"taxCents"`
	TotalAmountCents          int64 `json:"totalAmountCents"`
	ProcessorFeeEstimateCents int64 `json:"processorFeeEstimateCents"`
	ApplicationFeeCents       int64 `json:"applicationFeeCents"`
	MerchantNetCents          int64 `json:"merchantNetCents"`
}

// PlatformPolicyFromConfig builds the configured platform fee policy.
func PlatformPolicyFromConfig(cfg config.FeesConfig) (FeePolicy, error) {
	kind, err := enums.ParseFeePolicyKind(cfg.PlatformFeeKind)
	if err != nil {
		return FeePolicy{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid platform fee policy")
	}
	return FeePolicy{
		Kind:        kind,
		AmountCents: cfg.PlatformFeeFixedCents,
		Percent:     cfg.PlatformPercent(),
	}, nil
}

// ProcessorModelFromConfig builds the configured processor fee estimate.
func ProcessorModelFromConfig(cfg config.FeesConfig) ProcessorFeeModel {
	return ProcessorFeeModel{
		RatePercent: cfg.ProcessorRate(),
		FixedCents:  cfg.ProcessorFixedCents,
	}
}

// ComputeBreakdown splits a booking price into the gross charge, the
// platform's application fee and the merchant's net. Rounding is half away
// from zero on whole cents. The application fee never exceeds the total.
func ComputeBreakdown(baseAmountCents int64, platform FeePolicy, tax TaxPolicy, model ProcessorFeeModel) (Breakdown, error) {
	if err := validateInputs(baseAmountCents, platform, tax, model); err != nil {
		return Breakdown{}, err
	}

	base := decimal.NewFromInt(baseAmountCents)

	var platformFee int64
	switch platform.Kind {
	case enums.FeePolicyFixed:
		platformFee = platform.AmountCents
	case enums.FeePolicyPercentage:
		platformFee = percentOf(base, platform.Percent)
	case enums.FeePolicyNone:
		platformFee = 0
	}

	taxCents := percentOf(base, tax.Percent)
	total := baseAmountCents + platformFee + taxCents

	processorFee := percentOf(decimal.NewFromInt(total), model.RatePercent) + model.FixedCents
	applicationFee := platformFee + processorFee
	if applicationFee > total {
		applicationFee = total
	}

	return Breakdown{
		BaseAmountCents:           baseAmountCents,
		PlatformFeeCents:          platformFee,
		TaxCents:                  taxCents,
		TotalAmountCents:          total,
		ProcessorFeeEstimateCents: processorFee,
		ApplicationFeeCents:       applicationFee,
		MerchantNetCents:          total - applicationFee,
	}, nil
}

// ProratedApplicationFee returns the share of the application fee that
// belongs to a partial refund of refundAmountCents.
func ProratedApplicationFee(applicationFeeCents, totalAmountCents, refundAmountCents int64) int64 {
	if totalAmountCents <= 0 || refundAmountCents <= 0 || applicationFeeCents <= 0 {
		return 0
	}
	if refundAmountCents >= totalAmountCents {
		return applicationFeeCents
	}
	share := decimal.NewFromInt(applicationFeeCents).
		Mul(decimal.NewFromInt(refundAmountCents)).
		Div(decimal.NewFromInt(totalAmountCents))
	return share.Round(0).IntPart()
}

func percentOf(amount, percent decimal.Decimal) int64 {
	if percent.IsZero() {
		return 0
	}
	return amount.Mul(percent).Div(hundred).Round(0).IntPart()
}

func validateInputs(base int64, platform FeePolicy, tax TaxPolicy, model ProcessorFeeModel) error {
	details := map[string]string{}
	if base <= 0 {
		details["baseAmountCents"] = "must be greater than zero"
	}
	switch platform.Kind {
	case enums.FeePolicyFixed:
		if platform.AmountCents < 0 {
			details["platformFee.amountCents"] = "must not be negative"
		}
	case enums.FeePolicyPercentage:
		if platform.Percent.IsNegative() {
			details["platformFee.percent"] = "must not be negative"
		}
	case enums.FeePolicyNone:
	default:
		details["platformFee.kind"] = fmt.Sprintf("unknown policy kind %q", platform.Kind)
	}
	if tax.Percent.IsNegative() {
		details["tax.percent"] = "must not be negative"
	}
	if model.RatePercent.IsNegative() {
		details["processor.ratePercent"] = "must not be negative"
	}
	if model.FixedCents < 0 {
		details["processor.fixedCents"] = "must not be negative"
	}
	if len(details) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid fee inputs").WithDetails(details)
}

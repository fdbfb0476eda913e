package settlement

import (
	"fmt"
	"math"
	"sort"

	"fundflow-settlement/pkg/errutil"
)

// shareSumEpsilon absorbs float noise when validating that combined fractions
// stay at or below 1 (three 1/3 shares must not trip the overflow guard).
const shareSumEpsilon = 1e-9

type ShareInput struct {
	StakeholderID string
	Fraction      float64
}

type ShareAllocation struct {
	StakeholderID string  `json:"stakeholder_id"`
	Fraction      float64 `json:"fraction"`
	Amount        int64   `json:"amount"`
	Percentage    float64 `json:"percentage"`
}

type BreakdownInput struct {
	TotalRaised        int64
	PlatformFeeRate    float64
	GatewayFees        int64
	PartnerShares      []ShareInput
	CollaboratorShares []ShareInput
}

// Breakdown is the exact, fully-accounted split of a campaign's proceeds.
// It doubles as the settlement's audit payload, so every field is tagged.
type Breakdown struct {
	TotalRaised        int64             `json:"total_raised"`
	PlatformFeeRate    float64           `json:"platform_fee_rate"`
	PlatformFee        int64             `json:"platform_fee"`
	GatewayFees        int64             `json:"gateway_fees"`
	NetAmount          int64             `json:"net_amount"`
	CreatorAmount      int64             `json:"creator_amount"`
	PartnerAmount      int64             `json:"partner_amount"`
	CollaboratorAmount int64             `json:"collaborator_amount"`
	Partners           []ShareAllocation `json:"partners"`
	Collaborators      []ShareAllocation `json:"collaborators"`
}

// ComputeBreakdown splits totalRaised between the platform, the gateway, the
// partner and collaborator pools, and the creator. Pure function, no I/O.
//
// Each pool is allocated with the largest-remainder method so the pool's
// integer total equals round(netAmount * poolFraction) exactly. The creator
// takes the residual, which guarantees conservation without a third rounding
// pass: platformFee + gatewayFees + partners + collaborators + creator ==
// totalRaised whenever fees do not exceed the total.
func ComputeBreakdown(in BreakdownInput) (*Breakdown, error) {
	if in.TotalRaised <= 0 {
		return nil, errutil.BadRequest("total raised must be a positive amount", nil)
	}
	if math.IsNaN(in.PlatformFeeRate) || in.PlatformFeeRate < 0 || in.PlatformFeeRate > 1 {
		return nil, errutil.BadRequest("platform fee rate must be within [0, 1]", nil)
	}
	if in.GatewayFees < 0 {
		return nil, errutil.BadRequest("gateway fees must not be negative", nil)
	}

	// Zero and negative fractions are a defined normalization, not an error.
	partners := dropNonPositive(in.PartnerShares)
	collaborators := dropNonPositive(in.CollaboratorShares)

	combined := sumFractions(partners) + sumFractions(collaborators)
	if combined > 1+shareSumEpsilon {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("stakeholder shares exceed 100%%: combined fraction %.4f", combined), nil)
	}

	platformFee := int64(math.Round(float64(in.TotalRaised) * in.PlatformFeeRate))
	netAmount := in.TotalRaised - platformFee - in.GatewayFees
	if netAmount < 0 {
		netAmount = 0
	}

	partnerAllocs, partnerTotal := allocatePool(netAmount, partners)
	collabAllocs, collabTotal := allocatePool(netAmount, collaborators)

	creator := netAmount - partnerTotal - collabTotal
	if creator < 0 {
		creator = 0
	}

	return &Breakdown{
		TotalRaised:        in.TotalRaised,
		PlatformFeeRate:    in.PlatformFeeRate,
		PlatformFee:        platformFee,
		GatewayFees:        in.GatewayFees,
		NetAmount:          netAmount,
		CreatorAmount:      creator,
		PartnerAmount:      partnerTotal,
		CollaboratorAmount: collabTotal,
		Partners:           partnerAllocs,
		Collaborators:      collabAllocs,
	}, nil
}

func dropNonPositive(shares []ShareInput) []ShareInput {
	kept := make([]ShareInput, 0, len(shares))
	for _, s := range shares {
		if s.Fraction > 0 {
			kept = append(kept, s)
		}
	}
	return kept
}

func sumFractions(shares []ShareInput) float64 {
	var sum float64
	for _, s := range shares {
		sum += s.Fraction
	}
	return sum
}

// allocatePool distributes the pool's slice of netAmount across its shares.
// Bases are floored, then the units still owed against the pool target
// (round(netAmount * poolFraction)) are handed out one each in descending
// order of fractional remainder, ties broken by input order.
func allocatePool(netAmount int64, shares []ShareInput) ([]ShareAllocation, int64) {
	if netAmount <= 0 || len(shares) == 0 {
		return []ShareAllocation{}, 0
	}

	target := int64(math.Round(float64(netAmount) * sumFractions(shares)))
	if target > netAmount {
		target = netAmount
	}

	allocs := make([]ShareAllocation, len(shares))
	remainders := make([]float64, len(shares))
	var allocated int64
	for i, s := range shares {
		raw := float64(netAmount) * s.Fraction
		base := int64(math.Floor(raw + shareSumEpsilon))
		allocs[i] = ShareAllocation{
			StakeholderID: s.StakeholderID,
			Fraction:      s.Fraction,
			Amount:        base,
		}
		remainders[i] = raw - float64(base)
		allocated += base
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})

	for _, idx := range order {
		if allocated >= target {
			break
		}
		allocs[idx].Amount++
		allocated++
	}

	for i := range allocs {
		allocs[i].Percentage = percentageOf(allocs[i].Amount, netAmount)
	}

	return allocs, allocated
}

func percentageOf(amount, netAmount int64) float64 {
	if netAmount <= 0 {
		return 0
	}
	return float64(amount) / float64(netAmount) * 100
}

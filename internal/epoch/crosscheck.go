package epoch

import (
	"fmt"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
)

// CrossCheck compares what both chains report against the local epoch and
// returns every incompatible fact, each wrapping types.ErrInconsistentState.
// Either state may be nil when that chain could not be read.
// Nothing is repaired here; the caller surfaces the result to an operator.
func (m *Machine) CrossCheck(settlement *interfaces.SettlementPoolState, privacy *interfaces.PrivacyPoolState) error {
	s := m.Snapshot()
	var result *multierror.Error
	fact := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf("%w: %s", types.ErrInconsistentState, fmt.Sprintf(format, args...)))
	}
	rank := s.Status.Rank()
	collecting := models.EpochStatusCollecting.Rank()

	if privacy != nil {
		local := s.Commitments()
		switch {
		case privacy.ParticipantCount < len(local):
			fact("privacy chain has %d commitment(s), coordinator registered %d", privacy.ParticipantCount, len(local))
		case privacy.ParticipantCount > len(local) && rank > collecting:
			fact("privacy chain has %d commitment(s) after lock, coordinator registered %d", privacy.ParticipantCount, len(local))
		}
		if len(privacy.Commitments) == len(local) {
			for i := range local {
				if privacy.Commitments[i] != local[i] {
					fact("commitment order differs at position %d", i)
					break
				}
			}
		}
		if rank == collecting && len(privacy.Randomness) > 0 {
			fact("selection randomness published while deposits are still open")
		}
		if rank > collecting && !privacy.Locked {
			fact("epoch is %s but privacy pool is not locked", s.Status)
		}
		if rank >= models.EpochStatusDistributing.Rank() {
			if !privacy.WinnerSelected {
				fact("winner recorded locally but not declared on privacy chain")
			} else if privacy.WinnerCommitment != s.WinnerCommitment {
				fact("privacy chain winner %s, coordinator winner %s", privacy.WinnerCommitment.Hex(), s.WinnerCommitment.Hex())
			}
		}
	}

	if settlement != nil {
		if rank >= models.EpochStatusSelectingWinner.Rank() && settlement.Status == models.SettlementPoolOpen {
			fact("stake confirmed locally but settlement chain shows no stake initiated")
		}
		if rank > collecting && settlement.TotalDeposited != nil && settlement.TotalDeposited.Lt(s.TotalDeposited) {
			fact("settlement pool holds %s, coordinator sealed %s", settlement.TotalDeposited.Dec(), s.TotalDeposited.Dec())
		}
		if settlement.Status == models.SettlementPoolFinalized && settlement.WinnerCommitment != (common.Hash{}) &&
			settlement.WinnerCommitment != s.WinnerCommitment {
			fact("settlement winner %s, coordinator winner %s", settlement.WinnerCommitment.Hex(), s.WinnerCommitment.Hex())
		}
	}

	if privacy != nil && settlement != nil {
		if privacy.WinnerSelected && settlement.Status == models.SettlementPoolFinalized &&
			privacy.WinnerCommitment != settlement.WinnerCommitment {
			fact("chains disagree on winner")
		}
	}

	return result.ErrorOrNil()
}

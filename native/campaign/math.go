package campaign

import "math/big"

// payoutPrecision is the fixed-point basis used for proportional payouts and
// the progress query: 10000 represents 100.00%.
var payoutPrecision = big.NewInt(10_000)

// convertToTarget applies the NO-first bet-to-donate conversion, draining the
// shortfall between donated and target out of the no pool first and the yes
// pool for any remainder. It returns the post-conversion donated/yes/no
// aggregates and the shortfall that was covered. Inputs are not mutated.
//
// Conversion rewrites aggregates only; individual positions keep the amounts
// as placed and are reconciled against the post-conversion pool at claim
// time.
func convertToTarget(donated, yesBets, noBets, target *big.Int) (newDonated, newYes, newNo, converted *big.Int) {
	newDonated = cloneBigInt(donated)
	newYes = cloneBigInt(yesBets)
	newNo = cloneBigInt(noBets)
	converted = big.NewInt(0)
	if target == nil || newDonated.Cmp(target) >= 0 {
		return newDonated, newYes, newNo, converted
	}
	remaining := new(big.Int).Sub(target, newDonated)
	pool := new(big.Int).Add(newYes, newNo)
	if pool.Cmp(remaining) < 0 {
		return newDonated, newYes, newNo, converted
	}
	if newNo.Cmp(remaining) >= 0 {
		newNo.Sub(newNo, remaining)
	} else {
		fromYes := new(big.Int).Sub(remaining, newNo)
		newNo.SetInt64(0)
		newYes.Sub(newYes, fromYes)
	}
	newDonated.Add(newDonated, remaining)
	converted.Set(remaining)
	return newDonated, newYes, newNo, converted
}

// payoutShare computes the proportional payout for a winning bet:
// shareRatio = userBet * precision / totalWinningBets, then
// amount = pool * shareRatio / precision. The two-step fixed-point form keeps
// the truncation bias of a single division out of the ratio.
func payoutShare(userBet, totalWinningBets, pool *big.Int) *big.Int {
	if userBet == nil || userBet.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalWinningBets == nil || totalWinningBets.Sign() == 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(userBet, payoutPrecision)
	ratio.Div(ratio, totalWinningBets)
	amount := new(big.Int).Mul(cloneBigInt(pool), ratio)
	return amount.Div(amount, payoutPrecision)
}

// progressBps returns donated progress toward target in integer basis points.
func progressBps(donated, target *big.Int) *big.Int {
	if target == nil || target.Sign() <= 0 {
		return big.NewInt(0)
	}
	bps := new(big.Int).Mul(cloneBigInt(donated), payoutPrecision)
	return bps.Div(bps, target)
}

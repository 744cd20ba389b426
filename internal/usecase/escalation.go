package usecase

import (
	"math"
	"math/big"
	"strings"
	"time"
)

const (
	slippageStepPct     = 10
	slippageStepCap     = 30
	slippageHintBonus   = 15
	slippageExtraCap    = 49
	maxSlippagePct      = 99
	gasStep             = 0.2
	gasStepAfterGasHint = 0.4
	gasHintMultiplier   = 1.5
)

// EscalationParams are the tuned knobs for attempt n of an execution call.
type EscalationParams struct {
	SlippagePct   float64
	GasMultiplier float64
	GasLimit      uint64
	Deadline      time.Duration
}

// Escalator derives per-attempt parameters from the attempt index and the
// failure history accumulated so far in the same call.
type Escalator struct {
	BaseSlippagePct   float64
	BaseGasMultiplier float64
	BaseGasLimit      uint64
	DeadlineWindow    time.Duration
	DeadlineStep      time.Duration
}

func (e Escalator) For(n int, history []string) EscalationParams {
	slippage := e.BaseSlippagePct + ExtraSlippage(n, history)
	if slippage > maxSlippagePct {
		slippage = maxSlippagePct
	}
	return EscalationParams{
		SlippagePct:   slippage,
		GasMultiplier: GasMultiplier(e.BaseGasMultiplier, n, history),
		GasLimit:      GasLimit(e.BaseGasLimit, n, history),
		Deadline:      e.DeadlineWindow + time.Duration(n)*e.DeadlineStep,
	}
}

// ExtraSlippage is min(10n, 30) points, plus 15 once a price impact or
// slippage failure has been seen, never more than 49.
func ExtraSlippage(n int, history []string) float64 {
	extra := float64(min(slippageStepPct*n, slippageStepCap))
	if mentions(history, "price impact", "slippage") {
		extra += slippageHintBonus
	}
	return min(extra, slippageExtraCap)
}

func GasMultiplier(base float64, n int, history []string) float64 {
	m := base * (1 + gasStep*float64(n))
	if mentions(history, "gas") {
		m *= gasHintMultiplier
	}
	return m
}

func GasLimit(base uint64, n int, history []string) uint64 {
	step := gasStep
	if mentions(history, "gas") {
		step = gasStepAfterGasHint
	}
	return uint64(math.Round(float64(base) * (1 + step*float64(n))))
}

// ReduceAmount scales amount by 0.8^n, or by 0.5^n once a gas or "exceed"
// failure has been seen.
func ReduceAmount(amount *big.Int, n int, history []string) *big.Int {
	out := new(big.Int).Set(amount)
	if n <= 0 {
		return out
	}
	if mentions(history, "gas", "exceed") {
		return out.Rsh(out, uint(n))
	}
	num := new(big.Int).Exp(big.NewInt(4), big.NewInt(int64(n)), nil)
	den := new(big.Int).Exp(big.NewInt(5), big.NewInt(int64(n)), nil)
	out.Mul(out, num)
	return out.Quo(out, den)
}

// ApplySlippage returns the minimum acceptable output for expected.
func ApplySlippage(expected *big.Int, slippagePct float64) *big.Int {
	keepBps := int64(math.Round((100 - slippagePct) * 100))
	if keepBps < 0 {
		keepBps = 0
	}
	out := new(big.Int).Mul(expected, big.NewInt(keepBps))
	return out.Quo(out, big.NewInt(10000))
}

// ScaleGasPrice multiplies price by m with milli precision.
func ScaleGasPrice(price *big.Int, m float64) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(int64(math.Round(m*1000))))
	return out.Quo(out, big.NewInt(1000))
}

func mentions(history []string, needles ...string) bool {
	for _, h := range history {
		lh := strings.ToLower(h)
		for _, n := range needles {
			if strings.Contains(lh, n) {
				return true
			}
		}
	}
	return false
}

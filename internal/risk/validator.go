package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chart-signal/internal/ai"
	"chart-signal/internal/config"
)

// Validator 对模型信号执行方向与盈亏比校验。
type Validator struct {
	cfg    config.ValidationConfig
	logger *zap.Logger
}

// NewValidator 创建信号校验器。
func NewValidator(cfg config.ValidationConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate 以参考价校验信号。参考价为空时直接放行。
func (v *Validator) Validate(sig ai.TradeSignal, ref *decimal.Decimal) Result {
	if ref == nil {
		v.logger.Info("缺少参考价，跳过信号校验", zap.String("direction", string(sig.Direction)))
		return Result{Accepted: true}
	}

	p := *ref
	result := Result{Accepted: true, Checked: true, Reasons: make([]string, 0, 2)}

	switch sig.Direction {
	case ai.DirectionBuy:
		if !sig.StopLoss.LessThan(p) {
			result.Accepted = false
			result.Reasons = append(result.Reasons, ReasonStopLossWrongSide)
		}
		if !sig.TakeProfit.GreaterThan(p) {
			result.Accepted = false
			result.Reasons = append(result.Reasons, ReasonTakeProfitWrongSide)
		}
	case ai.DirectionSell:
		if !sig.StopLoss.GreaterThan(p) {
			result.Accepted = false
			result.Reasons = append(result.Reasons, ReasonStopLossWrongSide)
		}
		if !sig.TakeProfit.LessThan(p) {
			result.Accepted = false
			result.Reasons = append(result.Reasons, ReasonTakeProfitWrongSide)
		}
	default:
		result.Accepted = false
		result.Reasons = append(result.Reasons, fmt.Sprintf("未知方向: %s", sig.Direction))
	}

	loss := p.Sub(sig.StopLoss).Abs()
	if loss.IsZero() {
		result.Reasons = append(result.Reasons, ReasonZeroRisk)
	} else {
		reward := sig.TakeProfit.Sub(p).Abs()
		result.Ratio = reward.Div(loss).Round(4).InexactFloat64()
	}

	if result.Accepted && v.cfg.MinRiskReward > 0 && result.Ratio < v.cfg.MinRiskReward {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("盈亏比 %.2f 低于最小要求 %.2f", result.Ratio, v.cfg.MinRiskReward))
		if v.cfg.HardReject {
			result.Accepted = false
		}
	}

	fields := []zap.Field{
		zap.String("direction", string(sig.Direction)),
		zap.Stringer("price", p),
		zap.Stringer("stop_loss", sig.StopLoss),
		zap.Stringer("take_profit", sig.TakeProfit),
		zap.Float64("ratio", result.Ratio),
		zap.Strings("reasons", result.Reasons),
	}
	if result.Accepted {
		v.logger.Info("信号校验通过", fields...)
	} else {
		v.logger.Warn("信号校验未通过", fields...)
	}

	return result
}

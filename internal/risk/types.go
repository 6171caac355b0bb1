package risk

// 拒绝原因。
const (
	ReasonStopLossWrongSide   = "止损位于参考价错误一侧 (stop-loss on wrong side)"
	ReasonTakeProfitWrongSide = "止盈位于参考价错误一侧 (take-profit on wrong side)"
	ReasonZeroRisk            = "止损与参考价重合，无法计算盈亏比"
)

// Result 为信号校验结果。
type Result struct {
	// Accepted 为 false 时本周期视为无信号。
	Accepted bool `json:"accepted"`
	// Checked 为 false 表示参考价未知，方向与盈亏比检查均被跳过。
	Checked bool     `json:"checked"`
	Ratio   float64  `json:"ratio"`
	Reasons []string `json:"reasons,omitempty"`
}

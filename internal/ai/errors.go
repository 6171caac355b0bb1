package ai

import "errors"

var (
	// ErrNoSnapshots 表示没有可用截图，请求不会发出。
	ErrNoSnapshots = errors.New("no chart snapshots to analyze")
	// ErrServiceUnavailable 表示模型服务暂时不可用（HTTP 503），可重试。
	ErrServiceUnavailable = errors.New("completion service temporarily unavailable")
	// ErrService 表示不可重试的模型服务错误。
	ErrService = errors.New("completion service error")
	// ErrMalformedResponse 表示模型输出无法解析为交易信号。
	ErrMalformedResponse = errors.New("malformed completion payload")
)

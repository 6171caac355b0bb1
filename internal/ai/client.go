package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chart-signal/internal/chart"
	"chart-signal/internal/config"
)

// Client 封装多模态图表分析调用，维护有限长度的对话上下文。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client

	mu      sync.Mutex
	history *conversation

	wait func(ctx context.Context, d time.Duration) error
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		sdk:     openai.NewClientWithConfig(sdkConfig),
		history: newConversation(cfg.HistoryLimit),
		wait:    waitContext,
	}, nil
}

// Analyze 将各周期截图与当前价格发送给模型并解析交易信号。
// 模型输出无法解析时返回 Signal 为空的 Analysis 与 nil 错误。
func (c *Client) Analyze(ctx context.Context, images map[chart.Timeframe]string, price *decimal.Decimal, symbol string) (Analysis, error) {
	if len(images) == 0 {
		return Analysis{}, ErrNoSnapshots
	}

	parts, labels := c.imageParts(images)
	if len(parts) == 0 {
		return Analysis{}, fmt.Errorf("%w: 截图文件均不可读", ErrNoSnapshots)
	}

	promptCtx := PromptContext{Symbol: symbol, Timeframes: labels}
	if price != nil {
		promptCtx.Price = price.String()
	}
	prompt, err := BuildPrompt(promptCtx)
	if err != nil {
		return Analysis{}, err
	}

	userMsg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: prompt,
		}}, parts...),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rollback := c.history.push(userMsg)
	response, err := c.callWithRetry(ctx, c.history.snapshot())
	if err != nil {
		rollback()
		return Analysis{}, err
	}
	if len(response.Choices) == 0 {
		rollback()
		return Analysis{}, fmt.Errorf("%w: 返回结果为空", ErrService)
	}

	raw := response.Choices[0].Message.Content
	c.history.commit(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: raw,
	})

	signal, err := ParseSignal(raw)
	if err != nil {
		c.logger.Warn("解析模型信号失败",
			zap.Error(err),
			zap.String("raw_content", raw),
		)
		return Analysis{Raw: raw, Problem: err.Error()}, nil
	}

	c.logger.Info("AI 信号生成成功",
		zap.String("symbol", symbol),
		zap.String("direction", string(signal.Direction)),
		zap.Stringer("lot", signal.Lot),
		zap.Stringer("stop_loss", signal.StopLoss),
		zap.Stringer("take_profit", signal.TakeProfit),
	)

	return Analysis{Raw: raw, Signal: &signal}, nil
}

// Reset 清空对话上下文。
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.reset()
}

func (c *Client) imageParts(images map[chart.Timeframe]string) ([]openai.ChatMessagePart, []string) {
	parts := make([]openai.ChatMessagePart, 0, len(images))
	labels := make([]string, 0, len(images))
	for _, tf := range chart.Timeframes {
		path, ok := images[tf]
		if !ok || path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("读取截图失败", zap.Stringer("timeframe", tf), zap.Error(err))
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
		labels = append(labels, tf.String())
	}
	return parts, labels
}

func (c *Client) callWithRetry(ctx context.Context, messages []openai.ChatCompletionMessage) (openai.ChatCompletionResponse, error) {
	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var lastErr error
	delay := c.cfg.Retry.BaseDelay
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		response, err := c.sdk.CreateChatCompletion(attemptCtx, request)
		cancel()
		if err == nil {
			return response, nil
		}

		if !isUnavailable(err) {
			c.logger.Error("调用模型服务失败", zap.Int("attempt", attempt), zap.Error(err))
			return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %w", ErrService, err)
		}

		lastErr = err
		if attempt == c.cfg.Retry.MaxAttempts {
			break
		}
		c.logger.Warn("模型服务暂不可用，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.wait(ctx, delay); err != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		delay *= 2
	}

	return openai.ChatCompletionResponse{}, fmt.Errorf("%w: 重试 %d 次后仍失败: %w", ErrServiceUnavailable, c.cfg.Retry.MaxAttempts, lastErr)
}

func isUnavailable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	return false
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

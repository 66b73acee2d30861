package market

import (
	"context"
	"errors"

	"alertflow/internal/model"
)

// 行情只是消费方，这里只定义取最新报价的最小接口

var (
	// ErrSymbolNotFound 交易对不存在
	ErrSymbolNotFound = errors.New("market: symbol not found")
	// ErrUnavailable 行情源临时不可用（网络错误、超时等）
	ErrUnavailable = errors.New("market: quote unavailable")
)

// DataSource 行情数据源
type DataSource interface {
	// GetLatestQuote 取某交易对最新报价
	// 未知交易对返回 ErrSymbolNotFound，临时故障返回 ErrUnavailable，
	// 评估器对两者都只跳过本周期，不中断其他交易对
	GetLatestQuote(ctx context.Context, symbol string) (model.Quote, error)
}

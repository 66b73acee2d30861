package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"alertflow/internal/model"

	"github.com/goccy/go-json"
)

// OKX 行情REST客户端，只用公共接口，不需要鉴权

const tickerPath = "/api/v5/market/ticker"

// OKX 返回 51001 表示 instId 不存在
const codeInstNotExist = "51001"

type OkxSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewOkxSource(baseURL string, timeout time.Duration) *OkxSource {
	return &OkxSource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout, // 单次行情请求的硬超时，慢依赖不能拖垮整个评估周期
		},
	}
}

type okxTickerResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstId string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func (s *OkxSource) GetLatestQuote(ctx context.Context, symbol string) (model.Quote, error) {
	url := s.baseURL + tickerPath + "?instId=" + symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// 超时、连接失败统一按临时不可用处理
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	var tr okxTickerResp
	if err := json.Unmarshal(body, &tr); err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if tr.Code == codeInstNotExist {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if tr.Code != "0" || len(tr.Data) == 0 {
		return model.Quote{}, fmt.Errorf("%w: code=%s msg=%s", ErrUnavailable, tr.Code, tr.Msg)
	}

	d := tr.Data[0]
	price, err := strconv.ParseFloat(d.Last, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, d.Last)
	}
	tsMs, _ := strconv.ParseInt(d.Ts, 10, 64)

	return model.Quote{
		Symbol: symbol,
		Price:  price,
		Ts:     time.UnixMilli(tsMs),
	}, nil
}

package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"stock-datahub/src/data_source/throttle"
	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"
)

// Public Eastmoney hosts. A configured endpoint replaces all of them.
const (
	historyHost    = "https://push2his.eastmoney.com"
	quoteHost      = "https://push2.eastmoney.com"
	searchHost     = "https://search-api-web.eastmoney.com"
	datacenterHost = "https://datacenter.eastmoney.com"
)

const (
	klinePath      = "/api/qt/stock/kline/get"
	quotePath      = "/api/qt/stock/get"
	searchPath     = "/search/jsonp"
	datacenterPath = "/securities/api/data/v1/get"
	newsPageSize   = 100
)

var highlightTag = regexp.MustCompile(`</?em>`)

// EastmoneySource is the secondary provider. It needs no credential.
type EastmoneySource struct {
	SourceConfig models.MSourceConfig
	Network      interfaces.INetworkManager
	Logger       *logger.Logger
	Throttle     *throttle.Throttle
	now          func() time.Time
}

// -----------------------------------------------------------------------------

func NewEastmoneySource(sourceCfg models.MSourceConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *EastmoneySource {
	name := sourceCfg.Name
	if name == "" {
		name = "eastmoney"
	}
	return &EastmoneySource{
		SourceConfig: sourceCfg,
		Network:      netMgr,
		Logger:       log,
		Throttle:     throttle.New(name, sourceCfg.RequestsPerMinute, time.Duration(sourceCfg.RateLimitBackoffSeconds)*time.Second),
		now:          time.Now,
	}
}

func (s *EastmoneySource) Name() string {
	if s.SourceConfig.Name == "" {
		return "eastmoney"
	}
	return s.SourceConfig.Name
}

// CoolingDown reports whether calls are suspended after a rate limit.
func (s *EastmoneySource) CoolingDown() (time.Time, bool) {
	return s.Throttle.CoolingDown()
}

// WithClock replaces the time source, for tests.
func (s *EastmoneySource) WithClock(now func() time.Time) *EastmoneySource {
	s.now = now
	return s
}

// -----------------------------------------------------------------------------

type klineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// FetchDailyPrices reads forward-adjusted daily klines. Each kline is
// "date,open,close,high,low,volume,amount,..." with volume in lots.
func (s *EastmoneySource) FetchDailyPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error) {
	secid, err := s.secid(symbol)
	if err != nil {
		return nil, err
	}

	beg, end := "0", "20500101"
	if !r.Start.IsZero() {
		beg = r.Start.Format(models.CompactDateLayout)
	}
	if !r.End.IsZero() {
		end = r.End.Format(models.CompactDateLayout)
	}

	var resp klineResponse
	err = s.getJSON(ctx, historyHost, klinePath, map[string]string{
		"secid":   secid,
		"fields1": "f1,f2,f3,f4,f5,f6",
		"fields2": "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		"klt":     "101",
		"fqt":     "1",
		"beg":     beg,
		"end":     end,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, fmt.Sprintf("no daily bars for %s in %s", symbol, r), nil)
	}

	prices := make([]models.MDailyPrice, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		p, ok := parseKline(symbol, line)
		if !ok {
			s.Logger.Debug("Skipping malformed kline for %s: %q", symbol, line)
			continue
		}
		if r.Contains(p.TradeDate) {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, fmt.Sprintf("no usable bars for %s in %s", symbol, r), nil)
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].TradeDate.Before(prices[j].TradeDate) })
	s.Logger.Info("Fetched %s: %d daily bars [%s -> %s]", symbol, len(prices), prices[0].DateKey(), prices[len(prices)-1].DateKey())
	return prices, nil
}

func parseKline(symbol, line string) (models.MDailyPrice, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return models.MDailyPrice{}, false
	}
	day, err := time.Parse(models.DateLayout, parts[0])
	if err != nil {
		return models.MDailyPrice{}, false
	}

	var vals [6]float64
	for i := range vals {
		v, ok := utils.ParseNumber(parts[i+1])
		if !ok {
			return models.MDailyPrice{}, false
		}
		vals[i] = v
	}
	if vals[1] <= 0 {
		return models.MDailyPrice{}, false
	}

	return models.MDailyPrice{
		Symbol:    symbol,
		TradeDate: day,
		Open:      vals[0],
		Close:     vals[1],
		High:      vals[2],
		Low:       vals[3],
		Volume:    utils.LotsToShares(vals[4]),
		Amount:    vals[5],
	}, true
}

// -----------------------------------------------------------------------------

type searchResponse struct {
	Code   int `json:"code"`
	Result *struct {
		Articles []struct {
			Date      string `json:"date"`
			Title     string `json:"title"`
			Content   string `json:"content"`
			MediaName string `json:"mediaName"`
			URL       string `json:"url"`
		} `json:"cmsArticleWebOld"`
	} `json:"result"`
}

// FetchNews queries the site search for articles about the stock code.
func (s *EastmoneySource) FetchNews(ctx context.Context, symbol string, r models.MDateRange) ([]models.MNews, error) {
	code, _, err := utils.SplitSymbol(symbol)
	if err != nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, err.Error(), nil)
	}

	param, _ := json.Marshal(map[string]interface{}{
		"uid":           "",
		"keyword":       code,
		"type":          []string{"cmsArticleWebOld"},
		"client":        "web",
		"clientType":    "web",
		"clientVersion": "curr",
		"param": map[string]interface{}{
			"cmsArticleWebOld": map[string]interface{}{
				"searchScope": "default",
				"sort":        "default",
				"pageIndex":   1,
				"pageSize":    newsPageSize,
				"preTag":      "<em>",
				"postTag":     "</em>",
			},
		},
	})

	body, err := s.get(ctx, searchHost, searchPath, map[string]string{
		"cb":    "jQuery_datahub",
		"param": string(param),
	})
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(stripJSONP(body), &resp); err != nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrUpstreamUnavailable, "malformed news response", err)
	}
	if resp.Result == nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "no news for "+symbol, nil)
	}

	news := make([]models.MNews, 0, len(resp.Result.Articles))
	for _, a := range resp.Result.Articles {
		published, err := time.ParseInLocation(models.DateTimeLayout, a.Date, utils.ChinaLocation)
		if err != nil || !r.Contains(published) {
			continue
		}
		title := strings.TrimSpace(highlightTag.ReplaceAllString(a.Title, ""))
		if title == "" {
			continue
		}
		origin := a.MediaName
		if origin == "" {
			origin = "东方财富"
		}
		news = append(news, models.MNews{
			Symbol:      symbol,
			PublishedAt: published,
			Title:       title,
			Content:     strings.TrimSpace(highlightTag.ReplaceAllString(a.Content, "")),
			Origin:      origin,
		})
	}
	if len(news) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, fmt.Sprintf("no news for %s in %s", symbol, r), nil)
	}

	sort.SliceStable(news, func(i, j int) bool { return news[i].PublishedAt.Before(news[j].PublishedAt) })
	s.Logger.Info("Fetched %d news items for %s", len(news), symbol)
	return news, nil
}

// stripJSONP unwraps cb(...) into its JSON payload.
func stripJSONP(body []byte) []byte {
	open := strings.IndexByte(string(body), '(')
	end := strings.LastIndexByte(string(body), ')')
	if open < 0 || end <= open {
		return body
	}
	return body[open+1 : end]
}

// -----------------------------------------------------------------------------

type quoteResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code     string      `json:"f57"`
		Name     string      `json:"f58"`
		Industry string      `json:"f127"`
		Listed   json.Number `json:"f189"`
	} `json:"data"`
}

// FetchStockInfo reads the quote snapshot fields naming the company.
func (s *EastmoneySource) FetchStockInfo(ctx context.Context, symbol string) (*models.MStockInfo, error) {
	secid, err := s.secid(symbol)
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := s.getJSON(ctx, quoteHost, quotePath, map[string]string{
		"secid":  secid,
		"fields": "f57,f58,f127,f189",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.Name == "" {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "no listing for "+symbol, nil)
	}

	listing := resp.Data.Listed.String()
	if t, err := time.Parse(models.CompactDateLayout, listing); err == nil {
		listing = t.Format(models.DateLayout)
	} else if listing == "0" || listing == "-" {
		listing = ""
	}

	return &models.MStockInfo{
		Symbol:       symbol,
		DisplayName:  resp.Data.Name,
		Industry:     resp.Data.Industry,
		ListingDate:  listing,
		ProviderCode: secid,
		UpdatedAt:    s.now().UTC(),
	}, nil
}

// -----------------------------------------------------------------------------

type datacenterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  *struct {
		Data []struct {
			ReportDate string   `json:"REPORT_DATE"`
			ROE        *float64 `json:"ROEJQ"`
			Gross      *float64 `json:"XSMLL"`
			Debt       *float64 `json:"ZCFZL"`
		} `json:"data"`
	} `json:"result"`
}

// FetchFinancialIndicator reads the latest main financial ratios.
func (s *EastmoneySource) FetchFinancialIndicator(ctx context.Context, symbol string) (*models.MFinancialIndicator, error) {
	if !utils.IsValidSymbol(symbol) {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "invalid symbol "+symbol, nil)
	}

	var resp datacenterResponse
	if err := s.getJSON(ctx, datacenterHost, datacenterPath, map[string]string{
		"reportName":  "RPT_F10_FINANCE_MAINFINADATA",
		"columns":     "SECUCODE,REPORT_DATE,ROEJQ,XSMLL,ZCFZL",
		"filter":      fmt.Sprintf(`(SECUCODE="%s")`, symbol),
		"sortColumns": "REPORT_DATE",
		"sortTypes":   "-1",
		"pageNumber":  "1",
		"pageSize":    "1",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil || len(resp.Result.Data) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "no financial indicators for "+symbol, nil)
	}

	row := resp.Result.Data[0]
	report := row.ReportDate
	if len(report) >= len(models.DateLayout) {
		report = report[:len(models.DateLayout)]
	}
	return &models.MFinancialIndicator{
		Symbol:         symbol,
		ReturnOnEquity: row.ROE,
		GrossMargin:    row.Gross,
		DebtRatio:      row.Debt,
		ReportDate:     report,
		UpdatedAt:      s.now().UTC(),
	}, nil
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// secid maps a symbol to Eastmoney's market-prefixed id: 1 for Shanghai,
// 0 for Shenzhen and Beijing.
func (s *EastmoneySource) secid(symbol string) (string, error) {
	code, exchange, err := utils.SplitSymbol(symbol)
	if err != nil {
		return "", helpers.NewProviderError(s.Name(), helpers.ErrNoData, err.Error(), nil)
	}
	if exchange == "SH" {
		return "1." + code, nil
	}
	return "0." + code, nil
}

func (s *EastmoneySource) get(ctx context.Context, host, path string, params map[string]string) ([]byte, error) {
	if s.SourceConfig.Endpoint != "" {
		host = strings.TrimRight(s.SourceConfig.Endpoint, "/")
	}
	if err := s.Throttle.Acquire(ctx); err != nil {
		return nil, err
	}
	body, err := s.Network.Get(ctx, host+path, params)
	s.Throttle.Observe(err)
	return body, err
}

func (s *EastmoneySource) getJSON(ctx context.Context, host, path string, params map[string]string, out interface{}) error {
	body, err := s.get(ctx, host, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return helpers.NewProviderError(s.Name(), helpers.ErrUpstreamUnavailable, "malformed response from "+path, err)
	}
	return nil
}

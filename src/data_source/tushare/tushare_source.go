package tushare

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-datahub/src/data_source/throttle"
	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"
)

// DefaultEndpoint is the Tushare Pro HTTP API.
const DefaultEndpoint = "http://api.tushare.pro"

// Tushare error codes.
const (
	codeInvalidToken = 40101
	codeNoPermission = 40203
)

// TushareSource is the primary, token-gated provider.
type TushareSource struct {
	SourceConfig models.MSourceConfig
	Network      interfaces.INetworkManager
	Logger       *logger.Logger
	Throttle     *throttle.Throttle
	endpoint     string
	token        string
	now          func() time.Time

	// company names by symbol, used to match general news to a stock
	names sync.Map
}

// -----------------------------------------------------------------------------

// NewTushareSource fails with an authentication ProviderError when no token
// is configured.
func NewTushareSource(sourceCfg models.MSourceConfig, netMgr interfaces.INetworkManager, log *logger.Logger) (*TushareSource, error) {
	name := sourceCfg.Name
	if name == "" {
		name = "tushare"
	}
	if strings.TrimSpace(sourceCfg.APIKey) == "" {
		return nil, helpers.NewProviderError(name, helpers.ErrAuthentication, "missing API token", nil)
	}

	endpoint := sourceCfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &TushareSource{
		SourceConfig: sourceCfg,
		Network:      netMgr,
		Logger:       log,
		Throttle:     throttle.New(name, sourceCfg.RequestsPerMinute, time.Duration(sourceCfg.RateLimitBackoffSeconds)*time.Second),
		endpoint:     endpoint,
		token:        sourceCfg.APIKey,
		now:          time.Now,
	}, nil
}

// -----------------------------------------------------------------------------

func (s *TushareSource) Name() string {
	if s.SourceConfig.Name == "" {
		return "tushare"
	}
	return s.SourceConfig.Name
}

// CoolingDown reports whether calls are suspended after a rate limit.
func (s *TushareSource) CoolingDown() (time.Time, bool) {
	return s.Throttle.CoolingDown()
}

// WithClock replaces the time source, for tests.
func (s *TushareSource) WithClock(now func() time.Time) *TushareSource {
	s.now = now
	return s
}

// -----------------------------------------------------------------------------

// FetchDailyPrices calls the `daily` API. Volume arrives in lots and amount
// in thousand CNY.
func (s *TushareSource) FetchDailyPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error) {
	params := map[string]interface{}{"ts_code": symbol}
	if !r.Start.IsZero() {
		params["start_date"] = r.Start.Format(models.CompactDateLayout)
	}
	if !r.End.IsZero() {
		params["end_date"] = r.End.Format(models.CompactDateLayout)
	}

	table, err := s.call(ctx, "daily", params, "ts_code,trade_date,open,high,low,close,vol,amount")
	if err != nil {
		return nil, err
	}

	prices := make([]models.MDailyPrice, 0, len(table.Items))
	for i := range table.Items {
		day, err := time.Parse(models.CompactDateLayout, table.str(i, "trade_date"))
		if err != nil {
			s.Logger.Info("Skipping %s row %d with bad trade_date: %v", symbol, i, err)
			continue
		}
		closeVal, ok := table.num(i, "close")
		if !ok || closeVal <= 0 {
			continue
		}
		open, _ := table.num(i, "open")
		high, _ := table.num(i, "high")
		low, _ := table.num(i, "low")
		vol, _ := table.num(i, "vol")
		amount, _ := table.num(i, "amount")

		prices = append(prices, models.MDailyPrice{
			Symbol:    symbol,
			TradeDate: day,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeVal,
			Volume:    utils.LotsToShares(vol),
			Amount:    utils.ThousandsToUnits(amount),
		})
	}

	if len(prices) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, fmt.Sprintf("no daily bars for %s in %s", symbol, r), nil)
	}

	// Tushare answers newest first
	sort.Slice(prices, func(i, j int) bool { return prices[i].TradeDate.Before(prices[j].TradeDate) })
	s.Logger.Info("Fetched %s: %d daily bars [%s -> %s]", symbol, len(prices), prices[0].DateKey(), prices[len(prices)-1].DateKey())
	return prices, nil
}

// -----------------------------------------------------------------------------

// FetchNews calls the `news` flash feed and keeps items mentioning the stock
// by code or company name. The feed is market-wide, so a quiet stock yields
// NoData and the caller falls back to a per-stock source.
func (s *TushareSource) FetchNews(ctx context.Context, symbol string, r models.MDateRange) ([]models.MNews, error) {
	code, _, err := utils.SplitSymbol(symbol)
	if err != nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, err.Error(), nil)
	}
	r = s.boundNewsRange(r)

	params := map[string]interface{}{
		"src":        "sina",
		"start_date": r.Start.Format(models.DateLayout) + " 00:00:00",
		"end_date":   r.End.Format(models.DateLayout) + " 23:59:59",
	}
	table, err := s.call(ctx, "news", params, "datetime,title,content")
	if err != nil {
		return nil, err
	}

	keywords := []string{code}
	if name := s.companyName(ctx, symbol); name != "" {
		keywords = append(keywords, name)
	}

	var news []models.MNews
	for i := range table.Items {
		title := strings.TrimSpace(table.str(i, "title"))
		content := strings.TrimSpace(table.str(i, "content"))
		if !mentionsAny(title+" "+content, keywords) {
			continue
		}
		published, err := time.ParseInLocation(models.DateTimeLayout, table.str(i, "datetime"), utils.ChinaLocation)
		if err != nil {
			continue
		}
		if title == "" {
			// Flash items often carry no title; the first sentence serves as one
			title = firstSentence(content)
		}
		news = append(news, models.MNews{
			Symbol:      symbol,
			PublishedAt: published,
			Title:       title,
			Content:     content,
			Origin:      "Tushare",
		})
	}

	if len(news) == 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, fmt.Sprintf("no news mentioning %s in %s", symbol, r), nil)
	}

	sort.SliceStable(news, func(i, j int) bool { return news[i].PublishedAt.Before(news[j].PublishedAt) })
	s.Logger.Info("Fetched %d news items for %s", len(news), symbol)
	return news, nil
}

// -----------------------------------------------------------------------------

// FetchStockInfo calls `stock_basic`.
func (s *TushareSource) FetchStockInfo(ctx context.Context, symbol string) (*models.MStockInfo, error) {
	table, err := s.call(ctx, "stock_basic", map[string]interface{}{"ts_code": symbol}, "ts_code,symbol,name,area,industry,list_date")
	if err != nil {
		return nil, err
	}
	if len(table.Items) == 0 || table.str(0, "name") == "" {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "no listing for "+symbol, nil)
	}

	info := &models.MStockInfo{
		Symbol:       symbol,
		DisplayName:  table.str(0, "name"),
		Industry:     table.str(0, "industry"),
		ListingDate:  compactToISO(table.str(0, "list_date")),
		ProviderCode: table.str(0, "ts_code"),
		UpdatedAt:    s.now().UTC(),
	}
	s.names.Store(symbol, info.DisplayName)
	return info, nil
}

// -----------------------------------------------------------------------------

// FetchFinancialIndicator calls `fina_indicator` over the last two years and
// keeps the latest report period.
func (s *TushareSource) FetchFinancialIndicator(ctx context.Context, symbol string) (*models.MFinancialIndicator, error) {
	now := s.now()
	params := map[string]interface{}{
		"ts_code":    symbol,
		"start_date": now.AddDate(-2, 0, 0).Format(models.CompactDateLayout),
		"end_date":   now.Format(models.CompactDateLayout),
	}
	table, err := s.call(ctx, "fina_indicator", params, "ts_code,end_date,roe,grossprofit_margin,debt_to_assets")
	if err != nil {
		return nil, err
	}

	latest := -1
	for i := range table.Items {
		if latest < 0 || table.str(i, "end_date") > table.str(latest, "end_date") {
			latest = i
		}
	}
	if latest < 0 {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, "no financial indicators for "+symbol, nil)
	}

	ind := &models.MFinancialIndicator{
		Symbol:     symbol,
		ReportDate: compactToISO(table.str(latest, "end_date")),
		UpdatedAt:  now.UTC(),
	}
	if v, ok := table.num(latest, "roe"); ok {
		ind.ReturnOnEquity = models.Float64Ptr(v)
	}
	if v, ok := table.num(latest, "grossprofit_margin"); ok {
		ind.GrossMargin = models.Float64Ptr(v)
	}
	if v, ok := table.num(latest, "debt_to_assets"); ok {
		ind.DebtRatio = models.Float64Ptr(v)
	}
	return ind, nil
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

type apiRequest struct {
	APIName string                 `json:"api_name"`
	Token   string                 `json:"token"`
	Params  map[string]interface{} `json:"params"`
	Fields  string                 `json:"fields"`
}

type apiResponse struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      *struct {
		Fields  []string        `json:"fields"`
		Items   [][]interface{} `json:"items"`
		HasMore bool            `json:"has_more"`
	} `json:"data"`
}

// call runs one API request through the throttle and maps Tushare's error codes.
func (s *TushareSource) call(ctx context.Context, api string, params map[string]interface{}, fields string) (*table, error) {
	if err := s.Throttle.Acquire(ctx); err != nil {
		return nil, err
	}

	t, err := s.doCall(ctx, api, params, fields)
	s.Throttle.Observe(err)
	return t, err
}

func (s *TushareSource) doCall(ctx context.Context, api string, params map[string]interface{}, fields string) (*table, error) {
	body, err := s.Network.PostJSON(ctx, s.endpoint, apiRequest{APIName: api, Token: s.token, Params: params, Fields: fields})
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrUpstreamUnavailable, api+": malformed response", err)
	}
	if resp.Code != 0 {
		return nil, s.classify(api, resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return nil, helpers.NewProviderError(s.Name(), helpers.ErrNoData, api+": empty response", nil)
	}

	index := make(map[string]int, len(resp.Data.Fields))
	for i, f := range resp.Data.Fields {
		index[f] = i
	}
	return &table{Index: index, Items: resp.Data.Items}, nil
}

// classify maps a non-zero Tushare code to a provider error kind.
func (s *TushareSource) classify(api string, code int, msg string) error {
	message := fmt.Sprintf("%s: code %d: %s", api, code, msg)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "每分钟") || strings.Contains(msg, "每小时") || strings.Contains(msg, "频率") || strings.Contains(msg, "最多访问"):
		return helpers.NewProviderError(s.Name(), helpers.ErrRateLimit, message, nil)
	case code == codeInvalidToken || strings.Contains(lower, "token"):
		return helpers.NewProviderError(s.Name(), helpers.ErrAuthentication, message, nil)
	case code == codeNoPermission || strings.Contains(msg, "权限"):
		return helpers.NewProviderError(s.Name(), helpers.ErrAuthentication, message, nil)
	default:
		return helpers.NewProviderError(s.Name(), helpers.ErrUpstreamUnavailable, message, nil)
	}
}

// -----------------------------------------------------------------------------

// companyName returns the cached or freshly fetched display name; empty on failure.
func (s *TushareSource) companyName(ctx context.Context, symbol string) string {
	if v, ok := s.names.Load(symbol); ok {
		return v.(string)
	}
	info, err := s.FetchStockInfo(ctx, symbol)
	if err != nil {
		s.Logger.Debug("No company name for %s: %v", symbol, err)
		return ""
	}
	return info.DisplayName
}

func (s *TushareSource) boundNewsRange(r models.MDateRange) models.MDateRange {
	today := utils.Today(s.now())
	if r.End.IsZero() || r.End.After(today) {
		r.End = today
	}
	if r.Start.IsZero() {
		r.Start = r.End.AddDate(0, 0, -utils.DefaultNewsWindowDays)
	}
	return r
}

// -----------------------------------------------------------------------------

func mentionsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func firstSentence(content string) string {
	for _, sep := range []string{"。", "！", "？", "\n"} {
		if i := strings.Index(content, sep); i > 0 {
			content = content[:i]
			break
		}
	}
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return content
}

func compactToISO(s string) string {
	if t, err := time.Parse(models.CompactDateLayout, s); err == nil {
		return t.Format(models.DateLayout)
	}
	return s
}

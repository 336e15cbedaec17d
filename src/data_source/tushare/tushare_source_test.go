package tushare

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/network"

	"github.com/stretchr/testify/require"
)

// newTestSource points a TushareSource at handler.
func newTestSource(t *testing.T, handler http.HandlerFunc) *TushareSource {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: 0}}
	log := logger.NewLogger(nil, "tushare-test")
	log.SetOutput(io.Discard)

	nm := network.NewAsyncNetworkManager(cfg, "tushare", log)
	src, err := NewTushareSource(models.MSourceConfig{Name: "tushare", Endpoint: srv.URL, APIKey: "secret", RateLimitBackoffSeconds: 60}, nm, log)
	require.NoError(t, err)
	return src.WithClock(func() time.Time { return time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC) })
}

func reply(t *testing.T, w http.ResponseWriter, code int, msg string, fields []string, items [][]interface{}) {
	t.Helper()
	body := map[string]interface{}{"code": code, "msg": msg}
	if fields != nil {
		body["data"] = map[string]interface{}{"fields": fields, "items": items}
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNewTushareSourceRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewTushareSource(models.MSourceConfig{Name: "tushare"}, nil, logger.NewLogger(nil, "test"))
	require.Error(t, err)
	require.True(t, helpers.IsProviderKind(err, helpers.ErrAuthentication))
}

func TestFetchDailyPricesNormalizesUnits(t *testing.T) {
	t.Parallel()

	// Arrange: newest-first rows, vol in lots and amount in thousands
	var got apiRequest
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(t, w, 0, "", []string{"ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"}, [][]interface{}{
			{"600519.SH", "20240103", 1690.0, 1700.0, 1680.0, 1695.5, 250.0, 42000.5},
			{"600519.SH", "20240102", 1700.0, 1710.0, 1685.0, 1688.0, 300.0, 50000.0},
		})
	})
	r := models.NewDateRange(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))

	// Act
	prices, err := src.FetchDailyPrices(t.Context(), "600519.SH", r)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "daily", got.APIName)
	require.Equal(t, "secret", got.Token)
	require.Equal(t, "20240102", got.Params["start_date"])
	require.Len(t, prices, 2)
	require.Equal(t, "2024-01-02", prices[0].DateKey())
	require.Equal(t, "2024-01-03", prices[1].DateKey())
	require.InDelta(t, 30000.0, prices[0].Volume, 1e-9)
	require.InDelta(t, 50000000.0, prices[0].Amount, 1e-6)
	require.InDelta(t, 1695.5, prices[1].Close, 1e-9)
}

func TestFetchDailyPricesEmptyIsNoData(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, 0, "", []string{"ts_code", "trade_date", "close"}, [][]interface{}{})
	})

	_, err := src.FetchDailyPrices(t.Context(), "600519.SH", models.MDateRange{})
	require.True(t, helpers.IsNoData(err))
}

func TestErrorCodeClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		msg  string
		want helpers.ProviderErrorKind
	}{
		{"invalid token", 40101, "您的token不对，请确认。", helpers.ErrAuthentication},
		{"no permission", 40203, "抱歉，您没有访问该接口的权限", helpers.ErrAuthentication},
		{"per minute quota", 40203, "抱歉，您每分钟最多访问该接口200次", helpers.ErrRateLimit},
		{"server error", 50000, "internal error", helpers.ErrUpstreamUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
				reply(t, w, tc.code, tc.msg, nil, nil)
			})

			_, err := src.FetchStockInfo(t.Context(), "600519.SH")
			require.True(t, helpers.IsProviderKind(err, tc.want), "got %v", err)
		})
	}
}

func TestRateLimitStartsCooldown(t *testing.T) {
	t.Parallel()

	// Arrange: the first call is throttled upstream
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply(t, w, 40203, "每分钟最多访问该接口200次", nil, nil)
	})

	// Act
	_, first := src.FetchStockInfo(t.Context(), "600519.SH")
	_, second := src.FetchStockInfo(t.Context(), "600519.SH")

	// Assert: the second call fails without reaching the server
	require.True(t, helpers.IsProviderKind(first, helpers.ErrRateLimit))
	require.True(t, helpers.IsProviderKind(second, helpers.ErrRateLimit))
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchStockInfo(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, 0, "", []string{"ts_code", "symbol", "name", "area", "industry", "list_date"}, [][]interface{}{
			{"300750.SZ", "300750", "宁德时代", "福建", "电气设备", "20180611"},
		})
	})

	info, err := src.FetchStockInfo(t.Context(), "300750.SZ")
	require.NoError(t, err)
	require.Equal(t, "宁德时代", info.DisplayName)
	require.Equal(t, "电气设备", info.Industry)
	require.Equal(t, "2018-06-11", info.ListingDate)
	require.Equal(t, "300750.SZ", info.ProviderCode)
}

func TestFetchFinancialIndicatorKeepsLatestPeriod(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, 0, "", []string{"ts_code", "end_date", "roe", "grossprofit_margin", "debt_to_assets"}, [][]interface{}{
			{"600519.SH", "20230630", 16.5, 91.8, 19.2},
			{"600519.SH", "20230930", 25.1, 91.9, nil},
		})
	})

	ind, err := src.FetchFinancialIndicator(t.Context(), "600519.SH")
	require.NoError(t, err)
	require.Equal(t, "2023-09-30", ind.ReportDate)
	require.NotNil(t, ind.ReturnOnEquity)
	require.InDelta(t, 25.1, *ind.ReturnOnEquity, 1e-9)
	require.Nil(t, ind.DebtRatio)
}

func TestFetchNewsFiltersByCompany(t *testing.T) {
	t.Parallel()

	// Arrange: the name lookup goes to stock_basic, the feed to news
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.APIName {
		case "stock_basic":
			reply(t, w, 0, "", []string{"ts_code", "name"}, [][]interface{}{{"600519.SH", "贵州茅台"}})
		case "news":
			reply(t, w, 0, "", []string{"datetime", "title", "content"}, [][]interface{}{
				{"2024-01-18 09:30:00", "", "贵州茅台发布年度经营数据。其他内容"},
				{"2024-01-18 10:00:00", "央行公开市场操作", "与个股无关"},
				{"2024-01-17 14:00:00", "600519 成交活跃", "资金流入"},
			})
		default:
			t.Fatalf("unexpected api %s", req.APIName)
		}
	})

	// Act
	news, err := src.FetchNews(t.Context(), "600519.SH", models.MDateRange{})

	// Assert: unrelated items dropped, oldest first, titles filled
	require.NoError(t, err)
	require.Len(t, news, 2)
	require.Equal(t, "600519 成交活跃", news[0].Title)
	require.Equal(t, "贵州茅台发布年度经营数据", news[1].Title)
	require.Equal(t, "Tushare", news[1].Origin)
}

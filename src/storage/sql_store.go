package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/utils"
)

// Cache tables.
const (
	tablePrices     = "stock_prices"
	tableNews       = "stock_news"
	tableInfo       = "stock_info"
	tableIndicators = "financial_indicators"
)

// dialect carries the few differences between the SQLite and Postgres stores.
type dialect struct {
	name       string
	floatType  string
	schema     string // empty for SQLite
	dollarArgs bool   // $1 placeholders instead of ?
}

// table returns the qualified table name.
func (dl dialect) table(name string) string {
	if dl.schema == "" {
		return name
	}
	return fmt.Sprintf(`"%s"."%s"`, dl.schema, name)
}

// rebind rewrites ? placeholders for the dialect.
func (dl dialect) rebind(query string) string {
	if !dl.dollarArgs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// -----------------------------------------------------------------------------

// sqlStore implements the cache operations shared by both backends. Writes are
// serialized by writeMu; reads run concurrently.
type sqlStore struct {
	DB      *sql.DB
	Logger  *logger.Logger
	dialect dialect
	writeMu sync.Mutex
	now     func() time.Time
}

func (s *sqlStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *sqlStore) t(name string) string {
	return s.dialect.table(name)
}

// -----------------------------------------------------------------------------

func (s *sqlStore) createTables(ctx context.Context) error {
	ft := s.dialect.floatType
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				trade_date TEXT NOT NULL,
				open %[2]s,
				high %[2]s,
				low %[2]s,
				close %[2]s,
				volume %[2]s,
				amount %[2]s,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (symbol, trade_date)
			)`, s.t(tablePrices), ft),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				published_at TEXT NOT NULL,
				title TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				origin TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL,
				PRIMARY KEY (symbol, published_at, title)
			)`, s.t(tableNews)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				industry TEXT NOT NULL DEFAULT '',
				listing_date TEXT NOT NULL DEFAULT '',
				provider_code TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			)`, s.t(tableInfo)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT PRIMARY KEY,
				return_on_equity %[2]s,
				gross_margin %[2]s,
				debt_ratio %[2]s,
				report_date TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			)`, s.t(tableIndicators), ft),
	}

	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return helpers.NewCacheError("create tables", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// inTx runs fn in a transaction under the writer lock.
func (s *sqlStore) inTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewCacheError(operation, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return helpers.NewCacheError(operation, err)
	}
	if err := tx.Commit(); err != nil {
		return helpers.NewCacheError(operation, err)
	}
	return nil
}

func (s *sqlStore) UpsertPrices(ctx context.Context, symbol string, rows []models.MDailyPrice) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stamp := s.stamp()

	err := s.inTx(ctx, "upsert prices", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(fmt.Sprintf(`
			INSERT INTO %s (symbol, trade_date, open, high, low, close, volume, amount, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, trade_date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				amount = excluded.amount,
				updated_at = excluded.updated_at
		`, s.t(tablePrices))))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, p.DateKey(), p.Open, p.High, p.Low, p.Close, p.Volume, p.Amount, stamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *sqlStore) UpsertNews(ctx context.Context, symbol string, rows []models.MNews) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stamp := s.stamp()

	err := s.inTx(ctx, "upsert news", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(fmt.Sprintf(`
			INSERT INTO %s (symbol, published_at, title, content, origin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, published_at, title) DO UPDATE SET
				content = excluded.content,
				origin = excluded.origin,
				updated_at = excluded.updated_at
		`, s.t(tableNews))))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, n := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, newsKey(n.PublishedAt), n.Title, n.Content, n.Origin, stamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *sqlStore) UpsertInfo(ctx context.Context, symbol string, row models.MStockInfo) error {
	return s.inTx(ctx, "upsert info", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(`
			INSERT INTO %s (symbol, display_name, industry, listing_date, provider_code, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol) DO UPDATE SET
				display_name = excluded.display_name,
				industry = excluded.industry,
				listing_date = excluded.listing_date,
				provider_code = excluded.provider_code,
				updated_at = excluded.updated_at
		`, s.t(tableInfo))), symbol, row.DisplayName, row.Industry, row.ListingDate, row.ProviderCode, s.stampOf(row.UpdatedAt))
		return err
	})
}

func (s *sqlStore) UpsertIndicator(ctx context.Context, symbol string, row models.MFinancialIndicator) error {
	return s.inTx(ctx, "upsert indicator", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(`
			INSERT INTO %s (symbol, return_on_equity, gross_margin, debt_ratio, report_date, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol) DO UPDATE SET
				return_on_equity = excluded.return_on_equity,
				gross_margin = excluded.gross_margin,
				debt_ratio = excluded.debt_ratio,
				report_date = excluded.report_date,
				updated_at = excluded.updated_at
		`, s.t(tableIndicators))), symbol, nullFloat(row.ReturnOnEquity), nullFloat(row.GrossMargin), nullFloat(row.DebtRatio), row.ReportDate, s.stampOf(row.UpdatedAt))
		return err
	})
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (s *sqlStore) QueryPrices(ctx context.Context, symbol string, r models.MDateRange) ([]models.MDailyPrice, error) {
	query := fmt.Sprintf(`SELECT trade_date, open, high, low, close, volume, amount FROM %s WHERE symbol = ?`, s.t(tablePrices))
	args := []interface{}{symbol}
	if !r.Start.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, r.Start.Format(models.DateLayout))
	}
	if !r.End.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, r.End.Format(models.DateLayout))
	}
	query += " ORDER BY trade_date ASC"

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, helpers.NewCacheError("query prices", err)
	}
	defer rows.Close()

	prices := make([]models.MDailyPrice, 0)
	for rows.Next() {
		var day string
		p := models.MDailyPrice{Symbol: symbol}
		if err := rows.Scan(&day, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Amount); err != nil {
			return nil, helpers.NewCacheError("scan prices", err)
		}
		if p.TradeDate, err = time.Parse(models.DateLayout, day); err != nil {
			return nil, helpers.NewCacheError("parse trade_date", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewCacheError("query prices", err)
	}
	return prices, nil
}

func (s *sqlStore) QueryNews(ctx context.Context, symbol string, r models.MDateRange) ([]models.MNews, error) {
	query := fmt.Sprintf(`SELECT published_at, title, content, origin FROM %s WHERE symbol = ?`, s.t(tableNews))
	args := []interface{}{symbol}
	if !r.Start.IsZero() {
		query += " AND published_at >= ?"
		args = append(args, r.Start.Format(models.DateLayout)+" 00:00:00")
	}
	if !r.End.IsZero() {
		query += " AND published_at <= ?"
		args = append(args, r.End.Format(models.DateLayout)+" 23:59:59")
	}
	query += " ORDER BY published_at ASC, title ASC"

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, helpers.NewCacheError("query news", err)
	}
	defer rows.Close()

	news := make([]models.MNews, 0)
	for rows.Next() {
		var published string
		n := models.MNews{Symbol: symbol}
		if err := rows.Scan(&published, &n.Title, &n.Content, &n.Origin); err != nil {
			return nil, helpers.NewCacheError("scan news", err)
		}
		if n.PublishedAt, err = time.ParseInLocation(models.DateTimeLayout, published, utils.ChinaLocation); err != nil {
			return nil, helpers.NewCacheError("parse published_at", err)
		}
		news = append(news, n)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewCacheError("query news", err)
	}
	return news, nil
}

func (s *sqlStore) QueryInfo(ctx context.Context, symbol string) (*models.MStockInfo, error) {
	row := s.DB.QueryRowContext(ctx, s.q(fmt.Sprintf(`
		SELECT display_name, industry, listing_date, provider_code, updated_at FROM %s WHERE symbol = ?
	`, s.t(tableInfo))), symbol)

	info := &models.MStockInfo{Symbol: symbol}
	var updated string
	err := row.Scan(&info.DisplayName, &info.Industry, &info.ListingDate, &info.ProviderCode, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, helpers.NewCacheError("query info", err)
	}
	info.UpdatedAt = parseStamp(updated)
	return info, nil
}

func (s *sqlStore) QueryIndicator(ctx context.Context, symbol string) (*models.MFinancialIndicator, error) {
	row := s.DB.QueryRowContext(ctx, s.q(fmt.Sprintf(`
		SELECT return_on_equity, gross_margin, debt_ratio, report_date, updated_at FROM %s WHERE symbol = ?
	`, s.t(tableIndicators))), symbol)

	var roe, gross, debt sql.NullFloat64
	var updated string
	ind := &models.MFinancialIndicator{Symbol: symbol}
	err := row.Scan(&roe, &gross, &debt, &ind.ReportDate, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, helpers.NewCacheError("query indicator", err)
	}
	ind.ReturnOnEquity = floatPtr(roe)
	ind.GrossMargin = floatPtr(gross)
	ind.DebtRatio = floatPtr(debt)
	ind.UpdatedAt = parseStamp(updated)
	return ind, nil
}

func (s *sqlStore) CountPrices(ctx context.Context, symbol string, r models.MDateRange) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE symbol = ?`, s.t(tablePrices))
	args := []interface{}{symbol}
	if !r.Start.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, r.Start.Format(models.DateLayout))
	}
	if !r.End.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, r.End.Format(models.DateLayout))
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return 0, helpers.NewCacheError("count prices", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------

// LatestDate returns the newest trade date or news day for a symbol.
func (s *sqlStore) LatestDate(ctx context.Context, symbol string, kind models.DataKind) (time.Time, bool, error) {
	var query string
	switch kind {
	case models.KindPrices:
		query = fmt.Sprintf(`SELECT MAX(trade_date) FROM %s WHERE symbol = ?`, s.t(tablePrices))
	case models.KindNews:
		query = fmt.Sprintf(`SELECT MAX(published_at) FROM %s WHERE symbol = ?`, s.t(tableNews))
	default:
		return time.Time{}, false, fmt.Errorf("latest date is undefined for %s", kind)
	}

	var latest sql.NullString
	if err := s.DB.QueryRowContext(ctx, s.q(query), symbol).Scan(&latest); err != nil {
		return time.Time{}, false, helpers.NewCacheError("latest date", err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}

	day, err := time.Parse(models.DateLayout, latest.String[:len(models.DateLayout)])
	if err != nil {
		return time.Time{}, false, helpers.NewCacheError("parse latest date", err)
	}
	return day, true, nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) Stats(ctx context.Context) (models.MCacheStats, error) {
	coverage := make(map[string]models.MSymbolCoverage)
	update := func(symbol string, fn func(c *models.MSymbolCoverage)) {
		c := coverage[symbol]
		fn(&c)
		coverage[symbol] = c
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, COUNT(*), MIN(trade_date), MAX(trade_date) FROM %s GROUP BY symbol
	`, s.t(tablePrices)))
	if err != nil {
		return models.MCacheStats{}, helpers.NewCacheError("stats", err)
	}
	for rows.Next() {
		var symbol, first, last string
		var n int
		if err := rows.Scan(&symbol, &n, &first, &last); err != nil {
			rows.Close()
			return models.MCacheStats{}, helpers.NewCacheError("stats", err)
		}
		update(symbol, func(c *models.MSymbolCoverage) {
			c.HasPrices, c.PriceRows, c.FirstTrade, c.LastTrade = true, n, first, last
		})
	}
	rows.Close()

	rows, err = s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT symbol, COUNT(*) FROM %s GROUP BY symbol`, s.t(tableNews)))
	if err != nil {
		return models.MCacheStats{}, helpers.NewCacheError("stats", err)
	}
	for rows.Next() {
		var symbol string
		var n int
		if err := rows.Scan(&symbol, &n); err != nil {
			rows.Close()
			return models.MCacheStats{}, helpers.NewCacheError("stats", err)
		}
		update(symbol, func(c *models.MSymbolCoverage) { c.HasNews, c.NewsRows = true, n })
	}
	rows.Close()

	for _, table := range []string{tableInfo, tableIndicators} {
		symbols, err := s.symbolsIn(ctx, table)
		if err != nil {
			return models.MCacheStats{}, err
		}
		for _, symbol := range symbols {
			update(symbol, func(c *models.MSymbolCoverage) {
				if table == tableInfo {
					c.HasInfo = true
				} else {
					c.HasIndicators = true
				}
			})
		}
	}

	symbols := make([]string, 0, len(coverage))
	for symbol := range coverage {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return models.MCacheStats{TotalStocks: len(symbols), Symbols: symbols, Coverage: coverage}, nil
}

func (s *sqlStore) symbolsIn(ctx context.Context, table string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT symbol FROM %s`, s.t(table)))
	if err != nil {
		return nil, helpers.NewCacheError("stats", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, helpers.NewCacheError("stats", err)
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// Ping checks that the store is reachable.
func (s *sqlStore) Ping(ctx context.Context) error {
	if s.DB == nil {
		return helpers.NewCacheError("ping", errors.New("store not initialized"))
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return helpers.NewCacheError("ping", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *sqlStore) stampOf(t time.Time) string {
	if t.IsZero() {
		return s.stamp()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseStamp(v string) time.Time {
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

// newsKey formats a publication time in exchange-local time, the sortable
// text form stored in published_at.
func newsKey(t time.Time) string {
	return t.In(utils.ChinaLocation).Format(models.DateTimeLayout)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float64Ptr(v.Float64)
}

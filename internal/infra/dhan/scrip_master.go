package dhan

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tranche_investor/internal/domain/broker"

	"github.com/sirupsen/logrus"
)

const (
	DefaultScripMasterTTL = 12 * time.Hour
	exchangeNSE           = "NSE"
)

var scripColumns = []string{"UNDERLYING_SYMBOL", "SECURITY_ID", "EXCH_ID", "SYMBOL_NAME"}

// ScripMaster resolves NSE symbols against Dhan's published instrument list.
// The list is downloaded on first use and refreshed once it is older than ttl.
type ScripMaster struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time
	logger     *logrus.Entry

	mu        sync.Mutex
	bySymbol  map[string]broker.Security
	fetchedAt time.Time
}

func NewScripMaster(url string, ttl time.Duration, logger *logrus.Entry) *ScripMaster {
	if ttl <= 0 {
		ttl = DefaultScripMasterTTL
	}
	return &ScripMaster{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
		logger:     logger.WithField("component", "scrip_master"),
	}
}

// ResolveSecurity returns the first NSE listing whose underlying symbol is symbol.
func (m *ScripMaster) ResolveSecurity(ctx context.Context, symbol string) (broker.Security, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bySymbol == nil || m.now().Sub(m.fetchedAt) > m.ttl {
		index, err := m.fetch(ctx)
		if err != nil {
			if m.bySymbol == nil {
				return broker.Security{}, fmt.Errorf("%w: scrip master: %w", broker.ErrUnavailable, err)
			}
			// a stale list is better than none
			m.logger.WithError(err).Warn("Scrip master refresh failed, using cached list")
		} else {
			m.bySymbol = index
			m.fetchedAt = m.now()
		}
	}

	sec, ok := m.bySymbol[symbol]
	if !ok {
		return broker.Security{}, fmt.Errorf("%w: %s on %s", broker.ErrSecurityNotFound, symbol, exchangeNSE)
	}
	return sec, nil
}

func (m *ScripMaster) fetch(ctx context.Context) (map[string]broker.Security, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrip master download returned http %d", res.StatusCode)
	}

	index, err := parseScripMaster(res.Body)
	if err != nil {
		return nil, err
	}
	m.logger.WithField("nse_symbols", len(index)).Info("Scrip master loaded")
	return index, nil
}

// parseScripMaster indexes the NSE rows of the CSV by underlying symbol. The first row
// for a symbol wins.
func parseScripMaster(r io.Reader) (map[string]broker.Security, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read scrip master header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range scripColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("scrip master is missing column %s", name)
		}
	}

	index := make(map[string]broker.Security)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read scrip master row: %w", err)
		}
		field := func(name string) string {
			i := col[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if field("EXCH_ID") != exchangeNSE {
			continue
		}
		symbol := strings.ToUpper(field("UNDERLYING_SYMBOL"))
		if symbol == "" {
			continue
		}
		if _, seen := index[symbol]; seen {
			continue
		}
		index[symbol] = broker.Security{
			ID:          field("SECURITY_ID"),
			Symbol:      symbol,
			DisplayName: field("SYMBOL_NAME"),
			Exchange:    exchangeNSE,
		}
	}
	return index, nil
}

// Package lighter is the REST client for the Lighter perpetuals DEX.
// It implements the exchange, token source and market feed capabilities
// consumed by the rest of the process.
package lighter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
)

const (
	orderTypeLimit  = "limit"
	orderTypeMarket = "market"

	tifPostOnly     = "post_only"
	tifGoodTillTime = "good_till_time"

	// Exchange error code for a stale or reused nonce.
	codeInvalidNonce = "21104"

	// Slippage bound for market orders, in whole quote units.
	marketPriceBound = 999999
)

// Options configures a Client.
type Options struct {
	BaseURL          string
	APIKeyPrivateKey string
	APIKeyIndex      int
	AccountIndex     int
	Timeout          time.Duration
}

// Client talks to the Lighter REST API. Order-mutating calls carry the
// caller-provided nonce; the client itself performs no sequencing or
// retries, that is the submission gate's job.
type Client struct {
	baseURL      string
	http         *http.Client
	signKey      []byte
	apiKeyIndex  int
	accountIndex int

	clientOrderCounter atomic.Int64
	logger             *slog.Logger
}

// NewClient creates a REST client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		signKey:      []byte(opts.APIKeyPrivateKey),
		apiKeyIndex:  opts.APIKeyIndex,
		accountIndex: opts.AccountIndex,
		logger:       slog.Default().With("module", "lighter_client"),
	}
}

// AccountInfo fetches equity, positions and open orders in one call.
func (c *Client) AccountInfo(ctx context.Context) (*domain.AccountSnapshot, error) {
	var resp accountResponse
	params := url.Values{"by": {"index"}, "value": {strconv.Itoa(c.accountIndex)}}
	if err := c.get(ctx, "/api/v1/account", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, domain.NewTransportError("account_info", fmt.Errorf("empty accounts response"))
	}
	acct := resp.Accounts[0]

	snap := &domain.AccountSnapshot{
		Equity:    parseDec(acct.Collateral),
		Positions: make([]domain.Position, 0, len(acct.Positions)),
	}
	for _, p := range acct.Positions {
		side := domain.SideBuy
		if p.Sign < 0 {
			side = domain.SideSell
		}
		snap.Positions = append(snap.Positions, domain.Position{
			MarketID:         p.MarketID,
			Side:             side,
			Size:             parseDec(p.Position).Abs(),
			EntryPrice:       parseDec(p.AvgEntryPrice),
			UnrealizedPnL:    parseDec(p.UnrealizedPnL),
			RealizedPnL:      parseDec(p.RealizedPnL),
			LiquidationPrice: parseDec(p.LiquidationPrice),
		})
	}
	for _, o := range acct.OpenOrders {
		snap.OpenOrders = append(snap.OpenOrders, toDomainOrder(o))
	}
	return snap, nil
}

// OpenOrders lists the account's resting orders.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	snap, err := c.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return snap.OpenOrders, nil
}

// NextToken fetches the next signing nonce for this api key.
func (c *Client) NextToken(ctx context.Context) (uint64, error) {
	var resp nonceResponse
	params := url.Values{
		"account_index": {strconv.Itoa(c.accountIndex)},
		"api_key_index": {strconv.Itoa(c.apiKeyIndex)},
	}
	if err := c.get(ctx, "/api/v1/nextNonce", params, &resp); err != nil {
		return 0, err
	}
	return resp.NextNonce, nil
}

// SubmitLimitOrder signs and sends a limit order transaction.
func (c *Client) SubmitLimitOrder(ctx context.Context, token uint64, req domain.OrderRequest) (string, error) {
	size := quantizeSize(req.Size, req.MarketID)

	tif := tifGoodTillTime
	if req.PostOnly {
		tif = tifPostOnly
	}

	tx := txRequest{
		AccountIndex:     c.accountIndex,
		APIKeyIndex:      c.apiKeyIndex,
		Nonce:            token,
		MarketIndex:      req.MarketID,
		ClientOrderIndex: c.clientOrderCounter.Add(1),
		BaseAmount:       toBaseUnits(size, req.MarketID),
		Price:            toPriceUnits(req.Price, req.MarketID),
		IsAsk:            req.Side == domain.SideSell,
		OrderType:        orderTypeLimit,
		TimeInForce:      tif,
		ReduceOnly:       req.ReduceOnly,
	}

	resp, err := c.sendTx(ctx, "submit_limit_order", tx)
	if err != nil {
		return "", err
	}

	c.logger.Info("created limit order",
		slog.String("symbol", symbolFor(req.MarketID)),
		slog.String("side", string(req.Side)),
		slog.String("price", req.Price.String()),
		slog.String("size", size.String()))
	return orderIDFrom(resp, tx.ClientOrderIndex), nil
}

// SubmitMarketOrder signs and sends a market order transaction. The
// average execution price bound is set wide open; the risk checks on
// size happen before the order ever reaches this client.
func (c *Client) SubmitMarketOrder(ctx context.Context, token uint64, req domain.OrderRequest) (string, error) {
	size := quantizeSize(req.Size, req.MarketID)

	bound := int64(marketPriceBound)
	if req.Side == domain.SideSell {
		bound = 1
	}

	tx := txRequest{
		AccountIndex:      c.accountIndex,
		APIKeyIndex:       c.apiKeyIndex,
		Nonce:             token,
		MarketIndex:       req.MarketID,
		ClientOrderIndex:  c.clientOrderCounter.Add(1),
		BaseAmount:        toBaseUnits(size, req.MarketID),
		AvgExecutionPrice: toPriceUnits(decimal.NewFromInt(bound), req.MarketID),
		IsAsk:             req.Side == domain.SideSell,
		OrderType:         orderTypeMarket,
		ReduceOnly:        req.ReduceOnly,
	}

	resp, err := c.sendTx(ctx, "submit_market_order", tx)
	if err != nil {
		return "", err
	}

	c.logger.Info("created market order",
		slog.String("symbol", symbolFor(req.MarketID)),
		slog.String("side", string(req.Side)),
		slog.String("size", size.String()))
	return orderIDFrom(resp, tx.ClientOrderIndex), nil
}

// CancelOrder signs and sends a cancellation for one resting order.
func (c *Client) CancelOrder(ctx context.Context, token uint64, orderID string, marketID int) error {
	idx, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.NewRejectedError("cancel_order", "",
			fmt.Errorf("order id %q is not exchange-assigned", orderID))
	}

	tx := txRequest{
		AccountIndex: c.accountIndex,
		APIKeyIndex:  c.apiKeyIndex,
		Nonce:        token,
		MarketIndex:  marketID,
		OrderIndex:   idx,
	}
	if _, err := c.sendTx(ctx, "cancel_order", tx); err != nil {
		return err
	}
	c.logger.Info("cancelled order", slog.String("order_id", orderID))
	return nil
}

// CancelAllOrders signs and sends a cancel-all for one market.
func (c *Client) CancelAllOrders(ctx context.Context, token uint64, marketID int) error {
	tx := txRequest{
		AccountIndex: c.accountIndex,
		APIKeyIndex:  c.apiKeyIndex,
		Nonce:        token,
		MarketIndex:  marketID,
	}
	if _, err := c.sendTx(ctx, "cancel_all_orders", tx); err != nil {
		return err
	}
	c.logger.Info("cancelled all orders", slog.Int("market", marketID))
	return nil
}

// OrderBook fetches a depth snapshot over REST.
func (c *Client) OrderBook(ctx context.Context, marketID, depth int) (*domain.OrderBook, error) {
	var resp bookOrdersResponse
	params := url.Values{
		"market_id": {strconv.Itoa(marketID)},
		"limit":     {strconv.Itoa(depth)},
	}
	if err := c.get(ctx, "/api/v1/orderBookOrders", params, &resp); err != nil {
		return nil, err
	}

	ob := &domain.OrderBook{MarketID: marketID, LastUpdate: time.Now()}
	for _, lvl := range resp.Bids {
		ob.Bids = append(ob.Bids, domain.OrderBookLevel{
			Price: parseDec(lvl.Price), Size: parseDec(lvl.RemainingBase),
		})
	}
	for _, lvl := range resp.Asks {
		ob.Asks = append(ob.Asks, domain.OrderBookLevel{
			Price: parseDec(lvl.Price), Size: parseDec(lvl.RemainingBase),
		})
	}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price.GreaterThan(ob.Bids[j].Price) })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price.LessThan(ob.Asks[j].Price) })
	return ob, nil
}

// Markets lists all perpetual markets.
func (c *Client) Markets(ctx context.Context) ([]domain.MarketInfo, error) {
	var resp orderBooksResponse
	if err := c.get(ctx, "/api/v1/orderBooks", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.MarketInfo, 0, len(resp.OrderBooks))
	for _, m := range resp.OrderBooks {
		out = append(out, domain.MarketInfo{
			MarketID:     m.MarketID,
			Symbol:       m.Symbol,
			TickSize:     parseDec(m.TickSize),
			MinOrderSize: parseDec(m.MinOrderSize),
			FundingRate:  parseDec(m.FundingRate),
			MarkPrice:    parseDec(m.MarkPrice),
			Volume24h:    parseDec(m.Volume24h),
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.NewTransportError(path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewTransportError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransportError(path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewTransportError(path,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewTransportError(path, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// sendTx signs and posts one transaction, classifying the response.
func (c *Client) sendTx(ctx context.Context, op string, tx txRequest) (*txResponse, error) {
	tx.Signature = c.sign(tx)

	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, domain.NewTransportError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/sendTx", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewTransportError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransportError(op, err)
	}

	var parsed txResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewTransportError(op, fmt.Errorf("decode: %w", err))
	}

	return &parsed, classify(op, resp.StatusCode, &parsed)
}

// classify maps exchange responses onto the error taxonomy. A stale
// nonce is the one transient rejection worth retrying in place.
func classify(op string, status int, resp *txResponse) error {
	code := strconv.Itoa(resp.Code)
	msg := strings.ToLower(resp.Message)

	if code == codeInvalidNonce || strings.Contains(msg, "invalid nonce") {
		return domain.NewOrderingConflict(op, code, fmt.Errorf("%s", resp.Message))
	}
	if status >= 500 {
		return domain.NewTransportError(op, fmt.Errorf("status %d: %s", status, resp.Message))
	}
	if status != http.StatusOK || resp.Code != 200 {
		return domain.NewRejectedError(op, code, fmt.Errorf("%s", resp.Message))
	}
	return nil
}

// sign produces an HMAC over the canonical transaction payload.
func (c *Client) sign(tx txRequest) string {
	tx.Signature = ""
	payload, _ := json.Marshal(tx)
	mac := hmac.New(sha256.New, c.signKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func orderIDFrom(resp *txResponse, clientOrderIndex int64) string {
	if resp.OrderIndex > 0 {
		return strconv.FormatInt(resp.OrderIndex, 10)
	}
	return strconv.FormatInt(clientOrderIndex, 10)
}

func toDomainOrder(o orderEntry) domain.Order {
	side := domain.SideBuy
	if o.IsAsk {
		side = domain.SideSell
	}
	return domain.Order{
		ID:         strconv.FormatInt(o.OrderIndex, 10),
		MarketID:   o.MarketID,
		Side:       side,
		Type:       domain.OrderTypeLimit,
		Price:      parseDec(o.Price),
		Size:       parseDec(o.InitialBase),
		FilledSize: parseDec(o.FilledBase),
		Status:     domain.OrderStatusOpen,
		ReduceOnly: o.ReduceOnly,
		CreatedAt:  time.UnixMilli(o.TimestampMillis),
	}
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

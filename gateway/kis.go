package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KIS CLIENT - Korea Investment & Securities OpenAPI
// ═══════════════════════════════════════════════════════════════════════════════

// Account-global request ceilings enforced by the broker. Every call goes
// through one of the two shared buckets.
const (
	marketDataRPS = 19.0
	tradingRPS    = 5.0

	breakerMaxFailures = 20
	breakerCooldown    = 60 * time.Second

	approvalKeyTTL = 30 * time.Second
)

// KIS is the sole gateway to the broker REST API. All rate limiting, circuit
// breaking, token handling, and error mapping happen here so that no caller
// can bypass them.
type KIS struct {
	http   *resty.Client
	tokens *TokenStore
	cfg    config.KISConfig
	loc    *time.Location

	marketBucket *TokenBucket
	tradeBucket  *TokenBucket
	breaker      *CircuitBreaker

	approvalMu  sync.Mutex
	approvalKey string
	approvalExp time.Time
}

// NewKIS builds the broker client from config. loc is the exchange timezone
// used for date-stamped queries.
func NewKIS(cfg config.KISConfig, loc *time.Location) *KIS {
	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json; charset=utf-8")

	return &KIS{
		http:         httpc,
		tokens:       NewTokenStore(httpc, cfg.AppKey, cfg.AppSecret, cfg.TokenFilePath),
		cfg:          cfg,
		loc:          loc,
		marketBucket: NewTokenBucket(int(marketDataRPS), marketDataRPS),
		tradeBucket:  NewTokenBucket(int(tradingRPS), tradingRPS),
		breaker:      NewCircuitBreaker(breakerMaxFailures, breakerCooldown),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (k *KIS) Breaker() *CircuitBreaker { return k.breaker }

// trID prefixes the transaction id with "V" on paper-trading accounts.
func (k *KIS) trID(real string) string {
	if k.cfg.IsPaper && strings.HasPrefix(real, "T") {
		return "V" + real[1:]
	}
	return real
}

type kisEnvelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e *kisEnvelope) err() error {
	if e.RtCd == "0" {
		return nil
	}
	return &types.BrokerError{RtCode: e.RtCd, MsgCode: e.MsgCd, Message: e.Msg1}
}

// do runs one broker call through the given bucket and the shared breaker.
// out must embed kisEnvelope; rt_cd != "0" surfaces as a BrokerError.
func (k *KIS) do(ctx context.Context, bucket *TokenBucket, method, path, trID string,
	params map[string]string, body any, out interface{ err() error }) error {

	if !k.breaker.Allow() {
		return types.ErrCircuitOpen
	}
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	token, err := k.tokens.Token(ctx)
	if err != nil {
		k.breaker.RecordFailure("token: " + err.Error())
		return err
	}

	req := k.http.R().
		SetContext(ctx).
		SetHeader("authorization", "Bearer "+token).
		SetHeader("appkey", k.cfg.AppKey).
		SetHeader("appsecret", k.cfg.AppSecret).
		SetHeader("tr_id", trID).
		SetHeader("custtype", "P").
		SetResult(out)
	if params != nil {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		k.breaker.RecordFailure(err.Error())
		return fmt.Errorf("broker %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		k.breaker.RecordFailure(fmt.Sprintf("http %d", resp.StatusCode()))
		return fmt.Errorf("broker %s %s: status %d", method, path, resp.StatusCode())
	}
	if err := out.err(); err != nil {
		k.breaker.RecordFailure(err.Error())
		return err
	}
	k.breaker.RecordSuccess()
	return nil
}

// ─── Market data ───────────────────────────────────────────────────────────────

type snapshotResp struct {
	kisEnvelope
	Output struct {
		Price     string `json:"stck_prpr"`
		Open      string `json:"stck_oprc"`
		High      string `json:"stck_hgpr"`
		Low       string `json:"stck_lwpr"`
		Volume    string `json:"acml_vol"`
		ChangePct string `json:"prdy_ctrt"`
		PER       string `json:"per"`
		PBR       string `json:"pbr"`
		MarketCap string `json:"hts_avls"`
		High52w   string `json:"stck_dryy_hgpr"`
		Low52w    string `json:"stck_dryy_lwpr"`
	} `json:"output"`
}

// Snapshot fetches the current-price view of one stock (FHKST01010100).
func (k *KIS) Snapshot(ctx context.Context, code string) (*types.Snapshot, error) {
	var out snapshotResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100",
		map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         code,
		}, nil, &out)
	if err != nil {
		return nil, err
	}
	o := out.Output
	return &types.Snapshot{
		StockCode: code,
		Price:     parseI64(o.Price),
		Open:      parseI64(o.Open),
		High:      parseI64(o.High),
		Low:       parseI64(o.Low),
		Volume:    parseI64(o.Volume),
		ChangePct: parseF64(o.ChangePct),
		PER:       parseF64(o.PER),
		PBR:       parseF64(o.PBR),
		MarketCap: parseI64(o.MarketCap),
		High52w:   parseI64(o.High52w),
		Low52w:    parseI64(o.Low52w),
		At:        time.Now().UTC(),
	}, nil
}

type dailyPricesResp struct {
	kisEnvelope
	Output []struct {
		Date      string `json:"stck_bsop_date"`
		Open      string `json:"stck_oprc"`
		High      string `json:"stck_hgpr"`
		Low       string `json:"stck_lwpr"`
		Close     string `json:"stck_clpr"`
		Volume    string `json:"acml_vol"`
		ChangePct string `json:"prdy_ctrt"`
	} `json:"output"`
}

// DailyPrices fetches up to days daily OHLCV rows, newest first
// (FHKST01010400).
func (k *KIS) DailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error) {
	var out dailyPricesResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/quotations/inquire-daily-price", "FHKST01010400",
		map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         code,
			"FID_INPUT_DATE_1":       "",
			"FID_INPUT_DATE_2":       time.Now().In(k.loc).Format("20060102"),
			"FID_PERIOD_DIV_CODE":    "D",
			"FID_ORG_ADJ_PRC":        "0",
		}, nil, &out)
	if err != nil {
		return nil, err
	}

	prices := make([]types.DailyPrice, 0, len(out.Output))
	for _, row := range out.Output {
		if len(prices) >= days {
			break
		}
		d, err := time.ParseInLocation("20060102", row.Date, k.loc)
		if err != nil {
			log.Warn().Str("code", code).Str("date", row.Date).Msg("skipping malformed daily price row")
			continue
		}
		prices = append(prices, types.DailyPrice{
			StockCode: code,
			Date:      d,
			Open:      parseI64(row.Open),
			High:      parseI64(row.High),
			Low:       parseI64(row.Low),
			Close:     parseI64(row.Close),
			Volume:    parseI64(row.Volume),
			ChangePct: parseF64(row.ChangePct),
		})
	}
	return prices, nil
}

type minutePricesResp struct {
	kisEnvelope
	Output2 []struct {
		Date   string `json:"stck_bsop_date"`
		Hour   string `json:"stck_cntg_hour"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_prpr"`
		Volume string `json:"cntg_vol"`
	} `json:"output2"`
}

// MinutePrices fetches the minute chart up to the current time
// (FHKST03010200).
func (k *KIS) MinutePrices(ctx context.Context, code string) ([]types.MinutePrice, error) {
	now := time.Now().In(k.loc)
	var out minutePricesResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice", "FHKST03010200",
		map[string]string{
			"FID_ETC_CLS_CODE":       "",
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         code,
			"FID_INPUT_HOUR_1":       now.Format("150405"),
			"FID_PW_DATA_INCU_YN":    "N",
		}, nil, &out)
	if err != nil {
		return nil, err
	}

	prices := make([]types.MinutePrice, 0, len(out.Output2))
	for _, row := range out.Output2 {
		dt := row.Date
		if dt == "" {
			dt = now.Format("20060102")
		}
		at, err := time.ParseInLocation("20060102150405", dt+row.Hour, k.loc)
		if err != nil {
			log.Warn().Str("code", code).Msg("skipping malformed minute price row")
			continue
		}
		prices = append(prices, types.MinutePrice{
			StockCode: code,
			At:        at,
			Open:      parseI64(row.Open),
			High:      parseI64(row.High),
			Low:       parseI64(row.Low),
			Close:     parseI64(row.Close),
			Volume:    parseI64(row.Volume),
		})
	}
	return prices, nil
}

// ─── Trading ───────────────────────────────────────────────────────────────────

type orderResp struct {
	kisEnvelope
	Output struct {
		OrderNo   string `json:"ODNO"`
		OrderTime string `json:"ORD_TMD"`
	} `json:"output"`
}

// PlaceOrder submits a cash order. Price 0 means market (ORD_DVSN 01), any
// other price means limit (ORD_DVSN 00). Buy is TTTC0802U, sell TTTC0801U.
func (k *KIS) PlaceOrder(ctx context.Context, side types.TradeType, req types.OrderRequest) (*types.OrderResult, error) {
	base := "TTTC0802U"
	if side == types.TradeSell {
		base = "TTTC0801U"
	}

	price := req.Price
	if req.OrderType != types.OrderLimit {
		price = 0
	}
	ordDvsn := "01"
	if price > 0 {
		ordDvsn = "00"
	}

	var out orderResp
	err := k.do(ctx, k.tradeBucket, "POST",
		"/uapi/domestic-stock/v1/trading/order-cash", k.trID(base),
		nil, map[string]string{
			"CANO":         k.cfg.AccountNo,
			"ACNT_PRDT_CD": k.cfg.AccountProductCode,
			"PDNO":         req.StockCode,
			"ORD_DVSN":     ordDvsn,
			"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
			"ORD_UNPR":     strconv.FormatInt(price, 10),
		}, &out)
	if err != nil {
		return nil, err
	}
	return &types.OrderResult{
		Success:   true,
		OrderNo:   out.Output.OrderNo,
		StockCode: req.StockCode,
		Quantity:  req.Quantity,
		Price:     price,
	}, nil
}

// CancelOrder cancels the full remaining quantity of an order (TTTC0803U).
// A broker-side rejection returns false without an error; transport and
// breaker failures return the error.
func (k *KIS) CancelOrder(ctx context.Context, orderNo string) (bool, error) {
	var out orderResp
	err := k.do(ctx, k.tradeBucket, "POST",
		"/uapi/domestic-stock/v1/trading/order-rvsecncl", k.trID("TTTC0803U"),
		nil, map[string]string{
			"CANO":                k.cfg.AccountNo,
			"ACNT_PRDT_CD":        k.cfg.AccountProductCode,
			"KRX_FWDG_ORD_ORGNO":  "",
			"ORGN_ODNO":           orderNo,
			"ORD_DVSN":            "00",
			"RVSE_CNCL_DVSN_CD":   "02",
			"ORD_QTY":             "0",
			"ORD_UNPR":            "0",
			"QTY_ALL_ORD_YN":      "Y",
		}, &out)
	if err != nil {
		if types.IsBrokerError(err) {
			log.Warn().Err(err).Str("order_no", orderNo).Msg("order cancel rejected")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type orderStatusResp struct {
	kisEnvelope
	Output1 []struct {
		OrderNo      string `json:"odno"`
		FilledQty    string `json:"tot_ccld_qty"`
		RemainingQty string `json:"rmn_qty"`
		AvgPrice     string `json:"avg_prvs"`
	} `json:"output1"`
}

// OrderStatus looks up today's execution state of one order (TTTC8001R).
// Filled means the remaining quantity reached zero with at least one fill.
func (k *KIS) OrderStatus(ctx context.Context, orderNo string) (*types.OrderStatus, error) {
	today := time.Now().In(k.loc).Format("20060102")
	var out orderStatusResp
	err := k.do(ctx, k.tradeBucket, "GET",
		"/uapi/domestic-stock/v1/trading/inquire-daily-ccld", k.trID("TTTC8001R"),
		map[string]string{
			"CANO":            k.cfg.AccountNo,
			"ACNT_PRDT_CD":    k.cfg.AccountProductCode,
			"INQR_STRT_DT":    today,
			"INQR_END_DT":     today,
			"SLL_BUY_DVSN_CD": "00",
			"INQR_DVSN":       "00",
			"PDNO":            "",
			"CCLD_DVSN":       "00",
			"ORD_GNO_BRNO":    "",
			"ODNO":            orderNo,
			"INQR_DVSN_3":     "00",
			"INQR_DVSN_1":     "",
			"CTX_AREA_FK100":  "",
			"CTX_AREA_NK100":  "",
		}, nil, &out)
	if err != nil {
		return nil, err
	}

	for _, row := range out.Output1 {
		if row.OrderNo != orderNo {
			continue
		}
		filledQty := parseI64(row.FilledQty)
		return &types.OrderStatus{
			Filled:    filledQty > 0 && parseI64(row.RemainingQty) == 0,
			FilledQty: filledQty,
			AvgPrice:  parseI64(row.AvgPrice),
		}, nil
	}
	return &types.OrderStatus{}, nil
}

// ─── Account ───────────────────────────────────────────────────────────────────

type balanceResp struct {
	kisEnvelope
	Output1 []struct {
		StockCode    string `json:"pdno"`
		StockName    string `json:"prdt_name"`
		Quantity     string `json:"hldg_qty"`
		AvgBuyPrice  string `json:"pchs_avg_pric"`
		TotalBuyAmt  string `json:"pchs_amt"`
		CurrentPrice string `json:"prpr"`
		CurrentValue string `json:"evlu_amt"`
	} `json:"output1"`
	Output2 []struct {
		Cash      string `json:"prvs_rcdl_excc_amt"`
		StockEval string `json:"scts_evlu_amt"`
	} `json:"output2"`
}

// Balance fetches holdings and account totals (TTTC8434R). Cash comes from
// the buying-power endpoint when it answers, since that is the amount actual
// orders are checked against.
func (k *KIS) Balance(ctx context.Context) (*types.Balance, error) {
	var out balanceResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/trading/inquire-balance", k.trID("TTTC8434R"),
		map[string]string{
			"CANO":                  k.cfg.AccountNo,
			"ACNT_PRDT_CD":          k.cfg.AccountProductCode,
			"AFHR_FLPR_YN":          "N",
			"OFL_YN":                "",
			"INQR_DVSN":             "02",
			"UNPR_DVSN":             "01",
			"FUND_STTL_ICLD_YN":     "N",
			"FNCG_AMT_AUTO_RDPT_YN": "N",
			"PRCS_DVSN":             "01",
			"CTX_AREA_FK100":        "",
			"CTX_AREA_NK100":        "",
		}, nil, &out)
	if err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(out.Output1))
	for _, item := range out.Output1 {
		qty := parseI64(item.Quantity)
		if qty <= 0 {
			continue
		}
		positions = append(positions, types.Position{
			StockCode:      item.StockCode,
			StockName:      item.StockName,
			Quantity:       qty,
			AvgBuyPrice:    int64(parseF64(item.AvgBuyPrice)),
			TotalBuyAmount: parseI64(item.TotalBuyAmt),
			CurrentPrice:   parseI64(item.CurrentPrice),
			CurrentValue:   parseI64(item.CurrentValue),
		})
	}

	var cash, stockEval int64
	if len(out.Output2) > 0 {
		cash = parseI64(out.Output2[0].Cash)
		stockEval = parseI64(out.Output2[0].StockEval)
	}
	if bp, err := k.BuyingPower(ctx); err == nil {
		cash = bp
	} else {
		log.Warn().Err(err).Msg("buying power lookup failed, using settlement cash")
	}

	return &types.Balance{
		Cash:            cash,
		TotalAsset:      cash + stockEval,
		StockEvalAmount: stockEval,
		Positions:       positions,
	}, nil
}

type buyingPowerResp struct {
	kisEnvelope
	Output struct {
		NoCreditBuyAmt string `json:"nrcvb_buy_amt"`
		OrderableCash  string `json:"ord_psbl_cash"`
	} `json:"output"`
}

// BuyingPower returns the cash orderable without credit (TTTC8908R).
func (k *KIS) BuyingPower(ctx context.Context) (int64, error) {
	var out buyingPowerResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/trading/inquire-psbl-order", k.trID("TTTC8908R"),
		map[string]string{
			"CANO":                  k.cfg.AccountNo,
			"ACNT_PRDT_CD":          k.cfg.AccountProductCode,
			"PDNO":                  "005930",
			"ORD_UNPR":              "0",
			"ORD_DVSN":              "01",
			"CMA_EVLU_AMT_ICLD_YN":  "Y",
			"OVRS_ICLD_YN":          "N",
		}, nil, &out)
	if err != nil {
		return 0, err
	}
	if v := strings.TrimSpace(out.Output.NoCreditBuyAmt); v != "" {
		return parseI64(v), nil
	}
	if v := strings.TrimSpace(out.Output.OrderableCash); v != "" {
		return parseI64(v), nil
	}
	return 0, nil
}

type holidayResp struct {
	kisEnvelope
	Output []struct {
		Date   string `json:"bass_dt"`
		OpenYN string `json:"opnd_yn"`
	} `json:"output"`
}

// IsTradingDay reports whether the exchange opens on the given date
// (CTCA0903R). On API failure it falls back to a weekday check.
func (k *KIS) IsTradingDay(ctx context.Context, date time.Time) bool {
	target := date.In(k.loc).Format("20060102")
	var out holidayResp
	err := k.do(ctx, k.marketBucket, "GET",
		"/uapi/domestic-stock/v1/quotations/chk-holiday", "CTCA0903R",
		map[string]string{
			"BASS_DT":      target,
			"CTX_AREA_NK":  "",
			"CTX_AREA_FK":  "",
		}, nil, &out)
	if err != nil {
		wd := date.In(k.loc).Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	for _, item := range out.Output {
		if item.Date == target {
			return item.OpenYN == "Y"
		}
	}
	return true
}

// ─── WebSocket approval ────────────────────────────────────────────────────────

type approvalResp struct {
	ApprovalKey string `json:"approval_key"`
}

// ApprovalKey issues (and briefly caches) the WebSocket approval key.
func (k *KIS) ApprovalKey(ctx context.Context) (string, error) {
	k.approvalMu.Lock()
	defer k.approvalMu.Unlock()

	if k.approvalKey != "" && time.Now().Before(k.approvalExp) {
		return k.approvalKey, nil
	}

	var out approvalResp
	resp, err := k.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     k.cfg.AppKey,
			"secretkey":  k.cfg.AppSecret,
		}).
		SetResult(&out).
		Post("/oauth2/Approval")
	if err != nil {
		return "", fmt.Errorf("approval key: %w", err)
	}
	if resp.IsError() || out.ApprovalKey == "" {
		return "", fmt.Errorf("approval key rejected: status=%d", resp.StatusCode())
	}

	k.approvalKey = out.ApprovalKey
	k.approvalExp = time.Now().Add(approvalKeyTTL)
	return k.approvalKey, nil
}

// ─── Parse helpers ─────────────────────────────────────────────────────────────

func parseI64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseF64(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpvault/gov"
	"perpvault/observability"
	"perpvault/oracle"
	"perpvault/vault"
)

const requestBodyLimit = 1 << 20 // 1 MiB

var errGasPriceTooHigh = errors.New("rpc: gas price exceeds ceiling")

// Server exposes the vault engine over HTTP. Mutating endpoints accept JSON
// bodies with amounts encoded as base-10 strings; reads return the same
// encoding so callers never lose precision.
type Server struct {
	engine        *vault.Engine
	timelock      *gov.Timelock
	logger        *slog.Logger
	metrics       *observability.VaultMetrics
	maxGasPrice   *big.Int
	limiter       *rateLimiter
	prices        *oracle.Aggregator
	feed          *oracle.ManualFeed
	secondaryFeed *oracle.ManualFeed
}

// Config bundles the server's collaborators. Prices and Feed enable the
// operator price submission endpoint; SecondaryFeed additionally accepts
// reference prices for the aggregator's secondary bound.
type Config struct {
	Engine            *vault.Engine
	Timelock          *gov.Timelock
	Logger            *slog.Logger
	MaxGasPrice       uint64
	RequestsPerMinute float64
	Prices            *oracle.Aggregator
	Feed              *oracle.ManualFeed
	SecondaryFeed     *oracle.ManualFeed
}

// NewServer wires the HTTP surface around the supplied engine.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("rpc: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:        cfg.Engine,
		timelock:      cfg.Timelock,
		logger:        logger,
		metrics:       observability.Metrics(),
		limiter:       newRateLimiter(cfg.RequestsPerMinute),
		prices:        cfg.Prices,
		feed:          cfg.Feed,
		secondaryFeed: cfg.SecondaryFeed,
	}
	if cfg.MaxGasPrice > 0 {
		srv.maxGasPrice = new(big.Int).SetUint64(cfg.MaxGasPrice)
	}
	return srv, nil
}

// Handler builds the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.limiter != nil {
			v1.Use(s.limiter.middleware)
		}
		v1.Post("/debt/issue", s.handleIssue)
		v1.Post("/debt/redeem", s.handleRedeem)
		v1.Post("/swap", s.handleSwap)
		v1.Post("/positions/increase", s.handleIncrease)
		v1.Post("/positions/decrease", s.handleDecrease)
		v1.Post("/positions/liquidate", s.handleLiquidate)

		v1.Get("/pools/{token}", s.handlePool)
		v1.Get("/pools", s.handlePoolValue)
		v1.Get("/positions/{owner}/{collateral}/{index}/{side}", s.handlePosition)
		v1.Get("/prices/{token}", s.handlePrice)

		v1.Route("/admin", func(admin chi.Router) {
			admin.Post("/tokens", s.handleAdminToken)
			admin.Post("/fees", s.handleAdminFees)
			admin.Post("/funding", s.handleAdminFunding)
			admin.Post("/leverage", s.handleAdminLeverage)
			admin.Post("/callers", s.handleAdminCaller)
			admin.Post("/fees/withdraw", s.handleWithdrawFees)
			admin.Post("/prices", s.handleAdminPrice)
			admin.Post("/custody", s.handleCustodyCredit)
		})
	})
	return r
}

type issueRequest struct {
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
	GasPrice string `json:"gasPrice,omitempty"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req issueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	minted, err := s.engine.IssueDebtUnit(req.Token, req.Receiver)
	s.metrics.ObserveOperation("issue", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("debt units issued", "token", req.Token, "receiver", req.Receiver, "minted", minted.String())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: minted.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req issueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	redeemed, err := s.engine.RedeemDebtUnit(req.Token, req.Receiver)
	s.metrics.ObserveOperation("redeem", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("debt units redeemed", "token", req.Token, "receiver", req.Receiver, "redeemed", redeemed.String())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: redeemed.String()})
}

type swapRequest struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	Receiver string `json:"receiver"`
	GasPrice string `json:"gasPrice,omitempty"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req swapRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.engine.Swap(req.TokenIn, req.TokenOut, req.Receiver)
	s.metrics.ObserveOperation("swap", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("swap executed", "tokenIn", req.TokenIn, "tokenOut", req.TokenOut, "amountOut", out.String())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: out.String()})
}

type increaseRequest struct {
	Caller          string `json:"caller"`
	Owner           string `json:"owner"`
	CollateralToken string `json:"collateralToken"`
	IndexToken      string `json:"indexToken"`
	SizeDelta       string `json:"sizeDelta"`
	IsLong          bool   `json:"isLong"`
	GasPrice        string `json:"gasPrice,omitempty"`
}

func (s *Server) handleIncrease(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req increaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	sizeDelta, err := parseAmount(req.SizeDelta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.engine.IncreasePosition(req.Caller, req.Owner, req.CollateralToken, req.IndexToken, sizeDelta, req.IsLong)
	s.metrics.ObserveOperation("increase_position", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("position increased", "owner", req.Owner, "index", req.IndexToken, "sizeDelta", req.SizeDelta, "long", req.IsLong)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type decreaseRequest struct {
	Caller          string `json:"caller"`
	Owner           string `json:"owner"`
	CollateralToken string `json:"collateralToken"`
	IndexToken      string `json:"indexToken"`
	CollateralDelta string `json:"collateralDelta"`
	SizeDelta       string `json:"sizeDelta"`
	IsLong          bool   `json:"isLong"`
	Receiver        string `json:"receiver"`
	GasPrice        string `json:"gasPrice,omitempty"`
}

func (s *Server) handleDecrease(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req decreaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	collateralDelta, err := parseAmount(req.CollateralDelta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sizeDelta, err := parseAmount(req.SizeDelta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.engine.DecreasePosition(req.Caller, req.Owner, req.CollateralToken, req.IndexToken, collateralDelta, sizeDelta, req.IsLong, req.Receiver)
	s.metrics.ObserveOperation("decrease_position", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("position decreased", "owner", req.Owner, "index", req.IndexToken, "sizeDelta", req.SizeDelta, "payout", out.String())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: out.String()})
}

type liquidateRequest struct {
	Owner           string `json:"owner"`
	CollateralToken string `json:"collateralToken"`
	IndexToken      string `json:"indexToken"`
	IsLong          bool   `json:"isLong"`
	FeeReceiver     string `json:"feeReceiver"`
	GasPrice        string `json:"gasPrice,omitempty"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.checkGasPrice(req.GasPrice); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.engine.LiquidatePosition(req.Owner, req.CollateralToken, req.IndexToken, req.IsLong, req.FeeReceiver)
	s.metrics.ObserveOperation("liquidate", err, started)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("position liquidated", "owner", req.Owner, "index", req.IndexToken, "long", req.IsLong)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type poolResponse struct {
	Token                 string `json:"token"`
	PoolAmount            string `json:"poolAmount"`
	FeeReserve            string `json:"feeReserve"`
	IssuedDebt            string `json:"issuedDebt"`
	ReservedAmount        string `json:"reservedAmount"`
	GuaranteedUsd         string `json:"guaranteedUsd"`
	CumulativeFundingRate string `json:"cumulativeFundingRate"`
	LastFundingTime       int64  `json:"lastFundingTime"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.PoolFor(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolResponse{
		Token:                 pool.Token,
		PoolAmount:            pool.PoolAmount.String(),
		FeeReserve:            pool.FeeReserve.String(),
		IssuedDebt:            pool.IssuedDebt.String(),
		ReservedAmount:        pool.ReservedAmount.String(),
		GuaranteedUsd:         pool.GuaranteedUsd.String(),
		CumulativeFundingRate: pool.CumulativeFundingRate.String(),
		LastFundingTime:       pool.LastFundingTime,
	})
}

func (s *Server) handlePoolValue(w http.ResponseWriter, _ *http.Request) {
	total, err := s.engine.TotalPoolValueUsd()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"totalValueUsd": total.String()})
}

type positionResponse struct {
	Size             string `json:"size"`
	Collateral       string `json:"collateral"`
	AveragePrice     string `json:"averagePrice"`
	EntryFundingRate string `json:"entryFundingRate"`
	ReserveAmount    string `json:"reserveAmount"`
	IsLong           bool   `json:"isLong"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	side := strings.ToLower(chi.URLParam(r, "side"))
	if side != "long" && side != "short" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "side must be long or short"})
		return
	}
	pos, err := s.engine.PositionFor(chi.URLParam(r, "owner"), chi.URLParam(r, "collateral"), chi.URLParam(r, "index"), side == "long")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pos == nil {
		s.writeError(w, vault.ErrNoPosition)
		return
	}
	s.writeJSON(w, http.StatusOK, positionResponse{
		Size:             pos.Size.String(),
		Collateral:       pos.Collateral.String(),
		AveragePrice:     pos.AveragePrice.String(),
		EntryFundingRate: pos.EntryFundingRate.String(),
		ReserveAmount:    pos.ReserveAmount.String(),
		IsLong:           pos.IsLong,
	})
}

type priceResponse struct {
	Token string `json:"token"`
	Min   string `json:"min"`
	Max   string `json:"max"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	minPrice, err := s.engine.QuotePrice(token, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxPrice, err := s.engine.QuotePrice(token, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, priceResponse{
		Token: vault.NormalizeSymbol(token),
		Min:   minPrice.String(),
		Max:   maxPrice.String(),
	})
}

type adminTokenRequest struct {
	Caller              string `json:"caller"`
	Execute             bool   `json:"execute"`
	Clear               bool   `json:"clear"`
	Symbol              string `json:"symbol"`
	Decimals            uint8  `json:"decimals"`
	Stable              bool   `json:"stable"`
	StrictStable        bool   `json:"strictStable"`
	Shortable           bool   `json:"shortable"`
	RedemptionWeightBps uint64 `json:"redemptionWeightBps"`
	MinProfitBps        uint64 `json:"minProfitBps"`
	BufferAmount        string `json:"bufferAmount"`
}

func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req adminTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Clear && req.Execute:
		err = s.timelock.ExecuteClearTokenConfig(req.Caller, req.Symbol)
	case req.Clear:
		err = s.timelock.SignalClearTokenConfig(req.Caller, req.Symbol)
	case req.Execute:
		err = s.timelock.ExecuteSetTokenConfig(req.Caller, req.Symbol)
	default:
		buffer := big.NewInt(0)
		if strings.TrimSpace(req.BufferAmount) != "" {
			buffer, err = parseAmount(req.BufferAmount)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
		err = s.timelock.SignalSetTokenConfig(req.Caller, &vault.TokenConfig{
			Symbol:              req.Symbol,
			Decimals:            req.Decimals,
			Whitelisted:         true,
			Stable:              req.Stable,
			StrictStable:        req.StrictStable,
			Shortable:           req.Shortable,
			RedemptionWeightBps: req.RedemptionWeightBps,
			MinProfitBps:        req.MinProfitBps,
			BufferAmount:        buffer,
		})
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminFeesRequest struct {
	Caller            string `json:"caller"`
	Execute           bool   `json:"execute"`
	SwapFeeBps        uint64 `json:"swapFeeBps"`
	StableSwapFeeBps  uint64 `json:"stableSwapFeeBps"`
	MarginFeeBps      uint64 `json:"marginFeeBps"`
	LiquidationFeeUsd string `json:"liquidationFeeUsd"`
}

func (s *Server) handleAdminFees(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req adminFeesRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	if req.Execute {
		err = s.timelock.ExecuteSetFees(req.Caller)
	} else {
		liquidationFee := big.NewInt(0)
		if strings.TrimSpace(req.LiquidationFeeUsd) != "" {
			liquidationFee, err = parseAmount(req.LiquidationFeeUsd)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
		err = s.timelock.SignalSetFees(req.Caller, vault.FeeParams{
			SwapFeeBps:        req.SwapFeeBps,
			StableSwapFeeBps:  req.StableSwapFeeBps,
			MarginFeeBps:      req.MarginFeeBps,
			LiquidationFeeUsd: liquidationFee,
		})
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminFundingRequest struct {
	Caller          string `json:"caller"`
	Execute         bool   `json:"execute"`
	IntervalSeconds int64  `json:"intervalSeconds"`
	RateFactor      uint64 `json:"rateFactor"`
}

func (s *Server) handleAdminFunding(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req adminFundingRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	if req.Execute {
		err = s.timelock.ExecuteSetFundingParams(req.Caller)
	} else {
		err = s.timelock.SignalSetFundingParams(req.Caller, vault.FundingParams{
			IntervalSeconds: req.IntervalSeconds,
			RateFactor:      req.RateFactor,
		})
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminLeverageRequest struct {
	Caller      string `json:"caller"`
	Execute     bool   `json:"execute"`
	MaxLeverage uint64 `json:"maxLeverage"`
}

func (s *Server) handleAdminLeverage(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req adminLeverageRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	if req.Execute {
		err = s.timelock.ExecuteSetMaxLeverage(req.Caller)
	} else {
		err = s.timelock.SignalSetMaxLeverage(req.Caller, req.MaxLeverage)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminCallerRequest struct {
	Caller   string `json:"caller"`
	Execute  bool   `json:"execute"`
	Remove   bool   `json:"remove"`
	Approved string `json:"approved"`
}

func (s *Server) handleAdminCaller(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req adminCallerRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Remove && req.Execute:
		err = s.timelock.ExecuteRemoveApprovedCaller(req.Caller, req.Approved)
	case req.Remove:
		err = s.timelock.SignalRemoveApprovedCaller(req.Caller, req.Approved)
	case req.Execute:
		err = s.timelock.ExecuteAddApprovedCaller(req.Caller, req.Approved)
	default:
		err = s.timelock.SignalAddApprovedCaller(req.Caller, req.Approved)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type withdrawFeesRequest struct {
	Caller   string `json:"caller"`
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req withdrawFeesRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := s.timelock.WithdrawFees(req.Caller, req.Token, req.Receiver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("fees withdrawn", "token", req.Token, "receiver", req.Receiver, "amount", amount.String())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

type adminPriceRequest struct {
	Caller       string `json:"caller"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Decimals     uint8  `json:"decimals"`
	StrictStable bool   `json:"strictStable"`
	Secondary    bool   `json:"secondary"`
}

// handleAdminPrice records an operator price observation. The first
// submission for a token registers the manual feed with the aggregator so
// the token becomes quotable.
func (s *Server) handleAdminPrice(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil || s.feed == nil || s.prices == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "price submission disabled"})
		return
	}
	var req adminPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.timelock.RequireGovernor(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	target := s.feed
	if req.Secondary {
		if s.secondaryFeed == nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "secondary source disabled"})
			return
		}
		target = s.secondaryFeed
	}
	if err := target.SetDecimal(req.Symbol, req.Price, req.Decimals, time.Now().UTC()); err != nil {
		s.writeError(w, err)
		return
	}
	if !req.Secondary && !s.prices.HasFeed(req.Symbol) {
		s.prices.RegisterFeed(req.Symbol, s.feed, req.StrictStable)
	}
	s.logger.Info("price submitted", "token", req.Symbol, "price", req.Price, "secondary", req.Secondary)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type custodyCreditRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// handleCustodyCredit records a settlement confirmed on the external ledger,
// making the amount visible to the next vault operation as a deposit.
func (s *Server) handleCustodyCredit(w http.ResponseWriter, r *http.Request) {
	if s.timelock == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "governance disabled"})
		return
	}
	var req custodyCreditRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.timelock.RequireGovernor(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.CreditCustody(req.Token, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("custody credited", "token", req.Token, "amount", req.Amount)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) checkGasPrice(raw string) error {
	if s.maxGasPrice == nil || strings.TrimSpace(raw) == "" {
		return nil
	}
	gasPrice, err := parseAmount(raw)
	if err != nil {
		return err
	}
	if gasPrice.Cmp(s.maxGasPrice) > 0 {
		return errGasPriceTooHigh
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrUnauthorizedCaller),
		errors.Is(err, gov.ErrNotGovernor):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrNoPrice),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, vault.ErrPriceRequired):
		return http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrDebtCapExceeded),
		errors.Is(err, vault.ErrDebtUnderflow),
		errors.Is(err, vault.ErrInsufficientPool),
		errors.Is(err, vault.ErrBufferBreached),
		errors.Is(err, vault.ErrReserveExceedsPool),
		errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrLossesExceedCollateral),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, gov.ErrDelayNotElapsed),
		errors.Is(err, gov.ErrDuplicateSignal):
		return http.StatusConflict
	case errors.Is(err, gov.ErrUnknownAction):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("rpc: invalid amount %q", raw)
	}
	return value, nil
}

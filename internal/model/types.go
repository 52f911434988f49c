package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

const EnvelopeVersion = "v1"

// ToolCall is the contract with the natural-language intent router: a tool
// name plus its raw JSON arguments and the caller's wallet context.
type ToolCall struct {
	Name          string         `json:"name"`
	Args          map[string]any `json:"args"`
	WalletContext WalletContext  `json:"wallet_context"`
}

type WalletContext struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
}

// ToolResult is the envelope every tool invocation returns.
type ToolResult struct {
	Version  string     `json:"version"`
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error"`
	Warnings []string   `json:"warnings,omitempty"`
	Meta     ResultMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ResultMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool"`
}

// Quote is the canonical normalized aggregator quote. All amounts are
// base-unit integers carried as decimal strings; they may exceed the 53-bit
// float-safe range and must never pass through binary floating point.
type Quote struct {
	FromToken       registry.Token `json:"from_token"`
	ToToken         registry.Token `json:"to_token"`
	FromAmountBase  string         `json:"from_amount_base"`
	ToAmountBase    string         `json:"to_amount_base"`
	ToAmountMinBase string         `json:"to_amount_min_base"`
	// ExchangeRate is nil when it can neither be read nor derived; callers
	// must treat nil as "unavailable", not zero.
	ExchangeRate       *decimal.Decimal `json:"exchange_rate"`
	PriceImpactPercent decimal.Decimal  `json:"price_impact_percent"`
	EstimatedGas       string           `json:"estimated_gas"`
	RouterAddress      string           `json:"router_address,omitempty"`
	FetchedAt          string           `json:"fetched_at"`
}

// AllowanceStatus is derived from a live chain read and never cached.
type AllowanceStatus struct {
	IsApproved            bool   `json:"is_approved"`
	CurrentAllowanceBase  string `json:"current_allowance_base"`
	RequiredAllowanceBase string `json:"required_allowance_base"`
	SpenderAddress        string `json:"spender_address"`
}

// Transaction is an unsigned transaction descriptor handed to the external
// signer. It carries no identity beyond its content.
type Transaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gas_limit"`
}

// GasProfile combines the limit-margin layer with the EIP-1559 fee layer.
// The two layers deliberately never share a multiplier: an under-estimated
// limit burns the fee on a failed transaction, an over-priced fee only
// costs money.
type GasProfile struct {
	OperationClass       string          `json:"operation_class"`
	MarginMultiplier     decimal.Decimal `json:"margin_multiplier"`
	GasLimit             string          `json:"gas_limit"`
	MaxFeePerGas         string          `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string          `json:"max_priority_fee_per_gas"`
	Congestion           string          `json:"congestion"`
}

// SwapPlan is the fully-formed result of build_swap: the unsigned swap
// transaction (and approval transaction when allowance is short) plus the
// redisplayable quote for user confirmation.
type SwapPlan struct {
	Quote       Quote            `json:"quote"`
	Allowance   *AllowanceStatus `json:"allowance,omitempty"`
	Approval    *Transaction     `json:"approval,omitempty"`
	Transaction *Transaction     `json:"transaction,omitempty"`
	GasProfile  *GasProfile      `json:"gas_profile,omitempty"`
}

// SettlementRecord is the immutable bookkeeping entry delivered to the
// downstream ledger after on-chain confirmation. JSON field names follow the
// ledger's contract.
type SettlementRecord struct {
	ID            string           `json:"id"`
	WalletAddress string           `json:"walletAddress"`
	TokenIn       string           `json:"tokenIn"`
	TokenOut      string           `json:"tokenOut"`
	AmountIn      string           `json:"amountIn"`
	AmountOut     string           `json:"amountOut"`
	PriceOutUSD   *decimal.Decimal `json:"priceOutUsd"`
	CostBasisUSD  *decimal.Decimal `json:"costBasisUsd"`
	TxHash        string           `json:"txHash"`
	Blockchain    string           `json:"blockchain"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        string           `json:"status"`
	ExtraInfo     map[string]any   `json:"extraInfo,omitempty"`
}

const SettlementStatusSuccess = "SUCCESS"

package entities

import "strings"

// Chain identifies a supported blockchain
type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainEthereum Chain = "ethereum"
	ChainTron     Chain = "tron"
)

// AllChains lists every chain the service monitors
func AllChains() []Chain {
	return []Chain{ChainSolana, ChainEthereum, ChainTron}
}

// IsValid reports whether the chain is supported
func (c Chain) IsValid() bool {
	switch c {
	case ChainSolana, ChainEthereum, ChainTron:
		return true
	}
	return false
}

// ParseChain normalizes a chain name
func ParseChain(s string) (Chain, bool) {
	c := Chain(strings.ToLower(strings.TrimSpace(s)))
	return c, c.IsValid()
}

// AssetKind distinguishes native coins from contract tokens
type AssetKind string

const (
	AssetKindNative AssetKind = "native"
	AssetKindToken  AssetKind = "token"
)

// Asset describes a transferable asset on one chain.
// Decimals drive exact base-unit scaling: lamports (9), wei (18),
// sun (6), USDC/USDT (6).
type Asset struct {
	Symbol   string
	Chain    Chain
	Kind     AssetKind
	Decimals int32
	// Contract is the token mint / contract address; empty for native assets
	Contract string
}

// Supported assets, keyed by currency symbol
var (
	AssetSOL = Asset{Symbol: "SOL", Chain: ChainSolana, Kind: AssetKindNative, Decimals: 9}
	AssetETH = Asset{Symbol: "ETH", Chain: ChainEthereum, Kind: AssetKindNative, Decimals: 18}
	AssetTRX = Asset{Symbol: "TRX", Chain: ChainTron, Kind: AssetKindNative, Decimals: 6}

	AssetUSDCSolana = Asset{
		Symbol:   "USDC",
		Chain:    ChainSolana,
		Kind:     AssetKindToken,
		Decimals: 6,
		Contract: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}
	AssetUSDTTron = Asset{
		Symbol:   "USDT",
		Chain:    ChainTron,
		Kind:     AssetKindToken,
		Decimals: 6,
		Contract: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
	}
	AssetUSDTEthereum = Asset{
		Symbol:   "USDT",
		Chain:    ChainEthereum,
		Kind:     AssetKindToken,
		Decimals: 6,
		Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	}
)

// AssetForCurrency resolves a currency symbol on a chain to its asset definition
func AssetForCurrency(chain Chain, symbol string) (Asset, bool) {
	for _, a := range []Asset{
		AssetSOL, AssetETH, AssetTRX,
		AssetUSDCSolana, AssetUSDTTron, AssetUSDTEthereum,
	} {
		if a.Chain == chain && strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return Asset{}, false
}

// NativeAsset returns the gas-paying asset of a chain
func NativeAsset(chain Chain) Asset {
	switch chain {
	case ChainSolana:
		return AssetSOL
	case ChainEthereum:
		return AssetETH
	case ChainTron:
		return AssetTRX
	}
	return Asset{}
}

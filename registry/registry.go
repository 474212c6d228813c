// Package registry holds the immutable per-chain configuration: RPC
// connection, contract addresses, and token tables. It is built once at
// startup and is read-only afterwards, so all lookups are lock-free.
package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/msqpay/gateway/clients"
	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/types"
)

// Chain bundles everything the engine knows about one configured chain.
type Chain struct {
	Definition types.ChainDefinition
	RPC        clients.RPC
	Gateway    *clients.GatewayContract
	Forwarder  common.Address

	tokensBySymbol  map[string]types.TokenInfo
	tokensByAddress map[string]types.TokenInfo
}

// ScanWindow returns the bounded block window for settlement scans.
func (c *Chain) ScanWindow() uint64 {
	if c.Definition.ScanWindow > 0 {
		return c.Definition.ScanWindow
	}
	return types.DefaultScanWindow
}

// Registry maps chain ids to their configuration. Never mutated after New.
type Registry struct {
	chains map[int64]*Chain
	log    logger.Logger
}

// Dialer opens an RPC connection for a chain definition. The default is
// clients.Dial; tests inject fakes.
type Dialer func(rpcURL string) (clients.RPC, error)

type Option func(*builder)

type builder struct {
	dial Dialer
	log  logger.Logger
}

func WithDialer(dial Dialer) Option {
	return func(b *builder) {
		b.dial = dial
	}
}

func WithLogger(log logger.Logger) Option {
	return func(b *builder) {
		b.log = log
	}
}

// New dials every usable chain definition and builds the registry.
// Definitions missing the gateway or forwarder address are skipped with
// a warning; such chains are never reported as supported.
func New(defs []types.ChainDefinition, opts ...Option) (*Registry, error) {
	b := &builder{
		dial: clients.Dial,
		log:  logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}

	reg := &Registry{
		chains: make(map[int64]*Chain, len(defs)),
		log:    b.log,
	}

	for _, def := range defs {
		if !common.IsHexAddress(def.GatewayAddress) || !common.IsHexAddress(def.ForwarderAddress) {
			b.log.Warn("skipping chain without contract addresses", map[string]any{
				"chain_id":  def.ChainID,
				"chain":     def.Name,
				"gateway":   def.GatewayAddress,
				"forwarder": def.ForwarderAddress,
			})
			continue
		}

		rpc, err := b.dial(def.RPCEndpoint)
		if err != nil {
			reg.Close()
			return nil, err
		}

		gateway, err := clients.NewGatewayContract(rpc, common.HexToAddress(def.GatewayAddress))
		if err != nil {
			rpc.Close()
			reg.Close()
			return nil, err
		}

		chain := &Chain{
			Definition:      def,
			RPC:             rpc,
			Gateway:         gateway,
			Forwarder:       common.HexToAddress(def.ForwarderAddress),
			tokensBySymbol:  make(map[string]types.TokenInfo, len(def.Tokens)),
			tokensByAddress: make(map[string]types.TokenInfo, len(def.Tokens)),
		}
		for _, token := range def.Tokens {
			chain.tokensBySymbol[token.Symbol] = token
			chain.tokensByAddress[strings.ToLower(token.Address)] = token
		}

		reg.chains[def.ChainID] = chain

		b.log.Info("chain registered", map[string]any{
			"chain_id": def.ChainID,
			"chain":    def.Name,
			"tokens":   len(def.Tokens),
		})
	}

	return reg, nil
}

// IsSupported reports whether a chain was registered.
func (r *Registry) IsSupported(chainID int64) bool {
	_, ok := r.chains[chainID]
	return ok
}

// Chain returns the configuration for a chain id.
func (r *Registry) Chain(chainID int64) (*Chain, error) {
	chain, ok := r.chains[chainID]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain, "chain %d is not supported", chainID)
	}
	return chain, nil
}

// Contracts returns the gateway and forwarder addresses for a chain.
func (r *Registry) Contracts(chainID int64) (gateway, forwarder common.Address, err error) {
	chain, err := r.Chain(chainID)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return chain.Gateway.Address(), chain.Forwarder, nil
}

// TokenByAddress resolves a token by contract address, case-insensitively.
func (r *Registry) TokenByAddress(chainID int64, address string) (types.TokenInfo, error) {
	chain, err := r.Chain(chainID)
	if err != nil {
		return types.TokenInfo{}, err
	}
	token, ok := chain.tokensByAddress[strings.ToLower(address)]
	if !ok {
		return types.TokenInfo{}, types.NewError(types.ErrUnsupportedToken, "token %s is not configured on chain %d", address, chainID)
	}
	return token, nil
}

// TokenBySymbol resolves a token by its exact symbol.
func (r *Registry) TokenBySymbol(chainID int64, symbol string) (types.TokenInfo, error) {
	chain, err := r.Chain(chainID)
	if err != nil {
		return types.TokenInfo{}, err
	}
	token, ok := chain.tokensBySymbol[symbol]
	if !ok {
		return types.TokenInfo{}, types.NewError(types.ErrUnsupportedToken, "token %s is not configured on chain %d", symbol, chainID)
	}
	return token, nil
}

// Chains lists the registered chain ids.
func (r *Registry) Chains() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every chain's RPC connection.
func (r *Registry) Close() {
	for _, chain := range r.chains {
		chain.RPC.Close()
	}
}

// Package accounts resolves provider-account-name handles into live
// sessions routed through the bundler router.
package accounts

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/bundler"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/engine"
)

// BalanceFunc reports an account's native balance in wei. Injected so
// the provider stays chain-client agnostic and tests can stub it.
type BalanceFunc func(ctx context.Context, address string) (*uint256.Int, error)

// Provider maps stable account-name handles to smart-account addresses
// and hands out router-backed sessions.
type Provider struct {
	router  *bundler.Router
	balance BalanceFunc
	log     zerolog.Logger

	mu       sync.RWMutex
	accounts map[string]string // provider account name -> address
}

// NewProvider creates a provider over the given router. balance may be
// nil; sessions then report a zero balance.
func NewProvider(router *bundler.Router, balance BalanceFunc, log zerolog.Logger) *Provider {
	return &Provider{
		router:   router,
		balance:  balance,
		log:      log.With().Str("component", "accounts").Logger(),
		accounts: make(map[string]string),
	}
}

// Register binds an account-name handle to its smart-account address.
// Called at boot for the master and every fleet wallet.
func (p *Provider) Register(name, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[name] = domain.NormalizeAddress(address)
}

// GetSession returns a live session for a registered account handle.
func (p *Provider) GetSession(ctx context.Context, providerAccountName string) (engine.AccountSession, error) {
	p.mu.RLock()
	address, ok := p.accounts[providerAccountName]
	p.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "account %q is not registered", providerAccountName)
	}
	return &session{provider: p, address: address}, nil
}

type session struct {
	provider *Provider
	address  string
}

func (s *session) Address() string { return s.address }

func (s *session) Balance(ctx context.Context) (*uint256.Int, error) {
	if s.provider.balance == nil {
		return uint256.NewInt(0), nil
	}
	return s.provider.balance(ctx, s.address)
}

func (s *session) SendUserOp(ctx context.Context, calls []bundler.Call) (*bundler.SendResult, []bundler.Attempt, error) {
	return s.provider.router.Send(ctx, bundler.UserOp{Sender: s.address, Calls: calls})
}

func (s *session) WaitReceipt(ctx context.Context, userOpHash string) (*bundler.Receipt, error) {
	return s.provider.router.WaitForReceipt(ctx, userOpHash)
}

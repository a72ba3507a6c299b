package token

import (
	"errors"
	"math/big"

	"lpvault/crypto"
	"lpvault/native/vault"
)

var (
	// ErrInvalidAmount rejects nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
	// ErrInsufficientBalance rejects burns and transfers exceeding the
	// holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

var (
	supplyKeyBytes = []byte("token/supply")
	balancePrefix  = []byte("token/balance/")
)

// Token is the fungible debt credit minted against deposited collateral.
// Balances live in the shared state manager, so mint and burn participate in
// the same snapshot/revert bracket as the ledger operation that triggered
// them.
type Token struct {
	store  vault.Storage
	symbol string
}

// NewToken binds a token instance to the state manager.
func NewToken(store vault.Storage, symbol string) *Token {
	return &Token{store: store, symbol: symbol}
}

// Symbol returns the token's display symbol.
func (t *Token) Symbol() string { return t.symbol }

// Mint credits the recipient and grows the total supply.
func (t *Token) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := t.putBalance(to, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	return t.store.KVPut(supplyKeyBytes, new(big.Int).Add(supply, amount))
}

// Burn debits the holder and shrinks the total supply. It fails without
// touching state when the balance is insufficient.
func (t *Token) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.putBalance(from, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(supply, amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	return t.store.KVPut(supplyKeyBytes, next)
}

// Transfer moves balance between holders.
func (t *Token) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBal, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := t.putBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return t.putBalance(to, new(big.Int).Add(toBal, amount))
}

// BalanceOf returns the holder's balance, zero when absent.
func (t *Token) BalanceOf(holder crypto.Address) (*big.Int, error) {
	bal := new(big.Int)
	ok, err := t.store.KVGet(balanceKey(holder), bal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	supply := new(big.Int)
	ok, err := t.store.KVGet(supplyKeyBytes, supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return supply, nil
}

func (t *Token) putBalance(holder crypto.Address, bal *big.Int) error {
	return t.store.KVPut(balanceKey(holder), bal)
}

func balanceKey(holder crypto.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+20)
	buf = append(buf, balancePrefix...)
	buf = append(buf, holder.Bytes()...)
	return buf
}

package settlement

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

const (
	// Accounts the credit account can fund with the default credit before it
	// needs to be refilled.
	creditAccountFundedAccounts = 100
	// HOURs worth of local units kept in the credit account and traded by the
	// external trader.
	baseHours = 100
)

// Currency is the ledger view of a local currency: its exchange rate and the
// public keys of its role accounts.
type Currency struct {
	Code              string
	Rate              Rate
	IssuerKey         string
	CreditKey         string
	AdminKey          string
	ExternalIssuerKey string
	ExternalTraderKey string
}

// Asset is the local currency asset.
func (c Currency) Asset() Asset {
	return Asset{Code: c.Code, Issuer: c.IssuerKey}
}

// HourAsset is the HOUR asset issued for this currency.
func (c Currency) HourAsset() Asset {
	return Asset{Code: HourCode, Issuer: c.ExternalIssuerKey}
}

func ValidCurrencyCode(code string) bool {
	return currencyCodePattern.MatchString(code)
}

// CurrencyConfig holds the ledger parameters of a new currency. Amounts are
// in ledger units.
type CurrencyConfig struct {
	Code                        string
	Rate                        Rate
	DefaultInitialCredit        decimal.Decimal
	ExternalTraderInitialCredit decimal.Decimal
}

// CurrencyKeys are the role keys of a currency. The caller stores them.
type CurrencyKeys struct {
	Issuer         *Keypair
	Credit         *Keypair
	Admin          *Keypair
	ExternalIssuer *Keypair
	ExternalTrader *Keypair
}

func (k *CurrencyKeys) Currency(code string, rate Rate) Currency {
	return Currency{
		Code:              code,
		Rate:              rate,
		IssuerKey:         k.Issuer.Address(),
		CreditKey:         k.Credit.Address(),
		AdminKey:          k.Admin.Address(),
		ExternalIssuerKey: k.ExternalIssuer.Address(),
		ExternalTraderKey: k.ExternalTrader.Address(),
	}
}

// CreateCurrency generates the role keys and installs the currency: role
// accounts and trustlines, credit account funding and the trader's HOUR offer.
func (c *Client) CreateCurrency(ctx context.Context, cfg CurrencyConfig, sponsor *Keypair) (*CurrencyKeys, error) {
	if !ValidCurrencyCode(cfg.Code) {
		return nil, settlementErrorf(nil, "invalid currency code %q", cfg.Code)
	}
	if !cfg.Rate.Valid() {
		return nil, settlementErrorf(nil, "invalid currency rate %d/%d", cfg.Rate.N, cfg.Rate.D)
	}

	keys := &CurrencyKeys{}
	for _, k := range []**Keypair{&keys.Issuer, &keys.Credit, &keys.Admin, &keys.ExternalIssuer, &keys.ExternalTrader} {
		kp, err := RandomKeypair()
		if err != nil {
			return nil, err
		}
		*k = kp
	}
	cur := keys.Currency(cfg.Code, cfg.Rate)

	if err := c.installCurrency(ctx, cur, keys, sponsor); err != nil {
		return nil, fmt.Errorf("failed to install currency %s: %w", cfg.Code, err)
	}
	if err := c.FundCreditAccount(ctx, cur, cfg.DefaultInitialCredit, keys.Issuer, sponsor); err != nil {
		return nil, fmt.Errorf("failed to fund credit account of %s: %w", cfg.Code, err)
	}
	if err := c.setupTrader(ctx, cur, cfg.ExternalTraderInitialCredit, keys, sponsor); err != nil {
		return nil, fmt.Errorf("failed to set up external trader of %s: %w", cfg.Code, err)
	}

	c.logger.Info("Currency installed", "currency", cfg.Code, "issuer", cur.IssuerKey)
	return keys, nil
}

func (c *Client) installCurrency(ctx context.Context, cur Currency, keys *CurrencyKeys, sponsor *Keypair) error {
	asset := cur.Asset()
	hour := cur.HourAsset()
	signers := []*Keypair{sponsor, keys.Issuer, keys.Credit, keys.Admin, keys.ExternalIssuer, keys.ExternalTrader}
	_, err := c.submit(ctx, sponsor.Address(), func(*AccountEntry) ([]Operation, error) {
		ops := []Operation{
			&CreateAccount{Destination: cur.IssuerKey},
			&SetOptions{
				Source:     cur.IssuerKey,
				SetFlags:   AuthRequired | AuthRevocable | AuthClawbackEnabled,
				HomeDomain: c.cfg.Domain,
			},
			&CreateAccount{Destination: cur.ExternalIssuerKey},
			&SetOptions{Source: cur.ExternalIssuerKey, HomeDomain: c.cfg.Domain},
		}
		for _, holder := range []string{cur.CreditKey, cur.AdminKey, cur.ExternalTraderKey} {
			ops = append(ops, trustedAccountOps(holder, asset)...)
		}
		ops = append(ops, &ChangeTrust{Source: cur.ExternalTraderKey, Asset: hour})
		return ops, nil
	}, signers, sponsor)
	return ledgerError(err, false)
}

// trustedAccountOps creates an account holding an authorized trustline to asset.
func trustedAccountOps(address string, asset Asset) []Operation {
	return []Operation{
		&CreateAccount{Destination: address},
		&ChangeTrust{Source: address, Asset: asset},
		&SetTrustLineFlags{Source: asset.Issuer, Trustor: address, Asset: asset, Authorized: true},
	}
}

// creditAccountStartingBalance is the default credit of a hundred new
// accounts plus a hundred HOURs worth of local units.
func creditAccountStartingBalance(rate Rate, defaultCredit decimal.Decimal) decimal.Decimal {
	credits := defaultCredit.Mul(decimal.NewFromInt(creditAccountFundedAccounts))
	hours := rate.FromHours(decimal.NewFromInt(baseHours))
	return credits.Add(hours)
}

// FundCreditAccount tops up the credit account from the issuer when it runs
// below its starting balance.
func (c *Client) FundCreditAccount(ctx context.Context, cur Currency, defaultCredit decimal.Decimal, issuer, sponsor *Keypair) error {
	balance, err := c.Balance(ctx, cur.CreditKey, cur.Asset())
	if err != nil {
		return err
	}
	diff := creditAccountStartingBalance(cur.Rate, defaultCredit).Sub(balance.Balance)
	if !diff.IsPositive() {
		return nil
	}
	_, err = c.submit(ctx, cur.IssuerKey, func(*AccountEntry) ([]Operation, error) {
		return []Operation{&Payment{Destination: cur.CreditKey, Asset: cur.Asset(), Amount: diff}}, nil
	}, []*Keypair{issuer}, sponsor)
	return ledgerError(err, false)
}

// setupTrader gives the external trader its HOUR supply and local initial
// credit and offers the HOURs in exchange for local units.
func (c *Client) setupTrader(ctx context.Context, cur Currency, initialCredit decimal.Decimal, keys *CurrencyKeys, sponsor *Keypair) error {
	supply := decimal.NewFromInt(baseHours)
	signers := []*Keypair{keys.ExternalTrader, keys.ExternalIssuer, keys.Issuer}
	_, err := c.submit(ctx, cur.ExternalTraderKey, func(*AccountEntry) ([]Operation, error) {
		ops := []Operation{
			&Payment{Source: cur.ExternalIssuerKey, Destination: cur.ExternalTraderKey, Asset: cur.HourAsset(), Amount: supply},
		}
		if initialCredit.IsPositive() {
			ops = append(ops, &Payment{Source: cur.IssuerKey, Destination: cur.ExternalTraderKey, Asset: cur.Asset(), Amount: initialCredit})
		}
		ops = append(ops, hourOffer(cur, supply))
		return ops, nil
	}, signers, sponsor)
	return ledgerError(err, false)
}

// hourOffer sells the currency's own HOURs for local units at the currency rate.
func hourOffer(cur Currency, amount decimal.Decimal) Operation {
	return &ManageSellOffer{
		Selling: cur.HourAsset(),
		Buying:  cur.Asset(),
		Amount:  amount,
		Price:   Price{N: cur.Rate.D, D: cur.Rate.N},
	}
}

// TrustLine is a bounded willingness to receive another currency's HOURs.
// Limit is in local ledger units; zero removes the line.
type TrustLine struct {
	TrustedIssuer string
	Limit         decimal.Decimal
}

type TrustKeys struct {
	Sponsor        *Keypair
	ExternalTrader *Keypair
	ExternalIssuer *Keypair
}

// TrustCurrency lets payments from the currency whose HOURs are issued by
// line.TrustedIssuer reach this currency, up to line.Limit local units.
func (c *Client) TrustCurrency(ctx context.Context, cur Currency, line TrustLine, keys TrustKeys) error {
	partnerHour := Asset{Code: HourCode, Issuer: line.TrustedIssuer}
	if partnerHour == cur.HourAsset() {
		return settlementErrorf(nil, "currency %s cannot trust itself", cur.Code)
	}
	signers := []*Keypair{keys.ExternalTrader, keys.ExternalIssuer}
	_, err := c.submit(ctx, cur.ExternalTraderKey, func(entry *AccountEntry) ([]Operation, error) {
		offer := &ManageSellOffer{
			Selling: cur.Asset(),
			Buying:  partnerHour,
			Amount:  line.Limit,
			Price:   Price{N: cur.Rate.N, D: cur.Rate.D},
		}
		if line.Limit.IsZero() {
			remove := decimal.Zero
			return []Operation{offer, &ChangeTrust{Asset: partnerHour, Limit: &remove}}, nil
		}
		hours := cur.Rate.ToHours(line.Limit)
		ops := []Operation{&ChangeTrust{Asset: partnerHour, Limit: &hours}, offer}

		own, _ := entry.BalanceOf(cur.HourAsset())
		if own.LessThan(hours) {
			topUp := hours.Sub(own)
			ops = append(ops,
				&Payment{Source: cur.ExternalIssuerKey, Destination: cur.ExternalTraderKey, Asset: cur.HourAsset(), Amount: topUp},
				hourOffer(cur, hours),
			)
		}
		return ops, nil
	}, signers, keys.Sponsor)
	if err != nil {
		return ledgerError(err, false)
	}
	c.logger.Info("Trustline updated", "currency", cur.Code, "trusted", line.TrustedIssuer, "limit", line.Limit.String())
	return nil
}

// TrustedBalance returns how much of the partner HOURs the trader holds,
// expressed in local ledger units.
func (c *Client) TrustedBalance(ctx context.Context, cur Currency, trustedIssuer string) (decimal.Decimal, error) {
	b, err := c.Balance(ctx, cur.ExternalTraderKey, Asset{Code: HourCode, Issuer: trustedIssuer})
	if err != nil {
		return decimal.Zero, err
	}
	return cur.Rate.FromHours(b.Balance), nil
}

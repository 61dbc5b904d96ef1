package unifi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrInvalidPolicy is returned when a Policy sets zero or both variants.
	ErrInvalidPolicy = errors.New("exactly one of duration or data quota must be set")
	// ErrInconsistentExpiry is returned when expire_number x expire_unit is not the duration.
	ErrInconsistentExpiry = errors.New("expire_number x expire_unit must equal the duration in minutes")
)

// DurationPolicy grants access for a number of minutes.
type DurationPolicy struct {
	Minutes      int
	ExpireNumber int // optional, 0 = Minutes / ExpireUnit
	ExpireUnit   int // optional, 0 = ExpireUnitMinute
}

// Expiry resolves the expire_number and expire_unit sent with create-voucher.
// The pair must describe the same span as Minutes.
func (d DurationPolicy) Expiry() (number, unit int, err error) {
	number, unit = d.ExpireNumber, d.ExpireUnit
	if unit <= 0 {
		unit = ExpireUnitMinute
	}
	if number <= 0 {
		number = d.Minutes / unit
	}
	if number <= 0 || number*unit != d.Minutes {
		return 0, 0, ErrInconsistentExpiry
	}
	return number, unit, nil
}

// DataPolicy grants access until a byte quota is used up.
type DataPolicy struct {
	Bytes int64
}

// Policy selects how a voucher is limited. Exactly one field is set.
type Policy struct {
	Duration *DurationPolicy
	Data     *DataPolicy
}

// DurationGrant returns a minutes-based policy.
func DurationGrant(minutes int) Policy {
	return Policy{Duration: &DurationPolicy{Minutes: minutes}}
}

// DataGrant returns a byte-quota policy.
func DataGrant(bytes int64) Policy {
	return Policy{Data: &DataPolicy{Bytes: bytes}}
}

// Validate checks that exactly one variant is populated and that a duration
// policy's expiry pair matches its minutes.
func (p Policy) Validate() error {
	if (p.Duration == nil) == (p.Data == nil) {
		return ErrInvalidPolicy
	}
	if p.Duration != nil {
		if _, _, err := p.Duration.Expiry(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
		}
	}
	return nil
}

// Binding describes a voucher successfully bound to a guest device.
type Binding struct {
	MAC      string
	Voucher  Voucher
	Fallback bool // accepted by cmd/hotspot after cmd/stamgr refused it
}

type authorizeGuestRequest struct {
	Cmd         string `json:"cmd"`
	MAC         string `json:"mac"`
	Voucher     string `json:"voucher,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
	Minutes     int    `json:"minutes,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

// ClientAuthorizer admits a guest device: login, voucher issue, bind.
type ClientAuthorizer struct {
	client *Client
	issuer *GrantIssuer
	logger *zap.Logger
}

// NewClientAuthorizer creates a new client authorizer.
func NewClientAuthorizer(client *Client, issuer *GrantIssuer, logger *zap.Logger) *ClientAuthorizer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ClientAuthorizer{
		client: client,
		issuer: issuer,
		logger: logger,
	}
}

// Authorize mints a voucher for policy and binds it to mac.
//
// The binding is first sent to cmd/stamgr; if the controller refuses it, it
// is retried exactly once on cmd/hotspot with the voucher_code field that
// some firmware revisions expect instead. A transport error on either
// attempt ends the operation.
func (a *ClientAuthorizer) Authorize(ctx context.Context, mac string, policy Policy) (*Binding, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	session, err := a.client.Login(ctx)
	if err != nil {
		return nil, err
	}

	var voucher *Voucher
	if policy.Duration != nil {
		d := policy.Duration
		voucher, err = a.issuer.IssueDurationGrant(ctx, session, d.Minutes, d.ExpireNumber, d.ExpireUnit)
	} else {
		voucher, err = a.issuer.IssueDataGrant(ctx, session, policy.Data.Bytes)
	}
	if err != nil {
		return nil, err
	}

	mac = NormalizeMAC(mac)

	primary := authorizeGuestRequest{
		Cmd:     "authorize-guest",
		MAC:     mac,
		Voucher: voucher.Code,
		Minutes: voucher.Duration,
	}
	if voucher.UsageQuota > 0 {
		primary.Bytes = voucher.UsageQuota
	}

	a.logger.Info("authorization attempt",
		zap.String("mac", mac),
		zap.String("voucher_id", voucher.ID),
		zap.Int("minutes", primary.Minutes),
		zap.Int64("bytes", primary.Bytes),
	)

	resp, err := a.client.send(ctx, http.MethodPost, a.client.sitePath("cmd/stamgr"), session, primary)
	if err != nil {
		a.logger.Error("error during authorization", zap.String("mac", mac), zap.Error(err))
		return nil, &Error{Kind: KindBinding, Op: "cmd/stamgr", Err: err}
	}
	if resp.ok() {
		a.logger.Info("authorization successful", zap.String("mac", mac))
		return &Binding{MAC: mac, Voucher: *voucher}, nil
	}

	a.logger.Warn("stamgr refused authorization, trying hotspot",
		zap.String("mac", mac),
		zap.Int("status", resp.status),
		zap.ByteString("payload", resp.raw),
	)
	primaryMsg := resp.failure(KindBinding, "cmd/stamgr").Message

	fallback := authorizeGuestRequest{
		Cmd:         "authorize-guest",
		MAC:         mac,
		VoucherCode: voucher.Code,
	}

	resp, err = a.client.send(ctx, http.MethodPost, a.client.sitePath("cmd/hotspot"), session, fallback)
	if err != nil {
		a.logger.Error("error during fallback authorization", zap.String("mac", mac), zap.Error(err))
		return nil, &Error{Kind: KindBinding, Op: "cmd/hotspot", Err: err}
	}
	if resp.ok() {
		a.logger.Info("authorization successful with alternative endpoint", zap.String("mac", mac))
		return &Binding{MAC: mac, Voucher: *voucher, Fallback: true}, nil
	}

	a.logger.Error("authorization failed with both attempts",
		zap.String("mac", mac),
		zap.Int("status", resp.status),
		zap.ByteString("payload", resp.raw),
	)

	bindErr := resp.failure(KindBinding, "cmd/hotspot")
	bindErr.Message = "stamgr: " + primaryMsg + "; hotspot: " + bindErr.Message
	return nil, bindErr
}

// NormalizeMAC lowercases a MAC address; the controller matches it
// case-sensitively.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

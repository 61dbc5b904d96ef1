// Package portal turns a captive-portal login request into controller access
// for the guest device.
package portal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/unifi-hotspot-gateway/internal/unifi"
)

const (
	// DefaultDuration is granted when a request names neither duration nor data.
	DefaultDuration = 10
	// DefaultTimeout bounds one whole authorization sequence.
	DefaultTimeout = 60 * time.Second
)

// AllowedDurations lists the minute values a request may ask for.
var AllowedDurations = []int{10, 20, 30, 60, 720, 1440}

// Kind classifies why a request was denied.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindGrantIssuance  Kind = "grant_issuance"
	KindBinding        Kind = "binding"
	KindInternal       Kind = "internal"
)

// Authorizer binds a new voucher for policy to a guest device.
type Authorizer interface {
	Authorize(ctx context.Context, mac string, policy unifi.Policy) (*unifi.Binding, error)
}

// Prober reports outbound internet reachability.
type Prober interface {
	Check(ctx context.Context) bool
}

// Request is a guest authorization request from the splash page.
type Request struct {
	ClientMAC    string
	Duration     *int   // minutes
	Data         *int64 // bytes
	ExpireNumber *int
	ExpireUnit   *int

	// Informational fields forwarded by the splash page.
	APMAC       string
	SSID        string
	Timestamp   int64
	RedirectURL string
}

// ValidationError is a caller error detected before any controller call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Policy validates the request and derives the access policy it asks for.
func (r *Request) Policy() (unifi.Policy, error) {
	if strings.TrimSpace(r.ClientMAC) == "" {
		return unifi.Policy{}, &ValidationError{Message: "Client MAC address is required"}
	}
	if r.Duration != nil && r.Data != nil {
		return unifi.Policy{}, &ValidationError{Message: "only one of duration or data may be set"}
	}

	if r.Data != nil {
		if r.ExpireNumber != nil || r.ExpireUnit != nil {
			return unifi.Policy{}, &ValidationError{Message: "expire_number and expire_unit apply to duration grants only"}
		}
		if *r.Data <= 0 {
			return unifi.Policy{}, &ValidationError{Message: "data quota must be a positive number of bytes"}
		}
		return unifi.DataGrant(*r.Data), nil
	}

	minutes := DefaultDuration
	if r.Duration != nil {
		minutes = *r.Duration
		if !slices.Contains(AllowedDurations, minutes) {
			return unifi.Policy{}, &ValidationError{
				Message: fmt.Sprintf("duration must be one of %v minutes", AllowedDurations),
			}
		}
	}

	d := &unifi.DurationPolicy{Minutes: minutes}
	if r.ExpireNumber != nil {
		if *r.ExpireNumber <= 0 {
			return unifi.Policy{}, &ValidationError{Message: "expire_number must be positive"}
		}
		d.ExpireNumber = *r.ExpireNumber
	}
	if r.ExpireUnit != nil {
		switch *r.ExpireUnit {
		case unifi.ExpireUnitMinute, unifi.ExpireUnitHour, unifi.ExpireUnitDay:
			d.ExpireUnit = *r.ExpireUnit
		default:
			return unifi.Policy{}, &ValidationError{Message: "expire_unit must be 1, 60 or 1440"}
		}
	}

	if _, _, err := d.Expiry(); err != nil {
		return unifi.Policy{}, &ValidationError{
			Message: fmt.Sprintf("expire_number x expire_unit must equal the duration of %d minutes", minutes),
		}
	}

	return unifi.Policy{Duration: d}, nil
}

// Outcome is the result of one authorization request.
type Outcome struct {
	MAC            string
	State          State
	Success        bool
	InternetAccess *bool
	Policy         unifi.Policy
	Fallback       bool
	Kind           Kind
	Reason         string
	RedirectURL    string
	Err            error
}

func (o *Outcome) transition(to State) error {
	if !CanTransition(o.State, to) {
		return &TransitionError{From: o.State, To: to}
	}
	o.State = to
	return nil
}

// Summary is the JSON view of an Outcome.
type Summary struct {
	Success        bool   `json:"success"`
	MAC            string `json:"mac,omitempty"`
	State          State  `json:"state"`
	InternetAccess *bool  `json:"internetAccess,omitempty"`
	Duration       *int   `json:"duration,omitempty"`
	Data           *int64 `json:"data,omitempty"`
	Fallback       bool   `json:"fallback,omitempty"`
	Kind           Kind   `json:"kind,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Summary returns a serializable view of the outcome.
func (o *Outcome) Summary() Summary {
	s := Summary{
		Success:        o.Success,
		MAC:            o.MAC,
		State:          o.State,
		InternetAccess: o.InternetAccess,
		Fallback:       o.Fallback,
		Kind:           o.Kind,
		Message:        o.Reason,
	}
	if o.Success {
		if d := o.Policy.Duration; d != nil {
			s.Duration = &d.Minutes
		}
		if d := o.Policy.Data; d != nil {
			s.Data = &d.Bytes
		}
	}
	return s
}

// Respond marks a decided outcome as delivered to the caller.
func (o *Outcome) Respond() error {
	return o.transition(StateResponded)
}

// Orchestrator sequences validation, authorization and the connectivity probe
// for one request at a time. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	authorizer Authorizer
	prober     Prober
	timeout    time.Duration
	logger     *zap.Logger
}

// NewOrchestrator creates a new orchestrator. A zero timeout means
// DefaultTimeout; a nil prober skips the connectivity check.
func NewOrchestrator(authorizer Authorizer, prober Prober, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		authorizer: authorizer,
		prober:     prober,
		timeout:    timeout,
		logger:     logger,
	}
}

// Handle runs one request to a terminal state (authorized or denied).
//
// Once authorization starts it is not cancelled by the caller going away; it
// runs until it finishes or the orchestrator timeout expires.
func (o *Orchestrator) Handle(ctx context.Context, req Request) *Outcome {
	out := &Outcome{
		MAC:         req.ClientMAC,
		State:       StateReceived,
		RedirectURL: req.RedirectURL,
	}

	policy, err := req.Policy()
	if err != nil {
		o.deny(out, KindValidation, err.Error(), err)
		return out
	}
	out.Policy = policy
	o.advance(out, StateAuthorizing)

	o.logger.Info("authorizing client",
		zap.String("mac", req.ClientMAC),
		zap.String("ap_mac", req.APMAC),
		zap.String("ssid", req.SSID),
		zap.Stringer("policy", policyString(policy)),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	binding, err := o.authorizer.Authorize(ctx, req.ClientMAC, policy)
	if err != nil {
		kind := kindOf(err)
		o.deny(out, kind, reasonFor(kind), err)
		return out
	}

	o.advance(out, StateAuthorized)
	out.Success = true
	out.Fallback = binding.Fallback

	access := false
	if o.prober != nil {
		access = o.prober.Check(ctx)
	}
	out.InternetAccess = &access

	o.logger.Info("client authorized",
		zap.String("mac", binding.MAC),
		zap.Bool("fallback", binding.Fallback),
		zap.Bool("internet_access", access),
	)

	return out
}

func (o *Orchestrator) advance(out *Outcome, to State) {
	if err := out.transition(to); err != nil {
		o.logger.Error("outcome state", zap.String("mac", out.MAC), zap.Error(err))
	}
}

func (o *Orchestrator) deny(out *Outcome, kind Kind, reason string, err error) {
	o.advance(out, StateDenied)
	out.Success = false
	out.Kind = kind
	out.Reason = reason
	out.Err = err

	o.logger.Warn("client authorization denied",
		zap.String("mac", out.MAC),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

func kindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, unifi.ErrInvalidPolicy) {
		return KindValidation
	}

	switch unifi.KindOf(err) {
	case unifi.KindAuthentication:
		return KindAuthentication
	case unifi.KindGrantIssuance:
		return KindGrantIssuance
	case unifi.KindBinding:
		return KindBinding
	}
	return KindInternal
}

func reasonFor(kind Kind) string {
	switch kind {
	case KindAuthentication:
		return "Controller authentication failed"
	case KindGrantIssuance:
		return "Voucher creation failed"
	case KindValidation:
		return "Invalid request"
	}
	return "Client authorization failed"
}

type policyString unifi.Policy

func (p policyString) String() string {
	switch {
	case p.Duration != nil:
		return fmt.Sprintf("duration=%dm", p.Duration.Minutes)
	case p.Data != nil:
		return fmt.Sprintf("data=%dB", p.Data.Bytes)
	}
	return "none"
}

package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/airfi/unifi-hotspot-gateway/internal/unifi"
)

type authorizeCall struct {
	MAC    string
	Policy unifi.Policy
}

type fakeAuthorizer struct {
	mu    sync.Mutex
	calls []authorizeCall
	err   error
	ctxOK func(ctx context.Context) bool
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, mac string, policy unifi.Policy) (*unifi.Binding, error) {
	f.mu.Lock()
	f.calls = append(f.calls, authorizeCall{MAC: mac, Policy: policy})
	f.mu.Unlock()

	if f.ctxOK != nil && !f.ctxOK(ctx) {
		return nil, errors.New("unexpected context")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &unifi.Binding{MAC: unifi.NormalizeMAC(mac), Voucher: unifi.Voucher{Code: "0123456789"}}, nil
}

type fakeProber struct {
	ok    bool
	calls int
}

func (f *fakeProber) Check(ctx context.Context) bool {
	f.calls++
	return f.ok
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func newTestOrchestrator(t *testing.T, a Authorizer, p Prober) *Orchestrator {
	return NewOrchestrator(a, p, time.Second, zaptest.NewLogger(t))
}

func TestHandleAuthorized(t *testing.T) {
	a := &fakeAuthorizer{}
	p := &fakeProber{ok: true}
	o := newTestOrchestrator(t, a, p)

	out := o.Handle(context.Background(), Request{
		ClientMAC:   "11:22:33:44:55:66",
		Duration:    intPtr(30),
		RedirectURL: "http://example.com",
	})

	assert.Equal(t, StateAuthorized, out.State)
	assert.True(t, out.Success)
	assert.Equal(t, "11:22:33:44:55:66", out.MAC)
	assert.Equal(t, "http://example.com", out.RedirectURL)
	require.NotNil(t, out.InternetAccess)
	assert.True(t, *out.InternetAccess)
	require.NotNil(t, out.Policy.Duration)
	assert.Equal(t, 30, out.Policy.Duration.Minutes)

	require.Len(t, a.calls, 1)
	assert.Equal(t, "11:22:33:44:55:66", a.calls[0].MAC)
	assert.Equal(t, 1, p.calls)

	require.NoError(t, out.Respond())
	assert.Equal(t, StateResponded, out.State)
}

func TestHandleValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing mac", Request{Duration: intPtr(30)}},
		{"blank mac", Request{ClientMAC: "   "}},
		{"duration not allowed", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(5)}},
		{"negative duration", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(-10)}},
		{"zero data", Request{ClientMAC: "11:22:33:44:55:66", Data: int64Ptr(0)}},
		{"both policies", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(30), Data: int64Ptr(1024)}},
		{"bad expire unit", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(30), ExpireUnit: intPtr(7)}},
		{"bad expire number", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(30), ExpireNumber: intPtr(0)}},
		{"expiry longer than duration", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(30), ExpireNumber: intPtr(1), ExpireUnit: intPtr(unifi.ExpireUnitDay)}},
		{"expiry not a whole unit", Request{ClientMAC: "11:22:33:44:55:66", Duration: intPtr(30), ExpireUnit: intPtr(unifi.ExpireUnitHour)}},
		{"data with expire unit", Request{ClientMAC: "11:22:33:44:55:66", Data: int64Ptr(1024), ExpireUnit: intPtr(unifi.ExpireUnitDay)}},
		{"data with expire number", Request{ClientMAC: "11:22:33:44:55:66", Data: int64Ptr(1024), ExpireNumber: intPtr(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAuthorizer{}
			p := &fakeProber{ok: true}
			out := newTestOrchestrator(t, a, p).Handle(context.Background(), tt.req)

			assert.Equal(t, StateDenied, out.State)
			assert.False(t, out.Success)
			assert.Equal(t, KindValidation, out.Kind)
			assert.NotEmpty(t, out.Reason)
			assert.Nil(t, out.InternetAccess)
			assert.Empty(t, a.calls)
			assert.Zero(t, p.calls)
		})
	}
}

func TestHandleAllowedDurations(t *testing.T) {
	for _, minutes := range AllowedDurations {
		a := &fakeAuthorizer{}
		out := newTestOrchestrator(t, a, nil).Handle(context.Background(), Request{
			ClientMAC: "11:22:33:44:55:66",
			Duration:  intPtr(minutes),
		})
		assert.True(t, out.Success, "duration %d", minutes)
	}
}

func TestHandleDefaultsToTenMinutes(t *testing.T) {
	a := &fakeAuthorizer{}
	out := newTestOrchestrator(t, a, nil).Handle(context.Background(), Request{ClientMAC: "11:22:33:44:55:66"})

	require.True(t, out.Success)
	require.NotNil(t, a.calls[0].Policy.Duration)
	assert.Equal(t, DefaultDuration, a.calls[0].Policy.Duration.Minutes)
}

func TestHandleDataPolicy(t *testing.T) {
	a := &fakeAuthorizer{}
	out := newTestOrchestrator(t, a, nil).Handle(context.Background(), Request{
		ClientMAC: "11:22:33:44:55:66",
		Data:      int64Ptr(1 << 30),
	})

	require.True(t, out.Success)
	assert.Nil(t, a.calls[0].Policy.Duration)
	require.NotNil(t, a.calls[0].Policy.Data)
	assert.Equal(t, int64(1<<30), a.calls[0].Policy.Data.Bytes)
}

func TestHandleExpiryPassthrough(t *testing.T) {
	a := &fakeAuthorizer{}
	newTestOrchestrator(t, a, nil).Handle(context.Background(), Request{
		ClientMAC:    "11:22:33:44:55:66",
		Duration:     intPtr(1440),
		ExpireNumber: intPtr(1),
		ExpireUnit:   intPtr(unifi.ExpireUnitDay),
	})

	require.Len(t, a.calls, 1)
	d := a.calls[0].Policy.Duration
	assert.Equal(t, 1, d.ExpireNumber)
	assert.Equal(t, unifi.ExpireUnitDay, d.ExpireUnit)
}

func TestHandleExpiryUnitOnly(t *testing.T) {
	a := &fakeAuthorizer{}
	out := newTestOrchestrator(t, a, nil).Handle(context.Background(), Request{
		ClientMAC:  "11:22:33:44:55:66",
		Duration:   intPtr(720),
		ExpireUnit: intPtr(unifi.ExpireUnitHour),
	})

	require.True(t, out.Success)
	number, unit, err := a.calls[0].Policy.Duration.Expiry()
	require.NoError(t, err)
	assert.Equal(t, 12, number)
	assert.Equal(t, unifi.ExpireUnitHour, unit)
}

func TestHandleDenied(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"login", &unifi.Error{Kind: unifi.KindAuthentication, Op: "login"}, KindAuthentication},
		{"voucher", &unifi.Error{Kind: unifi.KindGrantIssuance, Op: "create-voucher"}, KindGrantIssuance},
		{"binding", &unifi.Error{Kind: unifi.KindBinding, Op: "cmd/hotspot"}, KindBinding},
		{"wrapped", errors.Join(errors.New("ctx"), &unifi.Error{Kind: unifi.KindBinding}), KindBinding},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProber{ok: true}
			out := newTestOrchestrator(t, &fakeAuthorizer{err: tt.err}, p).Handle(context.Background(), Request{
				ClientMAC: "11:22:33:44:55:66",
			})

			assert.Equal(t, StateDenied, out.State)
			assert.False(t, out.Success)
			assert.Equal(t, tt.kind, out.Kind)
			assert.NotEmpty(t, out.Reason)
			assert.ErrorIs(t, out.Err, tt.err)
			assert.Zero(t, p.calls)
		})
	}
}

func TestHandleProbeFailureKeepsSuccess(t *testing.T) {
	out := newTestOrchestrator(t, &fakeAuthorizer{}, &fakeProber{ok: false}).Handle(context.Background(), Request{
		ClientMAC: "11:22:33:44:55:66",
		Duration:  intPtr(30),
	})

	assert.Equal(t, StateAuthorized, out.State)
	assert.True(t, out.Success)
	require.NotNil(t, out.InternetAccess)
	assert.False(t, *out.InternetAccess)
}

func TestHandleIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeAuthorizer{ctxOK: func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	}}
	out := newTestOrchestrator(t, a, nil).Handle(ctx, Request{ClientMAC: "11:22:33:44:55:66"})
	assert.True(t, out.Success)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateAuthorizing))
	assert.True(t, CanTransition(StateReceived, StateDenied))
	assert.True(t, CanTransition(StateAuthorizing, StateAuthorized))
	assert.True(t, CanTransition(StateAuthorizing, StateDenied))
	assert.True(t, CanTransition(StateAuthorized, StateResponded))
	assert.True(t, CanTransition(StateDenied, StateResponded))

	assert.False(t, CanTransition(StateReceived, StateAuthorized))
	assert.False(t, CanTransition(StateDenied, StateAuthorized))
	assert.False(t, CanTransition(StateResponded, StateResponded))

	out := &Outcome{State: StateReceived}
	var terr *TransitionError
	require.ErrorAs(t, out.Respond(), &terr)
	assert.Equal(t, StateReceived, terr.From)
	assert.False(t, StateReceived.Terminal())
	assert.True(t, StateDenied.Terminal())
}

func TestOutcomeSummary(t *testing.T) {
	out := newTestOrchestrator(t, &fakeAuthorizer{}, &fakeProber{ok: true}).Handle(context.Background(), Request{
		ClientMAC: "11:22:33:44:55:66",
		Duration:  intPtr(60),
	})

	s := out.Summary()
	assert.True(t, s.Success)
	assert.Equal(t, StateAuthorized, s.State)
	require.NotNil(t, s.Duration)
	assert.Equal(t, 60, *s.Duration)
	assert.Nil(t, s.Data)
	assert.Empty(t, s.Message)

	denied := newTestOrchestrator(t, &fakeAuthorizer{}, nil).Handle(context.Background(), Request{}).Summary()
	assert.False(t, denied.Success)
	assert.Equal(t, KindValidation, denied.Kind)
	assert.Equal(t, "Client MAC address is required", denied.Message)
	assert.Nil(t, denied.Duration)
}

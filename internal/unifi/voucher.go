package unifi

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultNoteTag marks vouchers minted by this gateway.
const DefaultNoteTag = "Hotspot Auth"

// Expiry units understood by create-voucher.
const (
	ExpireUnitMinute = 1
	ExpireUnitHour   = 60
	ExpireUnitDay    = 1440
)

// Data vouchers are limited by bytes, so time is set to a long window.
const (
	dataVoucherExpireNumber = 30
	dataVoucherExpireUnit   = ExpireUnitDay
	dataVoucherExpire       = dataVoucherExpireNumber * dataVoucherExpireUnit
)

// Voucher is a hotspot voucher as listed by stat/voucher.
type Voucher struct {
	ID         string `json:"_id"`
	Code       string `json:"code"`
	Duration   int    `json:"duration"`                  // minutes, 0 if absent
	UsageQuota int64  `json:"qos_usage_quota,omitempty"` // bytes, 0 if absent
	CreateTime int64  `json:"create_time"`
	Note       string `json:"note"`
	Quota      int    `json:"quota"`
	Used       int    `json:"used"`
	ForHotspot bool   `json:"for_hotspot"`
	Status     string `json:"status,omitempty"`
}

type createVoucherRequest struct {
	Cmd          string `json:"cmd"`
	Expire       int    `json:"expire"`
	ExpireNumber int    `json:"expire_number"`
	ExpireUnit   int    `json:"expire_unit"`
	N            int    `json:"n"`
	Quota        int    `json:"quota"`
	Note         string `json:"note"`
	Up           *int   `json:"up"`
	Down         *int   `json:"down"`
	Bytes        *int64 `json:"bytes"`
	ForHotspot   bool   `json:"for_hotspot"`
}

// ListVouchers returns every voucher currently on the site.
func (c *Client) ListVouchers(ctx context.Context, session *Session) ([]Voucher, error) {
	const op = "stat/voucher"

	resp, err := c.sendLimited(ctx, http.MethodGet, c.sitePath(op), session, nil, c.maxListing)
	if err != nil {
		c.logger.Error("failed to list vouchers", zap.Error(err))
		return nil, &Error{Kind: KindGrantIssuance, Op: op, Err: err}
	}
	if !resp.ok() {
		c.logger.Error("voucher listing rejected",
			zap.Int("status", resp.status),
			zap.ByteString("payload", resp.raw),
		)
		return nil, resp.failure(KindGrantIssuance, op)
	}

	var vouchers []Voucher
	if len(resp.env.Data) > 0 && string(resp.env.Data) != "null" {
		if err := json.Unmarshal(resp.env.Data, &vouchers); err != nil {
			return nil, &Error{
				Kind:    KindGrantIssuance,
				Op:      op,
				Status:  resp.status,
				Message: "failed to decode vouchers: " + err.Error(),
				Payload: resp.raw,
			}
		}
	}

	c.logger.Debug("vouchers retrieved", zap.Int("count", len(vouchers)))
	return vouchers, nil
}

// GrantIssuer mints single-use hotspot vouchers.
//
// The create-voucher acknowledgment does not echo the generated code, so each
// issuance tags its voucher with a unique note and reads it back from the
// voucher listing.
type GrantIssuer struct {
	client   *Client
	tag      string
	newToken func() string
	logger   *zap.Logger
}

// NewGrantIssuer creates a new grant issuer. An empty tag means DefaultNoteTag.
func NewGrantIssuer(client *Client, tag string, logger *zap.Logger) *GrantIssuer {
	if tag == "" {
		tag = DefaultNoteTag
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GrantIssuer{
		client:   client,
		tag:      tag,
		newToken: uuid.NewString,
		logger:   logger,
	}
}

// Tag returns the provenance tag prefixed to every voucher note.
func (g *GrantIssuer) Tag() string {
	return g.tag
}

// IssueDurationGrant creates a time-limited voucher. Zero expireNumber or
// expireUnit default to the duration counted in minutes; a given pair must
// multiply out to minutes.
func (g *GrantIssuer) IssueDurationGrant(ctx context.Context, session *Session, minutes, expireNumber, expireUnit int) (*Voucher, error) {
	if minutes <= 0 {
		return nil, &Error{Kind: KindGrantIssuance, Op: "create-voucher", Message: "duration must be positive"}
	}
	expireNumber, expireUnit, err := DurationPolicy{
		Minutes:      minutes,
		ExpireNumber: expireNumber,
		ExpireUnit:   expireUnit,
	}.Expiry()
	if err != nil {
		return nil, &Error{Kind: KindGrantIssuance, Op: "create-voucher", Message: err.Error()}
	}

	return g.issue(ctx, session, createVoucherRequest{
		Expire:       minutes,
		ExpireNumber: expireNumber,
		ExpireUnit:   expireUnit,
	})
}

// IssueDataGrant creates a byte-quota voucher with a long validity window.
func (g *GrantIssuer) IssueDataGrant(ctx context.Context, session *Session, bytes int64) (*Voucher, error) {
	if bytes <= 0 {
		return nil, &Error{Kind: KindGrantIssuance, Op: "create-voucher", Message: "data quota must be positive"}
	}

	return g.issue(ctx, session, createVoucherRequest{
		Expire:       dataVoucherExpire,
		ExpireNumber: dataVoucherExpireNumber,
		ExpireUnit:   dataVoucherExpireUnit,
		Bytes:        &bytes,
	})
}

func (g *GrantIssuer) issue(ctx context.Context, session *Session, req createVoucherRequest) (*Voucher, error) {
	const op = "create-voucher"

	note := g.tag + " " + g.newToken()
	req.Cmd = op
	req.N = 1
	req.Quota = 1
	req.Note = note
	req.ForHotspot = true

	resp, err := g.client.send(ctx, http.MethodPost, g.client.sitePath("cmd/hotspot"), session, req)
	if err != nil {
		g.logger.Error("failed to create voucher", zap.String("note", note), zap.Error(err))
		return nil, &Error{Kind: KindGrantIssuance, Op: op, Err: err}
	}

	g.logger.Debug("voucher creation response",
		zap.Int("status", resp.status),
		zap.ByteString("payload", resp.raw),
	)

	if !resp.ok() {
		g.logger.Error("voucher creation rejected",
			zap.String("note", note),
			zap.Int("status", resp.status),
			zap.ByteString("payload", resp.raw),
		)
		return nil, resp.failure(KindGrantIssuance, op)
	}

	vouchers, err := g.client.ListVouchers(ctx, session)
	if err != nil {
		return nil, err
	}

	voucher := latestWithNote(vouchers, note)
	if voucher == nil {
		g.logger.Error("created voucher not found in listing",
			zap.String("note", note),
			zap.Int("listed", len(vouchers)),
		)
		return nil, &Error{
			Kind:    KindGrantIssuance,
			Op:      "stat/voucher",
			Message: fmt.Sprintf("no voucher with note %q", note),
		}
	}

	g.logger.Info("voucher issued",
		zap.String("voucher_id", voucher.ID),
		zap.Int("duration", voucher.Duration),
		zap.Int64("usage_quota", voucher.UsageQuota),
		zap.String("note", note),
	)

	return voucher, nil
}

// latestWithNote picks the most recently created voucher carrying note.
func latestWithNote(vouchers []Voucher, note string) *Voucher {
	var matches []Voucher
	for _, v := range vouchers {
		if v.Note == note {
			matches = append(matches, v)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	slices.SortStableFunc(matches, func(a, b Voucher) int {
		return cmp.Compare(b.CreateTime, a.CreateTime)
	})
	return &matches[0]
}

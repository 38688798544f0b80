// Package gdpr processes data-subject requests: access requests render a
// full export of the subject's rows, delete requests anonymize PII in place
// while keeping the financial audit trail intact.
package gdpr

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/domain/gdpr"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// Processor drains pending data-subject requests.
type Processor struct {
	store storage.Store
	sink  notify.Sink
	out   ExportSink
	clock clock.Clock
	log   *logger.Logger
}

// NewProcessor wires a processor.
func NewProcessor(store storage.Store, sink notify.Sink, out ExportSink, clk clock.Clock, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("gdpr")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if out == nil {
		out = NewMemorySink()
	}
	return &Processor{store: store, sink: sink, out: out, clock: clk, log: log}
}

// Process handles every pending request. A failed request is marked failed
// with the cause recorded for operators; it is never retried automatically.
func (p *Processor) Process(ctx context.Context) error {
	pending, err := p.store.ListGDPRRequests(ctx, gdpr.StatusPending)
	if err != nil {
		return err
	}

	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		var handleErr error
		switch req.Kind {
		case gdpr.KindAccess:
			handleErr = p.access(ctx, req)
		case gdpr.KindDelete:
			handleErr = p.erase(ctx, req)
		default:
			handleErr = fmt.Errorf("unknown request kind %q", req.Kind)
		}

		now := p.clock.Now()
		if handleErr != nil {
			p.log.WithError(handleErr).Errorf("request %d (%s) failed", req.ID, req.Kind)
			if err := p.store.MarkGDPRRequest(ctx, req.ID, gdpr.StatusFailed, now, handleErr.Error()); err != nil {
				p.log.WithError(err).Errorf("mark request %d failed", req.ID)
			}
			continue
		}
		if err := p.store.MarkGDPRRequest(ctx, req.ID, gdpr.StatusCompleted, now, ""); err != nil {
			p.log.WithError(err).Errorf("mark request %d completed", req.ID)
		}
	}
	return nil
}

func (p *Processor) access(ctx context.Context, req gdpr.Request) error {
	doc, err := buildExport(ctx, p.store, req.UserID)
	if err != nil {
		return err
	}
	handle, err := p.out.Put(ctx, req.UserID, doc)
	if err != nil {
		return err
	}

	if p.sink != nil {
		p.sink.Emit(notification.Intent{
			UserID:   req.UserID,
			Kind:     notification.KindGDPRDataReady,
			Priority: notification.PriorityMedium,
			Title:    "Your data export is ready",
			Body:     "The copy of your data you requested is ready for download.",
			Payload:  map[string]string{"handle": handle},
		})
	}
	p.log.Infof("export for user %d stored under handle %s", req.UserID, handle)
	return nil
}

// erase anonymizes rather than deletes: PII fields get stable opaque
// placeholders, logged IPs lose their last octet, ledger notes are rewritten
// and referral links cleared. Amounts and statuses stand for audit.
func (p *Processor) erase(ctx context.Context, req gdpr.Request) error {
	u, err := p.store.GetUser(ctx, req.UserID)
	if err != nil {
		return err
	}

	if err := p.store.AnonymizeUser(ctx, u.ID, placeholders(u.ID)); err != nil {
		return err
	}
	if err := p.store.TruncateLoggedIPs(ctx, u.ID); err != nil {
		return err
	}
	if err := p.store.RewriteNotes(ctx, u.ID, "redacted"); err != nil {
		return err
	}
	if err := p.store.ClearReferralLinks(ctx, u.ID); err != nil {
		return err
	}
	if err := p.store.SuspendUser(ctx, u.ID); err != nil {
		return err
	}
	p.log.Infof("user %d anonymized", u.ID)
	return nil
}

// placeholders derives deterministic opaque values from the user id, so a
// re-run of a delete request writes the same bytes.
func placeholders(userID int64) user.Anonymized {
	tag := opaqueTag(userID)
	return user.Anonymized{
		Username: "deleted_" + tag,
		Email:    tag + "@redacted.invalid",
		FullName: "Deleted User",
	}
}

func opaqueTag(userID int64) string {
	sum := sha3.Sum256([]byte(fmt.Sprintf("erased:%d", userID)))
	return hex.EncodeToString(sum[:8])
}

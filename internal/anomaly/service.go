// Package anomaly scores trust transactions against rule-based risk patterns and tracks each
// finding through a review lifecycle.
//
// Detection is deterministic for a given ledger and configuration. Persisting findings is
// idempotent on (organization, transaction, category): a rerun updates open anomalies in place and
// never reopens one that has been resolved, dismissed or escalated.
package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// SystemActor records detections in anomaly history.
const SystemActor = "system"

// Service detects, persists and transitions anomalies.
type Service struct {
	db   store.DB
	opts Options
	now  func() time.Time
}

// NewService creates an anomaly Service.
func NewService(db store.DB, opts Options) *Service {
	if opts.Weights == nil {
		opts.Weights = DefaultWeights()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{db: db, opts: opts, now: time.Now}
}

// PersistResult counts what a persist pass did.
type PersistResult struct {
	Inserted int
	Updated  int
	Skipped  int // already resolved, dismissed or escalated
}

// Scan runs detection over every transaction in accountID and persists the findings.
func (s *Service) Scan(ctx context.Context, orgID, accountID string) ([]Finding, PersistResult, error) {
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, PersistResult{}, err
	}
	if acct.OrganizationID != orgID {
		return nil, PersistResult{}, &model.NotFoundError{Resource: "trust account", ID: accountID}
	}
	txns, err := s.db.ListTransactions(ctx, store.TransactionFilter{AccountID: accountID})
	if err != nil {
		return nil, PersistResult{}, err
	}
	findings := Detect(txns, s.opts)
	res, err := s.PersistAnomalies(ctx, orgID, findings)
	if err != nil {
		return nil, PersistResult{}, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("account_id", accountID).
		Int("findings", len(findings)).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("anomaly scan complete")
	return findings, res, nil
}

// PersistAnomalies stores findings in one atomic unit. Open anomalies are refreshed with the new
// score, terminal ones are left alone and unseen keys are inserted as detected.
func (s *Service) PersistAnomalies(ctx context.Context, orgID string, findings []Finding) (PersistResult, error) {
	var res PersistResult
	now := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		res = PersistResult{}
		for _, f := range findings {
			score := s.opts.Weights.Score(f.Category, f.Confidence)
			existing, found, err := tx.FindAnomaly(ctx, orgID, f.TransactionID, f.Category)
			if err != nil {
				return err
			}
			switch {
			case found && existing.Status.IsTerminal():
				res.Skipped++
			case found:
				existing.Score = score
				existing.Severity = SeverityFor(score)
				existing.Confidence = f.Confidence
				existing.Details = f.Details
				existing.UpdatedAt = now
				if err := tx.UpdateAnomaly(ctx, existing); err != nil {
					return err
				}
				res.Updated++
			default:
				a := model.FinancialAnomaly{
					ID:             id.New(),
					OrganizationID: orgID,
					TrustAccountID: f.TrustAccountID,
					TransactionID:  f.TransactionID,
					Category:       f.Category,
					Severity:       SeverityFor(score),
					Score:          score,
					Confidence:     f.Confidence,
					Details:        f.Details,
					Status:         model.AnomalyDetected,
					DetectedAt:     now,
					UpdatedAt:      now,
				}
				if err := tx.InsertAnomaly(ctx, a); err != nil {
					return err
				}
				ev := model.AnomalyEvent{ID: id.New(), AnomalyID: a.ID, To: model.AnomalyDetected, Actor: SystemActor, Notes: f.Details, At: now}
				if err := tx.InsertAnomalyEvent(ctx, ev); err != nil {
					return err
				}
				res.Inserted++
			}
		}
		return nil
	})
	return res, err
}

// Transition moves an anomaly to a new status, appending to its history and the audit log in the
// same atomic unit.
func (s *Service) Transition(ctx context.Context, anomalyID string, req TransitionRequest) (model.FinancialAnomaly, error) {
	if !id.Valid(anomalyID) {
		return model.FinancialAnomaly{}, &model.ValidationError{Field: "anomaly_id", Reason: fmt.Sprintf("%q is not a record id", anomalyID)}
	}
	now := s.now().UTC()
	var out model.FinancialAnomaly
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAnomaly(ctx, anomalyID)
		if err != nil {
			return err
		}
		if err := req.validate(a.Status); err != nil {
			return err
		}
		from := a.Status
		a = req.apply(a)
		a.UpdatedAt = now
		if err := tx.UpdateAnomaly(ctx, a); err != nil {
			return err
		}
		ev := model.AnomalyEvent{ID: id.New(), AnomalyID: a.ID, From: from, To: a.Status, Actor: req.Actor, Notes: req.Notes, At: now}
		if err := tx.InsertAnomalyEvent(ctx, ev); err != nil {
			return err
		}
		details := fmt.Sprintf("from=%s to=%s", from, a.Status)
		if a.AssignedTo != "" {
			details += " assigned_to=" + a.AssignedTo
		}
		if err := tx.AppendAudit(ctx, audit.New(now, a.OrganizationID, req.Actor, audit.ActionAnomalyTransition, "anomaly", a.ID, details)); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.FinancialAnomaly{}, err
	}
	return out, nil
}

// List returns persisted anomalies.
func (s *Service) List(ctx context.Context, f store.AnomalyFilter) ([]model.FinancialAnomaly, error) {
	return s.db.ListAnomalies(ctx, f)
}

// History returns an anomaly's events, oldest first.
func (s *Service) History(ctx context.Context, anomalyID string) ([]model.AnomalyEvent, error) {
	if _, err := s.db.GetAnomaly(ctx, anomalyID); err != nil {
		return nil, err
	}
	return s.db.ListAnomalyEvents(ctx, anomalyID)
}

package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// Ingester parses uploaded statements and stores them for later reconciliation.
type Ingester struct {
	db       store.DB
	registry *Registry
	now      func() time.Time
}

// NewIngester creates an Ingester using the default parsers.
func NewIngester(db store.DB) *Ingester {
	return &Ingester{db: db, registry: DefaultRegistry(), now: time.Now}
}

// Ingest parses raw and, if it yields transactions, stores it with an ingested audit entry in one
// atomic unit. Statements that fail to parse are not stored.
func (in *Ingester) Ingest(ctx context.Context, trustAccountID string, raw *RawStatement, actor string) (model.StoredStatement, *model.ParsedStatement, error) {
	format := raw.Format
	if format == "" {
		format = FormatFromName(raw.FileName)
	}
	parsed, err := in.registry.Parse(raw.Raw, format)
	if err != nil {
		return model.StoredStatement{}, nil, err
	}

	st := model.StoredStatement{
		ID:             id.New(),
		TrustAccountID: trustAccountID,
		Format:         parsed.Format,
		FileName:       raw.FileName,
		Raw:            raw.Raw,
		PeriodStart:    parsed.PeriodStart,
		PeriodEnd:      parsed.PeriodEnd,
		IngestedAt:     in.now().UTC(),
	}
	err = in.db.WithTx(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, trustAccountID)
		if err != nil {
			return err
		}
		if err := tx.SaveStatement(ctx, st); err != nil {
			return err
		}
		details := fmt.Sprintf("file=%s format=%s rows=%d skipped=%d", raw.FileName, parsed.Format, len(parsed.Transactions), parsed.SkippedRows)
		return tx.AppendAudit(ctx, audit.New(st.IngestedAt, acct.OrganizationID, actor, audit.ActionStatementIngested, "statement", st.ID, details))
	})
	if err != nil {
		return model.StoredStatement{}, nil, err
	}
	return st, parsed, nil
}

package anomaly

import (
	"fmt"
	"strings"

	"github.com/cleared-dev/trustrecon/internal/model"
)

var transitions = map[model.AnomalyStatus][]model.AnomalyStatus{
	model.AnomalyDetected: {model.AnomalyFlagged, model.AnomalyResolved, model.AnomalyDismissed, model.AnomalyEscalated},
	model.AnomalyFlagged:  {model.AnomalyFlagged, model.AnomalyResolved, model.AnomalyDismissed, model.AnomalyEscalated},
}

// CanTransition reports whether an anomaly may move from one status to another.
// Resolved, dismissed and escalated are final.
func CanTransition(from, to model.AnomalyStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRequest describes a status change.
type TransitionRequest struct {
	To         model.AnomalyStatus
	Actor      string
	AssignedTo string // flagged only
	Notes      string // required for resolved and escalated
}

func (r TransitionRequest) validate(from model.AnomalyStatus) error {
	if strings.TrimSpace(r.Actor) == "" {
		return &model.ValidationError{Field: "actor", Reason: "required"}
	}
	if from.IsTerminal() {
		return &model.ValidationError{Field: "status", Reason: fmt.Sprintf("anomaly is already %s", from)}
	}
	if !CanTransition(from, r.To) {
		return &model.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot move from %s to %s", from, r.To)}
	}
	if (r.To == model.AnomalyResolved || r.To == model.AnomalyEscalated) && strings.TrimSpace(r.Notes) == "" {
		return &model.ValidationError{Field: "notes", Reason: fmt.Sprintf("required when %s", r.To)}
	}
	return nil
}

// apply returns a with the request's status and bookkeeping fields set.
func (r TransitionRequest) apply(a model.FinancialAnomaly) model.FinancialAnomaly {
	a.Status = r.To
	switch r.To {
	case model.AnomalyFlagged:
		if r.AssignedTo != "" {
			a.AssignedTo = r.AssignedTo
		}
	case model.AnomalyResolved, model.AnomalyDismissed, model.AnomalyEscalated:
		a.ResolutionNotes = r.Notes
		a.ResolvedBy = r.Actor
	}
	return a
}

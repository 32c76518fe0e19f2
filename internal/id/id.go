package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random record ID.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a well-formed record ID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// InterestReference returns the ledger reference for an interest apportionment posting,
// e.g. "INT-20240101-20240131-CLIENT7".
func InterestReference(start, end time.Time, clientID string) string {
	return fmt.Sprintf("INT-%s-%s-%s", start.Format("20060102"), end.Format("20060102"), strings.ToUpper(clientID))
}

// InterestPrefix returns the reference prefix shared by all postings of one interest period.
func InterestPrefix(start, end time.Time) string {
	return fmt.Sprintf("INT-%s-%s-", start.Format("20060102"), end.Format("20060102"))
}

// LeaseHolder returns a holder token for a run lease: host-scoped and unique per run.
func LeaseHolder(host string) string {
	return host + "/" + New()
}

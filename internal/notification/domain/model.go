// Package domain defines the notification ingestion surface: one entry point
// per signed server notification and the outcome vocabulary the pipeline
// reports.
package domain

import (
	"context"
	"errors"
)

// Outcome is the terminal state of one notification. Every outcome except a
// hard error is acknowledged to the store with a 2xx so it stops retrying.
type Outcome string

const (
	// OutcomeApplied means ledger state changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDeduplicated means the notificationUUID was already recorded.
	OutcomeDeduplicated Outcome = "deduplicated"
	// OutcomeIgnored covers informational and unknown notification types.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeMismatched means the payload was signed for the other
	// deployment environment.
	OutcomeMismatched Outcome = "mismatched"
	// OutcomeUnowned means the transaction could not be attached to any
	// local account or ledger row.
	OutcomeUnowned Outcome = "unowned"
)

var (
	ErrOwnerNotFound = errors.New("owner_not_found")
	ErrMissingUUID   = errors.New("notification_uuid_missing")
)

// Service ingests signed server notifications.
type Service interface {
	Ingest(ctx context.Context, signedPayload string) (Outcome, error)
}

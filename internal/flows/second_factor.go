package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/courierAuth/account"
)

// SecondFactorFailureKind classifies pending-ticket confirmation failures.
type SecondFactorFailureKind int

const (
	SecondFactorFailureNone SecondFactorFailureKind = iota
	SecondFactorFailureTicketInvalid
	SecondFactorFailureTicketExpired
	SecondFactorFailureTicketMissing
	SecondFactorFailurePrincipal
	SecondFactorFailureProofStale
	SecondFactorFailureMalformed
	SecondFactorFailureFactor
	SecondFactorFailureAttemptsExceeded
	SecondFactorFailureReplay
	SecondFactorFailureBackend
)

// TicketClaims is the client-held half of a pending second-factor ticket.
type TicketClaims struct {
	TicketID    string `json:"tid"`
	PrincipalID string `json:"pid"`
	Role        string `json:"role"`
	Remember    bool   `json:"rem"`
	Proof       string `json:"prf"`
	ExpiresAt   int64  `json:"exp"`
}

// TicketRecords is the server-side half of the ticket.
type TicketRecords interface {
	Exists(ctx context.Context, ticketID string) error
	Consume(ctx context.Context, ticketID string) (bool, error)
	RecordFailure(ctx context.Context, ticketID string, maxAttempts int) (bool, error)
}

// SecondFactorResult carries the confirmed principal or failure metadata.
type SecondFactorResult struct {
	Failure   SecondFactorFailureKind
	Err       error
	Claims    *TicketClaims
	Principal *account.Principal
}

// SecondFactorDeps captures ticket confirmation dependencies.
//
// Verify checks the submitted code against the principal and may persist a
// mutation (backup-code consumption); it returns the principal as stored after
// that mutation.
//
// Role, when set, is the role the ticket was presented for. A ticket of another
// role is rejected untouched, so it stays usable on its own route.
type SecondFactorDeps struct {
	Role          string
	Now           func() time.Time
	OpenTicket    func(string) (*TicketClaims, error)
	Records       TicketRecords
	MaxAttempts   int
	LoadPrincipal func(ctx context.Context, role, principalID string) (*account.Principal, error)
	ProofMatches  func(p *account.Principal, proof string) bool
	Verify        func(ctx context.Context, p *account.Principal, code string) (*account.Principal, error)
	IsMalformed   func(error) bool
	IsBackend     func(error) bool
}

// RunSecondFactor advances a pending ticket to an established principal.
//
// The order is fixed: ticket integrity and expiry, server record, credential
// proof, factor check, then the single-winner record delete. Factor failures
// count against the ticket; malformed input does not.
func RunSecondFactor(ctx context.Context, ticket, code string, deps SecondFactorDeps) SecondFactorResult {
	claims, err := deps.OpenTicket(ticket)
	if err != nil {
		return SecondFactorResult{Failure: SecondFactorFailureTicketInvalid, Err: err}
	}
	res := SecondFactorResult{Claims: claims}

	if deps.Role != "" && claims.Role != deps.Role {
		res.Failure = SecondFactorFailureTicketInvalid
		return res
	}

	if deps.Now().Unix() >= claims.ExpiresAt {
		res.Failure = SecondFactorFailureTicketExpired
		_, _ = deps.Records.Consume(ctx, claims.TicketID)
		return res
	}

	if err := deps.Records.Exists(ctx, claims.TicketID); err != nil {
		res.Err = err
		res.Failure = SecondFactorFailureTicketMissing
		if deps.IsBackend != nil && deps.IsBackend(err) {
			res.Failure = SecondFactorFailureBackend
		}
		return res
	}

	p, err := deps.LoadPrincipal(ctx, claims.Role, claims.PrincipalID)
	if err != nil {
		res.Failure = SecondFactorFailurePrincipal
		res.Err = err
		return res
	}
	if !deps.ProofMatches(p, claims.Proof) {
		res.Failure = SecondFactorFailureProofStale
		_, _ = deps.Records.Consume(ctx, claims.TicketID)
		return res
	}

	updated, err := deps.Verify(ctx, p, code)
	if err != nil {
		res.Err = err
		switch {
		case deps.IsMalformed != nil && deps.IsMalformed(err):
			res.Failure = SecondFactorFailureMalformed
		case deps.IsBackend != nil && deps.IsBackend(err):
			res.Failure = SecondFactorFailureBackend
		default:
			res.Failure = SecondFactorFailureFactor
			exceeded, recErr := deps.Records.RecordFailure(ctx, claims.TicketID, deps.MaxAttempts)
			switch {
			case recErr != nil && deps.IsBackend != nil && deps.IsBackend(recErr):
				// The attempt went uncounted; the caller must not retry on this ticket.
				res.Failure = SecondFactorFailureBackend
				res.Err = recErr
			case recErr == nil && exceeded:
				res.Failure = SecondFactorFailureAttemptsExceeded
			}
		}
		return res
	}

	won, err := deps.Records.Consume(ctx, claims.TicketID)
	if err != nil {
		res.Failure = SecondFactorFailureBackend
		res.Err = err
		return res
	}
	if !won {
		res.Failure = SecondFactorFailureReplay
		return res
	}

	res.Principal = updated
	return res
}

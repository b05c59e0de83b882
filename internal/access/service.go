// Package access implements the VPN credential lifecycle: issuing and
// revoking access, second factor validation and the inspection queries.
package access

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adamscao/vpnaccess/internal/auth"
	"github.com/adamscao/vpnaccess/internal/ca"
	"github.com/adamscao/vpnaccess/internal/db/repository"
	"github.com/adamscao/vpnaccess/internal/models"
	"github.com/adamscao/vpnaccess/internal/profile"
	"github.com/adamscao/vpnaccess/internal/status"
)

const profileInstructions = "Download this configuration file and import it into your OpenVPN client"

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

// CredentialStore persists credential records
type CredentialStore interface {
	Get(ctx context.Context, userID int64) (*models.CredentialRecord, error)
	MarkPending(ctx context.Context, userID int64, clientID string, op models.PendingOp) error
	ClearPending(ctx context.Context, userID int64) error
	Activate(ctx context.Context, rec *models.CredentialRecord) error
	MarkRevoked(ctx context.Context, userID int64) error
	ListActive(ctx context.Context) ([]*models.ActiveCredential, error)
}

// ConnectionLedger stores connection events
type ConnectionLedger interface {
	Append(ctx context.Context, userID int64, sourceAddress, eventType string) (*models.ConnectionEvent, error)
	Query(ctx context.Context, userID int64, limit int) ([]*models.ConnectionEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// UserDirectory looks up users
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// Issuer mints and revokes client key material
type Issuer interface {
	MintClient(ctx context.Context, clientID string) error
	RevokeClient(ctx context.Context, clientID string) error
}

// SecondFactor creates and checks one-time code secrets
type SecondFactor interface {
	GenerateSecret(account string) (*auth.Enrollment, error)
	Verify(code, secret string) bool
}

// SecretSealer protects secrets at rest
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Policy decides who may hold access
type Policy interface {
	ValidateIssueRequest(user *models.User) error
}

// Options configures the orchestrator
type Options struct {
	ClientPrefix string
	TemplatePath string
	ServerHost   string
	ServerPort   int
	Protocol     string
	MFAEnabled   bool
}

// Deps are the orchestrator's collaborators
type Deps struct {
	Credentials CredentialStore
	Connections ConnectionLedger
	Users       UserDirectory
	Issuer      Issuer
	MFA         SecondFactor
	Sealer      SecretSealer
	Policy      Policy
	Status      status.Source
	Log         logrus.FieldLogger
}

// IssueResult is returned once by Issue. Enrollment is never available again.
type IssueResult struct {
	UserID       int64            `json:"user_id"`
	ClientID     string           `json:"client_id"`
	Profile      string           `json:"config"`
	MFAEnabled   bool             `json:"mfa_enabled"`
	Enrollment   *auth.Enrollment `json:"mfa_setup,omitempty"`
	Instructions string           `json:"instructions"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// RevokeResult is returned by Revoke
type RevokeResult struct {
	UserID    int64     `json:"user_id"`
	ClientID  string    `json:"client_id"`
	RevokedAt time.Time `json:"revoked_at"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Service coordinates the credential lifecycle
type Service struct {
	opts  Options
	deps  Deps
	log   logrus.FieldLogger
	locks *userLocks
	now   func() time.Time
}

// NewService creates the access orchestrator
func NewService(opts Options, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.ClientPrefix == "" {
		opts.ClientPrefix = "user"
	}

	return &Service{
		opts:  opts,
		deps:  deps,
		log:   log.WithField("component", "access"),
		locks: newUserLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ClientID returns the daemon client identifier for a user
func (s *Service) ClientID(userID int64) string {
	return s.opts.ClientPrefix + strconv.FormatInt(userID, 10)
}

// Issue grants VPN access to a user: it mints key material, creates a
// second factor secret when enabled, renders the client profile and stores
// the record as active.
func (s *Service) Issue(ctx context.Context, userID int64) (*IssueResult, error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Policy.ValidateIssueRequest(user); err != nil {
		return nil, newError(KindForbidden, "user is not eligible for vpn access", err)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	clientID := s.ClientID(userID)
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "client_id": clientID})

	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.State == models.StateActive {
		return nil, newError(KindAlreadyActive, "user already has active vpn access", nil)
	}

	var warnings []string
	if rec != nil && rec.PendingOp == models.PendingIssue {
		log.Warn("previous issue was interrupted, revoking orphaned key material")
		warnings = append(warnings, "a previous issue for this user was interrupted")
		if err := s.deps.Issuer.RevokeClient(ctx, rec.ClientID); err != nil {
			log.WithError(err).Warn("failed to revoke orphaned key material")
			warnings = append(warnings, "orphaned key material from the interrupted issue could not be revoked")
		}
	}

	// Everything that can fail without side effects runs before the issuer.
	config, err := s.renderProfile(clientID)
	if err != nil {
		return nil, err
	}

	var enrollment *auth.Enrollment
	var sealed string
	if s.opts.MFAEnabled {
		enrollment, sealed, err = s.newSecondFactor(user, clientID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.deps.Credentials.MarkPending(ctx, userID, clientID, models.PendingIssue); err != nil {
		return nil, newError(KindPersistenceError, "failed to record pending issue", err)
	}

	if err := s.deps.Issuer.MintClient(ctx, clientID); err != nil {
		s.settleFailedCall(ctx, log, userID, err)
		return nil, gatewayError("failed to generate vpn key material", err)
	}

	persistCtx := context.WithoutCancel(ctx)
	newRec := &models.CredentialRecord{
		UserID:          userID,
		ClientID:        clientID,
		MFASecret:       sealed,
		RenderedProfile: config,
	}
	if err := s.deps.Credentials.Activate(persistCtx, newRec); err != nil {
		if errors.Is(err, repository.ErrAlreadyActive) {
			log.Warn("credential was activated concurrently by another writer")
			return nil, newError(KindAlreadyActive, "user already has active vpn access", err)
		}
		log.WithError(err).Error("key material minted but record not stored")
		return nil, newError(KindPersistenceError, "failed to store vpn access", err)
	}

	log.WithField("mfa", s.opts.MFAEnabled).Info("vpn access issued")

	return &IssueResult{
		UserID:       userID,
		ClientID:     clientID,
		Profile:      config,
		MFAEnabled:   s.opts.MFAEnabled,
		Enrollment:   enrollment,
		Instructions: profileInstructions,
		Warnings:     warnings,
	}, nil
}

// Revoke withdraws a user's active access. A failed issuer call leaves the
// record active.
func (s *Service) Revoke(ctx context.Context, userID int64) (*RevokeResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.State != models.StateActive {
		return nil, newError(KindNoActiveAccess, "no active vpn access found for user", nil)
	}

	log := s.log.WithFields(logrus.Fields{"user_id": userID, "client_id": rec.ClientID})

	var warnings []string
	if rec.PendingOp == models.PendingRevoke {
		log.Warn("previous revoke was interrupted, retrying")
		warnings = append(warnings, "a previous revoke for this user was interrupted and has been retried")
	}

	if err := s.deps.Credentials.MarkPending(ctx, userID, rec.ClientID, models.PendingRevoke); err != nil {
		return nil, newError(KindPersistenceError, "failed to record pending revoke", err)
	}

	if err := s.deps.Issuer.RevokeClient(ctx, rec.ClientID); err != nil {
		s.settleFailedCall(ctx, log, userID, err)
		return nil, gatewayError("failed to revoke vpn key material", err)
	}

	if err := s.deps.Credentials.MarkRevoked(context.WithoutCancel(ctx), userID); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, newError(KindNoActiveAccess, "no active vpn access found for user", err)
		}
		log.WithError(err).Error("key material revoked but record not updated")
		return nil, newError(KindPersistenceError, "failed to store revocation", err)
	}

	log.Info("vpn access revoked")

	return &RevokeResult{
		UserID:    userID,
		ClientID:  rec.ClientID,
		RevokedAt: s.now(),
		Warnings:  warnings,
	}, nil
}

// ValidateSecondFactor checks a one-time code for a user with active access
// and records the successful validation in the connection ledger.
func (s *Service) ValidateSecondFactor(ctx context.Context, userID int64, code, sourceAddress string) (*models.ConnectionEvent, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newError(KindInvalidInput, "mfa token is required", nil)
	}

	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError(KindNotFound, "user not found or mfa not configured", nil)
	}
	if rec.State != models.StateActive {
		return nil, newError(KindNoActiveAccess, "no active vpn access found for user", nil)
	}
	if !rec.HasMFA() {
		return nil, newError(KindNotFound, "user not found or mfa not configured", nil)
	}

	secret, err := s.deps.Sealer.Open(rec.MFASecret)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("failed to open stored mfa secret")
		return nil, newError(KindInternal, "failed to read mfa configuration", err)
	}

	if !s.deps.MFA.Verify(code, secret) {
		s.log.WithFields(logrus.Fields{"user_id": userID, "source": sourceAddress}).Warn("invalid mfa token")
		return nil, newError(KindInvalidCode, "invalid mfa token", nil)
	}

	event, err := s.deps.Connections.Append(ctx, userID, sourceAddress, models.EventMFAValidation)
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to record mfa validation", err)
	}

	return event, nil
}

// ListActive returns users with active access. Secrets and profiles are not
// part of the result.
func (s *Service) ListActive(ctx context.Context) ([]*models.ActiveCredential, error) {
	active, err := s.deps.Credentials.ListActive(ctx)
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to retrieve vpn users", err)
	}
	return active, nil
}

// History returns a user's most recent connection events, newest first
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*models.ConnectionEvent, error) {
	events, err := s.deps.Connections.Query(ctx, userID, repository.ClampLimit(limit))
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to retrieve connection history", err)
	}
	return events, nil
}

// Status returns the daemon's current status snapshot
func (s *Service) Status(ctx context.Context) *status.Snapshot {
	if s.deps.Status == nil {
		return status.Empty()
	}
	return s.deps.Status.Snapshot(ctx)
}

// UnknownClients returns the connected clients whose common name does not
// belong to any active credential, e.g. a tunnel that survived a revoke.
func (s *Service) UnknownClients(ctx context.Context) ([]status.Client, error) {
	snap := s.Status(ctx)
	if len(snap.Clients) == 0 {
		return nil, nil
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(active))
	for _, a := range active {
		known[a.ClientID] = struct{}{}
	}

	var unknown []status.Client
	for _, cl := range snap.Clients {
		if _, ok := known[cl.CommonName]; !ok {
			unknown = append(unknown, cl)
		}
	}
	return unknown, nil
}

// RecordConnection appends a connect or disconnect event reported by the
// tunnel daemon
func (s *Service) RecordConnection(ctx context.Context, userID int64, sourceAddress, eventType string) (*models.ConnectionEvent, error) {
	if !eventTypePattern.MatchString(eventType) {
		return nil, newError(KindInvalidInput, "invalid event type", nil)
	}

	if _, err := s.lookupUser(ctx, userID); err != nil {
		return nil, err
	}

	event, err := s.deps.Connections.Append(ctx, userID, sourceAddress, eventType)
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to record connection event", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"source":  sourceAddress,
		"event":   eventType,
	}).Debug("connection event recorded")

	return event, nil
}

// PruneHistory deletes connection events older than the retention window
func (s *Service) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.deps.Connections.Prune(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, newError(KindPersistenceError, "failed to prune connection history", err)
	}
	return n, nil
}

func (s *Service) lookupUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, "user not found", err)
	}
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to look up user", err)
	}
	return user, nil
}

// getRecord returns nil without error when the user has no record
func (s *Service) getRecord(ctx context.Context, userID int64) (*models.CredentialRecord, error) {
	rec, err := s.deps.Credentials.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindPersistenceError, "failed to read vpn access record", err)
	}
	return rec, nil
}

func (s *Service) renderProfile(clientID string) (string, error) {
	tmpl, err := profile.LoadTemplate(s.opts.TemplatePath)
	if err != nil {
		return "", newError(KindTemplateError, "failed to load client profile template", err)
	}

	config, err := profile.Render(tmpl, profile.Params{
		ClientName: clientID,
		ServerHost: s.opts.ServerHost,
		ServerPort: s.opts.ServerPort,
		Protocol:   s.opts.Protocol,
	})
	if err != nil {
		return "", newError(KindTemplateError, "failed to render client profile", err)
	}

	return config, nil
}

func (s *Service) newSecondFactor(user *models.User, clientID string) (*auth.Enrollment, string, error) {
	account := user.Email
	if account == "" {
		account = clientID
	}

	enrollment, err := s.deps.MFA.GenerateSecret(account)
	if err != nil {
		return nil, "", newError(KindInternal, "failed to create mfa secret", err)
	}

	qr, err := auth.EnrollmentQR(enrollment.URI)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("failed to render mfa qr code")
	} else {
		enrollment.QRCode = qr
	}

	sealed, err := s.deps.Sealer.Seal(enrollment.Secret)
	if err != nil {
		return nil, "", newError(KindInternal, "failed to protect mfa secret", err)
	}

	return enrollment, sealed, nil
}

// settleFailedCall clears the pending marker after a definite issuer failure.
// After a timeout or cancellation the script may still have acted, so the
// marker stays and the next call for the user reconciles it.
func (s *Service) settleFailedCall(ctx context.Context, log logrus.FieldLogger, userID int64, callErr error) {
	if indeterminate(callErr) {
		log.WithError(callErr).Warn("issuer call interrupted, keeping pending marker")
		return
	}
	if err := s.deps.Credentials.ClearPending(context.WithoutCancel(ctx), userID); err != nil {
		log.WithError(err).Warn("failed to clear pending marker")
	}
}

// indeterminate reports whether a failed issuer call may still have taken
// effect
func indeterminate(err error) bool {
	var gwErr *ca.GatewayError
	if errors.As(err, &gwErr) && gwErr.Indeterminate() {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func gatewayError(message string, err error) *Error {
	var gwErr *ca.GatewayError
	switch {
	case errors.As(err, &gwErr) && gwErr.Timeout, errors.Is(err, context.DeadlineExceeded):
		return newError(KindIssuerGatewayTimeout, message+": issuer timed out", err)
	case indeterminate(err):
		return newError(KindIssuerGatewayError, message+": request cancelled before the issuer finished", err)
	}
	return newError(KindIssuerGatewayError, message, err)
}

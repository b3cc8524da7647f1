package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/logging"
	"github.com/chapelhq/chapel/internal/metrics"
	"github.com/chapelhq/chapel/internal/provider"
	"github.com/chapelhq/chapel/internal/traces"
)

// Orchestrator runs the full meeting lifecycle for a class: entitlement
// gate, token load, proactive refresh, provider call with a single
// refresh-and-retry on authentication failure, and persistence of the
// resulting join link.
//
// Each call is synchronous and self-contained; concurrent calls for
// different tenants share nothing but the stores.
type Orchestrator struct {
	resolver *entitlement.Resolver
	registry *provider.Registry
	tokens   TokenStore
	classes  ClassStore
	now      func() time.Time
}

// NewOrchestrator creates a meeting orchestrator.
func NewOrchestrator(resolver *entitlement.Resolver, registry *provider.Registry, tokens TokenStore, classes ClassStore) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		registry: registry,
		tokens:   tokens,
		classes:  classes,
		now:      time.Now,
	}
}

// CreateClassMeeting creates a meeting on the requested platform and
// persists the join link on the class record.
func (o *Orchestrator) CreateClassMeeting(ctx context.Context, req provider.Request) Outcome {
	ctx, span := traces.StartSpan(ctx, "meeting.create",
		traces.TenantID(req.TenantID), traces.ClassID(req.ClassID),
		traces.PlatformName(string(req.Platform)), traces.Operation("create"))
	defer span.End()

	adapter, tok, failure := o.gate(ctx, req)
	if failure != nil {
		return Outcome{Failure: failure}
	}
	if failure := o.proactiveRefresh(ctx, adapter, tok); failure != nil {
		return Outcome{Failure: failure}
	}

	var res *provider.Result
	err := o.withAuthRetry(ctx, adapter, tok, func(accessToken string) error {
		var cerr error
		res, cerr = adapter.CreateMeeting(ctx, req, accessToken)
		return cerr
	})
	if err != nil {
		return Outcome{Failure: classify(err)}
	}

	if failure := o.persistResult(ctx, req, res, req.CalendarID); failure != nil {
		return Outcome{Failure: failure}
	}
	return success(res.JoinURL)
}

// UpdateClassMeeting updates the existing meeting in place. When the
// platform cannot convert the stored meeting to the requested shape
// (one-time vs recurring), the old meeting is deleted and a new one
// created; the changed join link is reported as a Warning, not a failure.
// A class with no stored meeting falls back to creation.
func (o *Orchestrator) UpdateClassMeeting(ctx context.Context, req provider.Request) Outcome {
	ctx, span := traces.StartSpan(ctx, "meeting.update",
		traces.TenantID(req.TenantID), traces.ClassID(req.ClassID),
		traces.PlatformName(string(req.Platform)), traces.Operation("update"))
	defer span.End()

	existing, err := o.classes.GetClassMeeting(ctx, req.ClassID)
	if errors.Is(err, ErrClassNotFound) {
		return o.CreateClassMeeting(ctx, req)
	}
	if err != nil {
		return fail(FailureConfiguration, fmt.Sprintf("load class meeting: %v", err))
	}
	if existing.MeetingID == "" || existing.Platform != req.Platform {
		// No updatable provider resource; start over on the requested platform.
		return o.CreateClassMeeting(ctx, req)
	}

	adapter, tok, failure := o.gate(ctx, req)
	if failure != nil {
		return Outcome{Failure: failure}
	}
	if failure := o.proactiveRefresh(ctx, adapter, tok); failure != nil {
		return Outcome{Failure: failure}
	}

	var res *provider.Result
	err = o.withAuthRetry(ctx, adapter, tok, func(accessToken string) error {
		var uerr error
		res, uerr = adapter.UpdateMeeting(ctx, req, existing.Ref(), accessToken)
		return uerr
	})
	if errors.Is(err, provider.ErrShapeChanged) {
		return o.recreate(ctx, adapter, tok, req, existing)
	}
	if err != nil {
		return Outcome{Failure: classify(err)}
	}

	if res.JoinURL == "" {
		// In-place updates keep the stored link.
		res.JoinURL = existing.MeetingURL
	}
	// The event stays on its original calendar across in-place updates.
	if failure := o.persistResult(ctx, req, res, existing.CalendarID); failure != nil {
		return Outcome{Failure: failure}
	}
	return success(res.JoinURL)
}

// DeleteClassMeeting removes the provider-side meeting and clears the
// stored link. A class with no stored meeting succeeds trivially.
func (o *Orchestrator) DeleteClassMeeting(ctx context.Context, req provider.Request) Outcome {
	ctx, span := traces.StartSpan(ctx, "meeting.delete",
		traces.TenantID(req.TenantID), traces.ClassID(req.ClassID),
		traces.PlatformName(string(req.Platform)), traces.Operation("delete"))
	defer span.End()

	existing, err := o.classes.GetClassMeeting(ctx, req.ClassID)
	if errors.Is(err, ErrClassNotFound) {
		return success("")
	}
	if err != nil {
		return fail(FailureConfiguration, fmt.Sprintf("load class meeting: %v", err))
	}

	adapter, tok, failure := o.gate(ctx, req)
	if failure != nil {
		return Outcome{Failure: failure}
	}
	if failure := o.proactiveRefresh(ctx, adapter, tok); failure != nil {
		return Outcome{Failure: failure}
	}

	if existing.MeetingID != "" {
		err = o.withAuthRetry(ctx, adapter, tok, func(accessToken string) error {
			return adapter.DeleteMeeting(ctx, existing.Ref(), accessToken)
		})
		if err != nil {
			return Outcome{Failure: classify(err)}
		}
	}

	if err := o.classes.ClearClassMeeting(ctx, req.ClassID); err != nil {
		return fail(FailureConfiguration, fmt.Sprintf("clear class meeting: %v", err))
	}
	return success("")
}

// gate resolves the tenant's entitlement and loads its token connection.
// Both checks run before any provider network call.
func (o *Orchestrator) gate(ctx context.Context, req provider.Request) (provider.Adapter, *Token, *Failure) {
	ent, err := o.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, nil, &Failure{Kind: FailureConfiguration,
			Detail: fmt.Sprintf("resolve entitlement: %v", err)}
	}
	if ent.IntegrationsMode != entitlement.IntegrationsAuto {
		return nil, nil, &Failure{Kind: FailureIneligible,
			Detail: "plan does not include automatic meeting links"}
	}
	if !ent.AllowsPlatform(req.Platform) {
		return nil, nil, &Failure{Kind: FailureIneligible,
			Detail: fmt.Sprintf("plan does not allow the %s integration", req.Platform)}
	}

	adapter, err := o.registry.Get(req.Platform)
	if err != nil {
		return nil, nil, &Failure{Kind: FailureConfiguration, Detail: err.Error()}
	}

	tok, err := o.tokens.GetToken(ctx, req.TenantID, req.Platform)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil, &Failure{Kind: FailureNotConnected,
			Detail: fmt.Sprintf("%s is not connected for this tenant", req.Platform)}
	}
	if err != nil {
		return nil, nil, &Failure{Kind: FailureConfiguration,
			Detail: fmt.Sprintf("load token: %v", err)}
	}
	if !tok.Active {
		return nil, nil, &Failure{Kind: FailureNotConnected,
			Detail: fmt.Sprintf("the %s connection was disconnected", req.Platform)}
	}
	return adapter, tok, nil
}

// refreshSkew is how close to expiry a token may get before it is
// refreshed up front instead of risking a mid-call rejection.
const refreshSkew = 5 * time.Minute

// proactiveRefresh refreshes the token before the first provider call when
// it is expired, within refreshSkew of expiring, or of unknown lifetime. A
// missing refresh token or an adapter without refresh support skips
// silently; a failed grant is terminal.
func (o *Orchestrator) proactiveRefresh(ctx context.Context, adapter provider.Adapter, tok *Token) *Failure {
	rf, ok := adapter.(provider.TokenRefresher)
	if !ok || tok.RefreshToken == "" {
		return nil
	}
	if tok.ExpiresAt != nil && o.now().UTC().Add(refreshSkew).Before(*tok.ExpiresAt) {
		return nil
	}
	if err := o.refreshAndSave(ctx, rf, tok); err != nil {
		return &Failure{Kind: FailureAuthExpired,
			Detail: fmt.Sprintf("token refresh failed, reconnect the integration: %v", err)}
	}
	return nil
}

// withAuthRetry invokes call with the current access token, and on a
// classified authentication failure refreshes once and retries exactly
// once. Any second failure, and any non-authentication failure, is
// returned as-is.
func (o *Orchestrator) withAuthRetry(ctx context.Context, adapter provider.Adapter, tok *Token, call func(accessToken string) error) error {
	err := call(tok.AccessToken)
	if err == nil {
		return nil
	}

	rf, canRefresh := adapter.(provider.TokenRefresher)
	if !provider.IsAuthError(err) || !canRefresh || tok.RefreshToken == "" {
		return err
	}

	metrics.MeetingAuthRetriesTotal.WithLabelValues(string(tok.Platform)).Inc()
	logging.L(ctx).Info("provider rejected access token, refreshing and retrying",
		"tenant_id", tok.TenantID, "platform", tok.Platform)

	if rerr := o.refreshAndSave(ctx, rf, tok); rerr != nil {
		return fmt.Errorf("refresh after auth failure: %w", rerr)
	}
	return call(tok.AccessToken)
}

// refreshAndSave runs the refresh grant and persists the new token set.
// Losing the save race to a concurrent refresh is fine: the stored token
// is newer, so it is reloaded and used instead.
func (o *Orchestrator) refreshAndSave(ctx context.Context, rf provider.TokenRefresher, tok *Token) error {
	next, err := rf.RefreshTokens(ctx, tok.Set())
	if err != nil {
		return err
	}
	tok.Apply(next, o.now().UTC())

	err = o.tokens.SaveTokenIfNewer(ctx, tok)
	if errors.Is(err, ErrStaleToken) {
		stored, gerr := o.tokens.GetToken(ctx, tok.TenantID, tok.Platform)
		if gerr != nil {
			return gerr
		}
		*tok = *stored
		return nil
	}
	if err != nil {
		// The refreshed token still works for this call even if the write
		// failed; log and carry on.
		logging.L(ctx).Warn("persist refreshed token",
			"tenant_id", tok.TenantID, "platform", tok.Platform, "error", err)
	}
	return nil
}

// recreate handles the shape-change fallback: delete the stored meeting
// and create a fresh one of the requested shape. The join link changes,
// which the caller learns through the Warning.
func (o *Orchestrator) recreate(ctx context.Context, adapter provider.Adapter, tok *Token, req provider.Request, existing *ClassMeeting) Outcome {
	err := o.withAuthRetry(ctx, adapter, tok, func(accessToken string) error {
		return adapter.DeleteMeeting(ctx, existing.Ref(), accessToken)
	})
	if err != nil {
		// The old meeting lingers on the provider but is no longer referenced.
		logging.L(ctx).Warn("delete meeting before recreate",
			"class_id", req.ClassID, "platform", req.Platform, "error", err)
	}

	var res *provider.Result
	err = o.withAuthRetry(ctx, adapter, tok, func(accessToken string) error {
		var cerr error
		res, cerr = adapter.CreateMeeting(ctx, req, accessToken)
		return cerr
	})
	if err != nil {
		return Outcome{Failure: classify(err)}
	}

	if failure := o.persistResult(ctx, req, res, req.CalendarID); failure != nil {
		return Outcome{Failure: failure}
	}
	return Outcome{OK: true, JoinURL: res.JoinURL,
		Warning: "the meeting was recreated and its join link changed"}
}

func (o *Orchestrator) persistResult(ctx context.Context, req provider.Request, res *provider.Result, calendarID string) *Failure {
	cm := &ClassMeeting{
		ClassID:     req.ClassID,
		TenantID:    req.TenantID,
		Platform:    req.Platform,
		MeetingURL:  res.JoinURL,
		MeetingID:   res.MeetingID,
		MeetingKind: res.Kind,
		CalendarID:  calendarID,
		UpdatedAt:   o.now().UTC(),
	}
	if err := o.classes.SaveClassMeeting(ctx, cm); err != nil {
		return &Failure{Kind: FailureConfiguration,
			Detail: fmt.Sprintf("persist meeting link: %v", err)}
	}
	return nil
}

// classify maps a terminal provider error to a failure kind. Anything the
// provider rejected is surfaced verbatim in the detail.
func classify(err error) *Failure {
	if provider.IsAuthError(err) {
		return &Failure{Kind: FailureAuthExpired,
			Detail: "the provider rejected our credentials, reconnect the integration"}
	}
	var verr *provider.ValidationError
	if errors.As(err, &verr) {
		return &Failure{Kind: FailureProviderRejected, Detail: verr.Reason}
	}
	return &Failure{Kind: FailureProviderRejected, Detail: err.Error()}
}

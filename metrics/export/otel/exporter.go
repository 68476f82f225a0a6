// Package otel bridges the engine's in-process counters to an
// OpenTelemetry meter. Counters are exported as observable cumulative
// sums; the engine stays free of any OpenTelemetry dependency on its hot
// paths.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/mypts/authcore"
)

var counterNames = map[authcore.MetricID]string{
	authcore.MetricLoginSuccess:         "authcore.login.success",
	authcore.MetricLoginFailure:         "authcore.login.failure",
	authcore.MetricTwoFactorRequired:    "authcore.two_factor.required",
	authcore.MetricTwoFactorFailure:     "authcore.two_factor.failure",
	authcore.MetricRefreshSuccess:       "authcore.refresh.success",
	authcore.MetricRefreshFailure:       "authcore.refresh.failure",
	authcore.MetricRefreshReuseDetected: "authcore.refresh.reuse_detected",
	authcore.MetricSessionCreated:       "authcore.session.created",
	authcore.MetricSessionRevoked:       "authcore.session.revoked",
	authcore.MetricLogout:               "authcore.logout",
	authcore.MetricLogoutAll:            "authcore.logout_all",
	authcore.MetricOTPIssued:            "authcore.otp.issued",
	authcore.MetricOTPVerified:          "authcore.otp.verified",
	authcore.MetricOTPFailed:            "authcore.otp.failed",
	authcore.MetricOTPExhausted:         "authcore.otp.exhausted",
	authcore.MetricOTPChannelFailure:    "authcore.otp.channel_failure",
	authcore.MetricRecoveryCodeUsed:     "authcore.recovery_code.used",
	authcore.MetricOAuthLoginNew:        "authcore.oauth.login_new",
	authcore.MetricOAuthLoginExisting:   "authcore.oauth.login_existing",
	authcore.MetricOAuthConflict:        "authcore.oauth.conflict",
	authcore.MetricPasswordResetRequest: "authcore.password_reset.requested",
	authcore.MetricPasswordResetDone:    "authcore.password_reset.completed",
}

// Register wires every engine counter into meter as an observable counter.
// The returned registration can be unregistered to stop collection.
func Register(meter metric.Meter, metrics *authcore.Metrics) (metric.Registration, error) {
	if metrics == nil {
		return nil, fmt.Errorf("otel: metrics must not be nil")
	}

	instruments := make(map[authcore.MetricID]metric.Int64ObservableCounter, len(counterNames))
	observables := make([]metric.Observable, 0, len(counterNames))
	for id, name := range counterNames {
		counter, err := meter.Int64ObservableCounter(name)
		if err != nil {
			return nil, fmt.Errorf("otel: create counter %s: %w", name, err)
		}
		instruments[id] = counter
		observables = append(observables, counter)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for id, counter := range instruments {
			o.ObserveInt64(counter, int64(metrics.Value(id)))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return reg, nil
}

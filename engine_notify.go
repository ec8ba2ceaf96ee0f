package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/token"
)

// send delivers one message under the mail timeout.
func (e *Engine) send(ctx context.Context, to, subject, body string) error {
	mctx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Mail)
	defer cancel()

	if err := e.mailer.Send(mctx, to, subject, body); err != nil {
		e.metrics.Inc(metrics.DeliveryFailure)
		e.log.Error(ctx, "message delivery failed", "subject", subject, "error", err)
		return err
	}
	return nil
}

func (e *Engine) link(path, secret string) string {
	return strings.TrimRight(e.config.Links.BaseURL, "/") + "/" + strings.TrimLeft(path, "/") + secret
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}

func (e *Engine) sendConfirmation(ctx context.Context, to, name, secret string) error {
	ttl := e.codec.TTL(token.PurposeConfirmation)
	subject := fmt.Sprintf("Your email confirmation token (valid for %d min)", minutes(ttl))
	body := fmt.Sprintf(
		"Hi %s,\n\nPlease confirm your email address by opening the link below:\n%s\n\n"+
			"If you didn't sign up or change your email address, please ignore this email.\n",
		firstName(name), e.link(e.config.Links.ConfirmPath, secret),
	)
	return e.send(ctx, to, subject, body)
}

func (e *Engine) sendReset(ctx context.Context, to, name, secret string) error {
	ttl := e.codec.TTL(token.PurposeReset)
	subject := fmt.Sprintf("Your password reset token (valid for %d min)", minutes(ttl))
	body := fmt.Sprintf(
		"Hi %s,\n\nForgot your password? Submit a PATCH request with your new password and "+
			"passwordConfirm to:\n%s\n\nIf you didn't forget your password, please ignore this email.\n",
		firstName(name), e.link(e.config.Links.ResetPath, secret),
	)
	return e.send(ctx, to, subject, body)
}

// revokeConfirmation clears a confirmation token that could not be delivered,
// together with the pending email it was meant to prove.
func (e *Engine) revokeConfirmation(ctx context.Context, accountID, fingerprint string) {
	// The rollback must run even when the request context is already done.
	_, err := e.updateAccount(context.WithoutCancel(ctx), account.ID(accountID), func(a *account.Account) error {
		if a.Confirmation == nil || a.Confirmation.Fingerprint != fingerprint {
			return errTokenRejected
		}
		a.Confirmation = nil
		a.PendingEmail = ""
		return nil
	})
	if err != nil && !errors.Is(err, errTokenRejected) {
		e.log.Error(ctx, "confirmation token rollback failed", "account_id", accountID, "error", err)
	}
}

func (e *Engine) revokeReset(ctx context.Context, accountID, fingerprint string) {
	_, err := e.updateAccount(context.WithoutCancel(ctx), account.ID(accountID), func(a *account.Account) error {
		if a.Reset == nil || a.Reset.Fingerprint != fingerprint {
			return errTokenRejected
		}
		a.Reset = nil
		return nil
	})
	if err != nil && !errors.Is(err, errTokenRejected) {
		e.log.Error(ctx, "reset token rollback failed", "account_id", accountID, "error", err)
	}
}

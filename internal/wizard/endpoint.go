package wizard

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"castbot/internal/gateway"
	"castbot/internal/model"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{5,15}$`)

// normalizePhone drops the separators people usually type.
func normalizePhone(s string) (string, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	return s, phoneRe.MatchString(s)
}

func (w *Wizard) handleAddAccount(ctx context.Context, req *router.Request) error {
	if err := w.guard.Require(ctx, req.FromID); err != nil {
		return err
	}
	if strings.TrimSpace(req.RawArgs) == "" {
		return model.Validation("wizard.add_account", msgPhoneUsage)
	}
	phone, ok := normalizePhone(req.RawArgs)
	if !ok {
		return model.Validation("wizard.add_account", msgBadPhone)
	}

	unlock := w.sessions.Lock(req.FromID)
	defer unlock()

	actor, err := w.store.GetActor(ctx, req.FromID)
	if err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	hash, err := w.gw.RequestCode(gctx, w.gw.AccountFor(actor, phone))
	cancel()
	if err != nil {
		return model.Transport("wizard.request_code", err)
	}
	ep, err := w.store.UpsertEndpoint(ctx, req.FromID, phone, hash)
	if err != nil {
		return err
	}
	w.audit(ctx, req.FromID, "endpoint.code_requested", ep.ID, phone)

	if _, err := req.Reply(ctx, msgAskCode, nil); err != nil {
		return err
	}
	w.begin(ctx, req.FromID, Session{
		Flow:       FlowEndpoint,
		State:      StateLoginCode,
		EndpointID: ep.ID,
		Phone:      phone,
		CodeHash:   hash,
	})
	return nil
}

func (w *Wizard) onLoginCode(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	code := strings.TrimSpace(req.Text)
	if code == "" {
		return false, model.Validation("wizard.login_code", msgEmptyCode)
	}
	actor, err := w.store.GetActor(ctx, req.FromID)
	if err != nil {
		return true, err
	}

	gctx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	err = w.gw.SignIn(gctx, w.gw.AccountFor(actor, sess.Phone), code, sess.CodeHash)
	cancel()
	if err != nil {
		req.Logger.Warn("sign in failed", logx.Int64("endpoint_id", sess.EndpointID), logx.Err(err))
		_, rerr := req.Reply(ctx, "Error: "+strings.TrimSuffix(signInError(err), ".")+".", nil)
		return true, rerr
	}
	if err := w.store.ActivateEndpoint(ctx, sess.EndpointID); err != nil {
		return true, err
	}
	w.audit(ctx, req.FromID, "endpoint.activate", sess.EndpointID, sess.Phone)
	_, err = req.Reply(ctx, msgAccountDone, nil)
	return true, err
}

// signInError prefers the gateway's own reason, which usually tells the
// user what was wrong with the code.
func signInError(err error) string {
	if msg := gatewayReason(err); msg != "" {
		return msg
	}
	return model.UserMessage(model.Transport("wizard.sign_in", err))
}

func gatewayReason(err error) string {
	var se *gateway.StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return strings.TrimSpace(se.Msg)
	}
	return ""
}

package wizard

import (
	"context"
	"strconv"
	"strings"

	"castbot/internal/model"
	"castbot/internal/selection"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

func (w *Wizard) handleStartPosting(ctx context.Context, req *router.Request) error {
	if err := w.guard.Require(ctx, req.FromID); err != nil {
		return err
	}
	unlock := w.sessions.Lock(req.FromID)
	defer unlock()

	eps, err := w.store.ListActiveEndpoints(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		_, err := req.Reply(ctx, msgNoEndpoints, nil)
		return err
	}
	kb, page := selection.RenderChoices(nsEndpoint, endpointChoices(eps), 0)
	ref, err := req.Reply(ctx, msgChooseEndpoint, withMarkup(kb))
	if err != nil {
		return err
	}
	w.begin(ctx, req.FromID, Session{
		Flow:       FlowCreate,
		State:      StateSelectEndpoint,
		PageIndex:  page,
		MessageRef: ref,
	})
	return nil
}

func (w *Wizard) onEndpoint(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	pick, id, page, ok := selection.ParseChoice(nsEndpoint, req.Data)
	if !ok {
		return false, req.Answer(ctx, router.MsgMenuExpired)
	}
	if !pick {
		eps, err := w.store.ListActiveEndpoints(ctx, req.FromID)
		if err != nil {
			return false, err
		}
		if len(eps) == 0 {
			return true, req.Sender.EditText(ctx, sess.MessageRef, msgNoEndpoints, nil)
		}
		kb, idx := selection.RenderChoices(nsEndpoint, endpointChoices(eps), page)
		sess.PageIndex = idx
		return false, req.Sender.EditText(ctx, sess.MessageRef, msgChooseEndpoint, withMarkup(kb))
	}

	ep, err := w.store.GetEndpoint(ctx, id)
	if model.IsKind(err, model.KindNotFound) || (err == nil && (ep.ActorID != req.FromID || !ep.Active)) {
		return false, model.Validation("wizard.endpoint", msgEndpointGone)
	}
	if err != nil {
		return false, err
	}
	job, err := w.store.CreateJob(ctx, req.FromID, ep.ID)
	if err != nil {
		return false, err
	}
	w.audit(ctx, req.FromID, "job.create", job.ID, "endpoint="+formatID(ep.ID))

	sess.JobID = job.ID
	sess.EndpointID = ep.ID
	sess.State = StateSetMessage
	return false, req.Sender.EditText(ctx, sess.MessageRef, msgAskMessage, nil)
}

func (w *Wizard) onMessageText(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	text := req.Text
	if strings.TrimSpace(text) == "" {
		return false, model.Validation("wizard.message", msgEmptyMessage)
	}
	if _, err := w.store.UpdateJob(ctx, sess.JobID, model.JobPatch{Message: &text}); err != nil {
		return false, err
	}
	sess.State = StateSetInterval
	_, err := req.Reply(ctx, msgAskInterval, nil)
	return false, err
}

// parseInterval accepts a positive whole number of minutes.
func parseInterval(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (w *Wizard) onIntervalText(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	minutes, ok := parseInterval(req.Text)
	if !ok {
		return false, model.Validation("wizard.interval", msgBadInterval)
	}
	if _, err := w.store.UpdateJob(ctx, sess.JobID, model.JobPatch{IntervalMin: &minutes}); err != nil {
		return false, err
	}
	sess.IntervalSet = true

	cands, err := w.candidates(ctx, req.FromID, sess.EndpointID)
	if err != nil || len(cands) == 0 {
		msg := msgNoGroups
		if err != nil {
			msg = msgGroupsFailed
			req.Logger.Warn("list candidates failed", logx.Int64("endpoint_id", sess.EndpointID), logx.Err(err))
		}
		if derr := w.store.DeleteJob(ctx, sess.JobID); derr != nil {
			return true, derr
		}
		w.audit(ctx, req.FromID, "job.discard", sess.JobID, "no candidates")
		_, rerr := req.Reply(ctx, msg, nil)
		return true, rerr
	}

	page := w.sel.Navigate(cands, selection.Set{}, 0)
	ref, err := req.Reply(ctx, groupsText(msgChooseGroups, page), withMarkup(selection.Markup(page)))
	if err != nil {
		return false, err
	}
	sess.Candidates = cands
	sess.PageIndex = page.Index
	sess.MessageRef = ref
	sess.State = StateSelectTargets
	return false, nil
}

// onSelection drives the toggle list for both the creation and the edit
// flow.
func (w *Wizard) onSelection(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	act, ok := selection.ParseAction(req.Data)
	if !ok {
		return false, req.Answer(ctx, router.MsgMenuExpired)
	}
	prompt := msgChooseGroups
	if sess.State == StateEditTargets {
		prompt = msgEditGroups
	}

	switch act.Kind {
	case selection.ActPage, selection.ActToggle:
		var (
			set selection.Set
			err error
		)
		if act.Kind == selection.ActToggle {
			set, err = w.sel.Toggle(ctx, sess.JobID, sess.Candidates, act.ID)
		} else {
			set, err = w.sel.Selected(ctx, sess.JobID)
		}
		if err != nil {
			return false, err
		}
		page := w.sel.Navigate(sess.Candidates, set, act.Page)
		sess.PageIndex = page.Index
		return false, req.Sender.EditText(ctx, sess.MessageRef, groupsText(prompt, page), withMarkup(selection.Markup(page)))

	case selection.ActSaveAll:
		if err := w.sel.SaveAll(ctx, sess.JobID, sess.Candidates); err != nil {
			return false, err
		}
		w.audit(ctx, req.FromID, "job.targets", sess.JobID, "all="+strconv.Itoa(len(sess.Candidates)))

	case selection.ActSaveSelected:
		set, err := w.sel.SaveSelected(ctx, sess.JobID)
		if err != nil {
			return false, err
		}
		w.audit(ctx, req.FromID, "job.targets", sess.JobID, "selected="+strconv.Itoa(len(set)))
	}

	if sess.State == StateEditTargets {
		return true, req.Sender.EditText(ctx, sess.MessageRef, msgGroupsSaved, nil)
	}
	sess.State = StateConfirmActivate
	sess.Candidates = nil
	return false, req.Sender.EditText(ctx, sess.MessageRef, msgAskActivate, withMarkup(activateMarkup()))
}

func (w *Wizard) onActivate(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	_, action, _ := tgui.Parse(req.Data)
	switch action {
	case actYes:
		if _, err := w.store.UpdateJob(ctx, sess.JobID, model.JobPatch{Active: model.Ptr(true)}); err != nil {
			return false, err
		}
		w.audit(ctx, req.FromID, "job.activate", sess.JobID, "")
		return true, req.Sender.EditText(ctx, sess.MessageRef, msgTaskActive, nil)
	case actNo:
		return true, req.Sender.EditText(ctx, sess.MessageRef, msgTaskDisabled, nil)
	}
	return false, req.Answer(ctx, router.MsgMenuExpired)
}

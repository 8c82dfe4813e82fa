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

// taskChoices lists the actor's configured jobs.
func (w *Wizard) taskChoices(ctx context.Context, actorID int64) ([]selection.Choice, error) {
	jobs, err := w.store.ListActorJobs(ctx, actorID)
	if err != nil {
		return nil, err
	}
	eps, err := w.store.ListEndpoints(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return jobChoices(jobs, eps), nil
}

func (w *Wizard) handleMyTasks(ctx context.Context, req *router.Request) error {
	if err := w.guard.Require(ctx, req.FromID); err != nil {
		return err
	}
	unlock := w.sessions.Lock(req.FromID)
	defer unlock()

	choices, err := w.taskChoices(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(choices) == 0 {
		_, err := req.Reply(ctx, msgNoTasks, nil)
		return err
	}
	kb, page := selection.RenderChoices(nsJobs, choices, 0)
	ref, err := req.Reply(ctx, msgChooseTask, withMarkup(kb))
	if err != nil {
		return err
	}
	w.begin(ctx, req.FromID, Session{
		Flow:       FlowEdit,
		State:      StateListJobs,
		PageIndex:  page,
		MessageRef: ref,
	})
	return nil
}

func (w *Wizard) onJobs(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	pick, id, page, ok := selection.ParseChoice(nsJobs, req.Data)
	if !ok {
		return false, req.Answer(ctx, router.MsgMenuExpired)
	}
	if !pick {
		choices, err := w.taskChoices(ctx, req.FromID)
		if err != nil {
			return false, err
		}
		if len(choices) == 0 {
			return true, req.Sender.EditText(ctx, sess.MessageRef, msgNoTasks, nil)
		}
		kb, idx := selection.RenderChoices(nsJobs, choices, page)
		sess.PageIndex = idx
		return false, req.Sender.EditText(ctx, sess.MessageRef, msgChooseTask, withMarkup(kb))
	}

	job, err := w.ownedJob(ctx, req.FromID, id)
	if err != nil {
		return false, err
	}
	ep, err := w.store.GetEndpoint(ctx, job.EndpointID)
	if err != nil {
		return false, err
	}
	sess.JobID = job.ID
	sess.EndpointID = ep.ID
	sess.State = StateJobMenu
	return false, req.Sender.EditText(ctx, sess.MessageRef, jobMenuText(ep), withMarkup(jobMenuMarkup(job)))
}

func (w *Wizard) onJobMenu(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	_, action, _ := tgui.Parse(req.Data)
	job, err := w.ownedJob(ctx, req.FromID, sess.JobID)
	if err != nil {
		return true, err
	}

	switch action {
	case jobStart:
		if !job.Configured() {
			return false, model.Validation("wizard.start", msgTaskIncomplete)
		}
		if _, err := w.store.UpdateJob(ctx, job.ID, model.JobPatch{Active: model.Ptr(true)}); err != nil {
			return false, err
		}
		w.audit(ctx, req.FromID, "job.activate", job.ID, "")
		return true, req.Sender.EditText(ctx, sess.MessageRef, msgTaskActivated, nil)

	case jobStop:
		if _, err := w.store.UpdateJob(ctx, job.ID, model.JobPatch{Active: model.Ptr(false)}); err != nil {
			return false, err
		}
		w.audit(ctx, req.FromID, "job.deactivate", job.ID, "")
		return true, req.Sender.EditText(ctx, sess.MessageRef, msgTaskDeactivated, nil)

	case jobMsg:
		sess.State = StateEditMessage
		return false, req.Sender.EditText(ctx, sess.MessageRef, msgAskNewMessage, nil)

	case jobInt:
		sess.State = StateEditInterval
		return false, req.Sender.EditText(ctx, sess.MessageRef, msgAskNewInterval, nil)

	case jobTgt:
		cands, err := w.candidates(ctx, req.FromID, job.EndpointID)
		if err != nil {
			req.Logger.Warn("list candidates failed", logx.Int64("job_id", job.ID), logx.Err(err))
			return true, req.Sender.EditText(ctx, sess.MessageRef, model.UserMessage(model.Transport("wizard.targets", err)), nil)
		}
		if len(cands) == 0 {
			return true, req.Sender.EditText(ctx, sess.MessageRef, msgEditNoGroups, nil)
		}
		set, err := w.sel.Selected(ctx, job.ID)
		if err != nil {
			return false, err
		}
		page := w.sel.Navigate(cands, set, 0)
		sess.Candidates = cands
		sess.PageIndex = page.Index
		sess.State = StateEditTargets
		return false, req.Sender.EditText(ctx, sess.MessageRef, groupsText(msgEditGroups, page), withMarkup(selection.Markup(page)))
	}
	return false, req.Answer(ctx, router.MsgMenuExpired)
}

func (w *Wizard) onEditMessageText(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	text := req.Text
	if strings.TrimSpace(text) == "" {
		return false, model.Validation("wizard.edit_message", msgAskNewMessage)
	}
	if _, err := w.store.UpdateJob(ctx, sess.JobID, model.JobPatch{Message: &text}); err != nil {
		return false, err
	}
	w.audit(ctx, req.FromID, "job.message", sess.JobID, "")
	_, err := req.Reply(ctx, msgMessageSaved, nil)
	return true, err
}

func (w *Wizard) onEditIntervalText(ctx context.Context, req *router.Request, sess *Session) (bool, error) {
	minutes, ok := parseInterval(req.Text)
	if !ok {
		return false, model.Validation("wizard.edit_interval", msgBadNewInterval)
	}
	if _, err := w.store.UpdateJob(ctx, sess.JobID, model.JobPatch{IntervalMin: &minutes}); err != nil {
		return false, err
	}
	w.audit(ctx, req.FromID, "job.interval", sess.JobID, "minutes="+strconv.Itoa(minutes))
	_, err := req.Reply(ctx, msgIntervalChanged, nil)
	return true, err
}

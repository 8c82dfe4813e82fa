package wizard

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/model"
	"castbot/internal/selection"
	kit "castbot/internal/transport"
	"castbot/pkg/tgui"
)

const (
	msgCancelled = "Action cancelled."

	msgChooseEndpoint = "Please, choose the account or /cancel"
	msgNoEndpoints    = "You don't have any active accounts yet. Please, /add_account at first."
	msgEndpointGone   = "This account is not available anymore. Please, choose another one or /cancel"
	msgAskMessage     = "Great! Now send me the message text."
	msgEmptyMessage   = "The message can't be empty. Please, send me the message text or /cancel"
	msgAskInterval    = "Now send the interval to post the message (in minutes)."
	msgBadInterval    = "Oops! Interval has to be integer value (in minutes). Send me another interval."
	msgNoGroups       = "This account doesn't have any groups. Try using another account via /start_posting"
	msgGroupsFailed   = "Couldn't load groups of this account. Try again later or use another account via /start_posting"
	msgChooseGroups   = "Please, choose groups by clicking on them or just press SAVE ALL to select all."
	msgAskActivate    = "Great! Should I start this task now?"
	msgTaskActive     = "Task is active now."
	msgTaskDisabled   = "Task is disabled."

	msgChooseTask      = "Please, choose the task or /cancel"
	msgNoTasks         = "You don't have any tasks yet. Please, /start_posting at first."
	msgTaskActivated   = "Task activated!"
	msgTaskDeactivated = "Task deactivated!"
	msgTaskIncomplete  = "This task is not configured yet. Please, set its message and interval first."
	msgAskNewMessage   = "Please, send me new message or /cancel"
	msgAskNewInterval  = "Please, send me the new interval (in minutes) or /cancel"
	msgBadNewInterval  = "You entered wrong value. Please, send me the new interval (in minutes) or /cancel"
	msgMessageSaved    = "New message saved."
	msgIntervalChanged = "Interval changed."
	msgEditGroups      = "Please, choose groups you want to send messages to or /cancel"
	msgGroupsSaved     = "New list of groups saved."
	msgEditNoGroups    = "This account doesn't have any groups anymore. Please, remove the task's account and /add_account again."

	msgPhoneUsage  = "Please, include the phone number to this command."
	msgBadPhone    = "This doesn't look like a phone number. Usage: /add_account +15551234567"
	msgAskCode     = "Please, send the login code to continue"
	msgEmptyCode   = "Please, send the login code or /cancel"
	msgAccountDone = "Account added successfully."
)

const (
	jobStart = "start"
	jobStop  = "stop"
	jobMsg   = "msg"
	jobInt   = "int"
	jobTgt   = "tgt"

	actYes = "yes"
	actNo  = "no"
)

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func withMarkup(rm *tele.ReplyMarkup) *kit.SendOptions {
	return &kit.SendOptions{ReplyMarkup: rm}
}

func endpointChoices(eps []model.Endpoint) []selection.Choice {
	out := make([]selection.Choice, 0, len(eps))
	for _, e := range eps {
		out = append(out, selection.Choice{ID: e.ID, Label: e.Phone})
	}
	return out
}

// jobLabel is "Task[<first five of phone>..]" with the activity dot.
func jobLabel(j model.Job, ep model.Endpoint) string {
	dot := "🔴"
	if j.Active {
		dot = "🔵"
	}
	return "Task[" + ep.ShortPhone() + "..]" + dot
}

func jobChoices(jobs []model.Job, eps []model.Endpoint) []selection.Choice {
	byID := make(map[int64]model.Endpoint, len(eps))
	for _, e := range eps {
		byID[e.ID] = e
	}
	out := make([]selection.Choice, 0, len(jobs))
	for _, j := range jobs {
		if !j.Configured() {
			continue
		}
		out = append(out, selection.Choice{ID: j.ID, Label: jobLabel(j, byID[j.EndpointID])})
	}
	return out
}

func jobMenuText(ep model.Endpoint) string {
	return "Task [" + ep.Phone + "]\nPlease, choose action or /cancel"
}

func jobMenuMarkup(j model.Job) *tele.ReplyMarkup {
	state := tgui.Btn("START", tgui.Data(nsJob, jobStart, ""))
	if j.Active {
		state = tgui.Btn("STOP", tgui.Data(nsJob, jobStop, ""))
	}
	return tgui.Grid2([]tele.Btn{
		state,
		tgui.Btn("Edit message", tgui.Data(nsJob, jobMsg, "")),
		tgui.Btn("Edit interval", tgui.Data(nsJob, jobInt, "")),
		tgui.Btn("Edit groups", tgui.Data(nsJob, jobTgt, "")),
	})
}

func activateMarkup() *tele.ReplyMarkup {
	return tgui.YesNo(tgui.Data(nsActivate, actYes, ""), tgui.Data(nsActivate, actNo, ""))
}

// groupsText is the prompt above the toggle list. Long lists get a page
// label.
func groupsText(prompt string, p selection.Page) string {
	if p.Count <= 1 {
		return prompt
	}
	return prompt + "\n\n" + tgui.PageLabel(p.Index, selection.PageSize, p.Count*selection.PageSize)
}

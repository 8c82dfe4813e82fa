package account

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"

	"castbot/internal/model"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

const (
	dayLayout = "01.02.2006"
	maxDays   = 3650

	msgTokenUsage      = "Please, send me the number of days the token will be valid."
	msgActivateUsage   = "Please, send me the token."
	msgTokenRejected   = "Your token is invalid."
	msgNoTokens        = "There are no active tokens yet."
	msgGrantUsage      = "Usage: /grant_admin USER_ID"
	msgRemoveUsage     = "Please, include the phone number to this command."
	msgSetAPIUsage     = "Usage: /set_api API_ID API_HASH (or /set_api 0 to use the defaults)"
	msgNoAccounts      = "You don't have any accounts yet. Please, /add_account at first."
	msgOverrideSaved   = "API credentials saved."
	msgOverrideCleared = "API credentials reset to defaults."
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Service implements the administrative commands.
type Service struct {
	store Store
	guard *Guard
	log   logx.Logger

	// newToken returns a fresh credential value.
	newToken func() string
}

func NewService(store Store, guard *Guard, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		guard:    guard,
		log:      log,
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Commands registers the account commands with the router.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Register and show your id", Handle: s.handleStart},
		{Name: "activate", Description: "Activate an access token", Usage: "/activate TOKEN", Handle: s.handleActivate},
		{Name: "status", Description: "Token expiry and task counts", Handle: s.requireToken(s.handleStatus)},
		{Name: "accounts", Description: "List your linked accounts", Handle: s.requireToken(s.handleAccounts)},
		{Name: "remove_account", Description: "Remove a linked account and its tasks", Usage: "/remove_account PHONE", Handle: s.requireToken(s.handleRemoveAccount)},
		{Name: "set_api", Description: "Use your own API id and hash", Usage: "/set_api API_ID API_HASH", Handle: s.requireToken(s.handleSetAPI)},
		{Name: "token", Description: "Issue an access token", Usage: "/token DAYS", Access: router.AccessAdmin, Handle: s.handleToken},
		{Name: "list_tokens", Description: "List tokens still valid", Access: router.AccessAdmin, Handle: s.handleListTokens},
		{Name: "grant_admin", Description: "Give admin rights to a user", Usage: "/grant_admin USER_ID", Access: router.AccessAdmin, Handle: s.handleGrantAdmin},
	}
}

func (s *Service) requireToken(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if err := s.guard.Require(ctx, req.FromID); err != nil {
			return err
		}
		return next(ctx, req)
	}
}

func (s *Service) audit(ctx context.Context, actorID int64, action, target, detail string) {
	err := s.store.AppendAudit(ctx, model.AuditEntry{
		At:      s.guard.now(),
		ActorID: actorID,
		Action:  action,
		Target:  target,
		Detail:  detail,
	})
	if err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) handleStart(ctx context.Context, req *router.Request) error {
	if _, err := s.store.FindOrCreateActor(ctx, req.FromID); err != nil {
		return err
	}
	name := "there"
	if m := req.Update.Message; m != nil && m.FromUsername != "" {
		name = "@" + m.FromUsername
	}
	text := tgui.JoinH(" ", tgui.Esc("Hello, "+name), tgui.Concat(tgui.Raw("["), tgui.Code(strconv.FormatInt(req.FromID, 10)), tgui.Raw("]")))
	_, err := req.Reply(ctx, text.String(), htmlOpts)
	return err
}

func (s *Service) handleToken(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return model.Validation("account.token", msgTokenUsage)
	}
	days, err := strconv.Atoi(req.Args[0])
	if err != nil || days < 0 || days > maxDays {
		return model.Validation("account.token", msgTokenUsage)
	}

	until := s.guard.Today().AddDate(0, 0, days)
	cred, err := s.store.CreateCredential(ctx, s.newToken(), until)
	if err != nil {
		return err
	}
	s.audit(ctx, req.FromID, "token.issue", strconv.FormatInt(cred.ID, 10), fmt.Sprintf("days=%d", days))

	text := tgui.NewText().
		Line("Here is the new token:").
		Blank().
		HTML(tgui.Code(cred.Value)).
		Blank().
		HTML(tgui.JoinH(" ", tgui.Esc("Valid until:"), tgui.Code(cred.ValidUntil.Format(dayLayout))))
	_, err = req.Reply(ctx, text.String(), htmlOpts)
	return err
}

func (s *Service) handleListTokens(ctx context.Context, req *router.Request) error {
	creds, err := s.store.ListValidCredentials(ctx, s.guard.Today())
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		_, err := req.Reply(ctx, msgNoTokens, nil)
		return err
	}
	t := tgui.NewText().HTML(tgui.B("List of Tokens:"))
	for _, c := range creds {
		t.HTML(tgui.JoinH(" - ", tgui.Code(c.Value), tgui.Esc("till "+c.ValidUntil.Format(dayLayout))))
	}
	_, err = req.Reply(ctx, t.String(), htmlOpts)
	return err
}

func (s *Service) handleActivate(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return model.Validation("account.activate", msgActivateUsage)
	}
	if _, err := s.store.FindOrCreateActor(ctx, req.FromID); err != nil {
		return err
	}
	cred, err := s.store.GetCredentialByValue(ctx, req.Args[0])
	if model.IsKind(err, model.KindNotFound) {
		return model.Validation("account.activate", msgTokenRejected)
	}
	if err != nil {
		return err
	}
	if !cred.ValidOn(s.guard.now().In(s.guard.loc)) {
		return model.Validation("account.activate", msgTokenRejected)
	}
	if err := s.store.BindCredential(ctx, req.FromID, cred.ID); err != nil {
		return err
	}
	s.audit(ctx, req.FromID, "token.activate", strconv.FormatInt(cred.ID, 10), "")

	text := tgui.JoinH(" ", tgui.Esc("Congratulations! Your token is active until:"), tgui.Code(cred.ValidUntil.Format(dayLayout)))
	_, err = req.Reply(ctx, text.String(), htmlOpts)
	return err
}

func (s *Service) handleGrantAdmin(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return model.Validation("account.grant_admin", msgGrantUsage)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return model.Validation("account.grant_admin", msgGrantUsage)
	}
	if err := s.store.SetAdmin(ctx, id, true); err != nil {
		return err
	}
	s.audit(ctx, req.FromID, "admin.grant", strconv.FormatInt(id, 10), "")
	_, err = req.Reply(ctx, fmt.Sprintf("User [%d] is an admin now.", id), nil)
	return err
}

func (s *Service) handleAccounts(ctx context.Context, req *router.Request) error {
	eps, err := s.store.ListEndpoints(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		_, err := req.Reply(ctx, msgNoAccounts, nil)
		return err
	}
	t := tgui.NewText().Title("📱", "Accounts")
	for _, e := range eps {
		status := "🔴 pending login"
		if e.Active {
			status = "🔵 active"
		}
		t.HTML(tgui.JoinH(" ", tgui.Code(e.Phone), tgui.Esc(status), tgui.I("added "+humanize.Time(e.CreatedAt))))
	}
	_, err = req.Reply(ctx, t.String(), htmlOpts)
	return err
}

func (s *Service) handleRemoveAccount(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return model.Validation("account.remove_account", msgRemoveUsage)
	}
	phone := req.Args[0]
	ep, err := s.store.GetEndpointByPhone(ctx, req.FromID, phone)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteEndpoint(ctx, req.FromID, ep.ID)
	if err != nil {
		return err
	}
	s.audit(ctx, req.FromID, "account.remove", phone, fmt.Sprintf("jobs=%d", removed))
	_, err = req.Reply(ctx, fmt.Sprintf("Account %s removed. %s deleted.", phone, english.Plural(int(removed), "task", "tasks")), nil)
	return err
}

func (s *Service) handleSetAPI(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || len(req.Args) > 2 {
		return model.Validation("account.set_api", msgSetAPIUsage)
	}
	apiID, err := strconv.Atoi(req.Args[0])
	if err != nil || apiID < 0 || (apiID > 0 && len(req.Args) != 2) {
		return model.Validation("account.set_api", msgSetAPIUsage)
	}
	hash := ""
	if len(req.Args) == 2 {
		hash = req.Args[1]
	}
	if err := s.store.SetActorOverride(ctx, req.FromID, apiID, hash); err != nil {
		return err
	}
	s.audit(ctx, req.FromID, "actor.set_api", strconv.Itoa(apiID), "")
	if apiID == 0 {
		_, err = req.Reply(ctx, msgOverrideCleared, nil)
		return err
	}
	_, err = req.Reply(ctx, msgOverrideSaved, nil)
	return err
}

func (s *Service) handleStatus(ctx context.Context, req *router.Request) error {
	cred, _, err := s.store.ActorCredential(ctx, req.FromID)
	if err != nil {
		return err
	}
	jobs, err := s.store.ListActorJobs(ctx, req.FromID)
	if err != nil {
		return err
	}
	eps, err := s.store.ListEndpoints(ctx, req.FromID)
	if err != nil {
		return err
	}

	active := 0
	var lastRun *time.Time
	for _, j := range jobs {
		if j.Active {
			active++
		}
		if j.LastRunAt != nil && (lastRun == nil || j.LastRunAt.After(*lastRun)) {
			lastRun = j.LastRunAt
		}
	}

	// Expiry is the end of the valid day in the configured location.
	y, m, d := cred.ValidUntil.Date()
	expires := time.Date(y, m, d, 0, 0, 0, 0, s.guard.loc).AddDate(0, 0, 1)

	t := tgui.NewText().Title("📊", "Status").
		KV("Token valid until", fmt.Sprintf("%s (expires %s)", cred.ValidUntil.Format(dayLayout), humanize.RelTime(expires, s.guard.now(), "ago", "from now"))).
		KV("Accounts", humanize.Comma(int64(len(eps)))).
		KV("Tasks", fmt.Sprintf("%d active of %d", active, len(jobs)))
	if lastRun != nil {
		t.KV("Last run", humanize.RelTime(*lastRun, s.guard.now(), "ago", "from now"))
	}
	_, err = req.Reply(ctx, t.String(), htmlOpts)
	return err
}

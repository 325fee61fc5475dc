// Package adminui holds the operator screens shared by the parent and the
// child bots: the campaign dialogue, the scheduled job list and delivery of
// campaign posts.
package adminui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/pocketsaas/core/logger"
	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/core/telegram/format"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/core/telegram/keyboard"
	"github.com/m3rciful/pocketsaas/core/telegram/state"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/model"

	tele "gopkg.in/telebot.v4"
)

const component = "adminui"

// Dialogue states bound on the bot's state manager.
const (
	StateCompose state.State = "bc.compose"
	StateTime    state.State = "bc.time"
)

// Options wires a Dialog.
type Options struct {
	Orchestrator *broadcast.Orchestrator
	FSM          state.Manager
	Texts        *i18n.Catalog
	// MenuData is the callback of the operator menu.
	MenuData string
	// Scope returns the tenant whose users a segment picked in this bot
	// targets. Bots without a segment picker leave it nil.
	Scope func(c tele.Context) (int64, error)
	// OnFinish renders the screen shown when a campaign ends.
	OnFinish tele.HandlerFunc
}

// Dialog drives an operator through composing and sending a campaign.
type Dialog struct {
	orch     *broadcast.Orchestrator
	fsm      state.Manager
	texts    *i18n.Catalog
	menu     string
	scope    func(c tele.Context) (int64, error)
	onFinish tele.HandlerFunc
}

// NewDialog builds a Dialog and binds its message states on opts.FSM.
func NewDialog(opts Options) *Dialog {
	d := &Dialog{
		orch:     opts.Orchestrator,
		fsm:      opts.FSM,
		texts:    opts.Texts,
		menu:     opts.MenuData,
		scope:    opts.Scope,
		onFinish: opts.OnFinish,
	}
	d.fsm.Handle(StateCompose, d.onPost)
	d.fsm.Handle(StateTime, d.onTime)
	return d
}

// Register binds the dialogue callbacks. guard, when set, wraps every
// handler.
func (d *Dialog) Register(reg *tg.Registry, guard tele.MiddlewareFunc) error {
	handlers := map[callback.Kind]tele.HandlerFunc{
		callback.KindBroadcastDone:    d.Done,
		callback.KindBroadcastNow:     d.Now,
		callback.KindBroadcastLater:   d.Later,
		callback.KindBroadcastMoreYes: func(c tele.Context) error { return d.More(c, true) },
		callback.KindBroadcastMoreNo:  func(c tele.Context) error { return d.More(c, false) },
		callback.KindBroadcastCancel:  d.Cancel,
		callback.KindBroadcastJobs:    d.Jobs,
		callback.KindBroadcastUnsched: d.Unsched,
	}
	if d.scope != nil {
		handlers[callback.KindBroadcastMenu] = d.SegmentPicker
		handlers[callback.KindBroadcastSegment] = d.chooseSegment
		handlers[callback.KindBroadcastLang] = d.chooseLang
	}
	for kind, h := range handlers {
		if guard != nil {
			h = guard(h)
		}
		if err := reg.RegisterCallback(kind.String(), h); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dialog) btn(key string, kind callback.Kind) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: d.texts.Admin(key), Data: callback.Of(kind)}
}

func (d *Dialog) backBtn() keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: d.texts.Admin("btn_back"), Data: d.menu}
}

func (d *Dialog) composeKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{d.btn("btn_done", callback.KindBroadcastDone)},
		[]keyboard.InlineBtn{d.btn("btn_cancel", callback.KindBroadcastCancel)},
	)
}

func (d *Dialog) timeKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			d.btn("broadcast_time_now", callback.KindBroadcastNow),
			d.btn("broadcast_time_later", callback.KindBroadcastLater),
		},
		[]keyboard.InlineBtn{d.btn("btn_cancel", callback.KindBroadcastCancel)},
	)
}

func (d *Dialog) moreKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		d.btn("btn_yes", callback.KindBroadcastMoreYes),
		d.btn("btn_no", callback.KindBroadcastMoreNo),
	})
}

func (d *Dialog) cancelKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{d.btn("btn_cancel", callback.KindBroadcastCancel)})
}

func (d *Dialog) menuKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{d.backBtn()})
}

// SegmentPicker shows the audience choice for a tenant campaign.
func (d *Dialog) SegmentPicker(c tele.Context) error {
	var rows [][]keyboard.InlineBtn
	for _, f := range []model.SegmentFilter{model.FilterAll, model.FilterRegistered, model.FilterDeposited, model.FilterLanguage} {
		rows = append(rows, []keyboard.InlineBtn{{
			Text: d.texts.Admin("broadcast_seg_" + string(f)),
			Data: callback.Format(callback.Command{Kind: callback.KindBroadcastSegment, Arg: string(f)}),
		}})
	}
	rows = append(rows, []keyboard.InlineBtn{d.btn("btn_jobs", callback.KindBroadcastJobs)}, []keyboard.InlineBtn{d.backBtn()})
	return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_choose"), keyboard.InlineButtonsRows(rows...))
}

func (d *Dialog) chooseSegment(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	filter, ok := model.ParseSegmentFilter(cmd.Arg)
	if !ok {
		return helpers.Alert(c, d.texts.Admin("unknown_command"))
	}
	if filter == model.FilterLanguage {
		var buttons []keyboard.InlineBtn
		for _, l := range d.texts.Languages() {
			buttons = append(buttons, keyboard.InlineBtn{
				Text: l.Name,
				Data: callback.Format(callback.Command{Kind: callback.KindBroadcastLang, Arg: l.Code}),
			})
		}
		buttons = append(buttons, keyboard.InlineBtn{Text: d.texts.Admin("btn_back"), Data: callback.Of(callback.KindBroadcastMenu)})
		return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_lang_choose"), keyboard.InlineButtonsNPerRow(buttons, 2))
	}
	tenantID, err := d.scope(c)
	if err != nil {
		return d.fail(c, "segment", err)
	}
	return d.Begin(c, model.Segment{TenantID: tenantID, Filter: filter})
}

func (d *Dialog) chooseLang(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	if !d.texts.Supported(cmd.Arg) {
		return helpers.Alert(c, d.texts.Admin("unknown_command"))
	}
	tenantID, err := d.scope(c)
	if err != nil {
		return d.fail(c, "segment", err)
	}
	return d.Begin(c, model.Segment{TenantID: tenantID, Filter: model.FilterLanguage, Lang: cmd.Arg})
}

// Begin opens a campaign for seg and asks for the first post.
func (d *Dialog) Begin(c tele.Context, seg model.Segment) error {
	op := c.Sender().ID
	d.orch.Start(op, c.Chat().ID, seg)
	d.fsm.SetState(op, StateCompose)
	return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_prompt"), d.composeKeyboard())
}

func (d *Dialog) onPost(c tele.Context) error {
	op := c.Sender().ID
	p, ok := PostFromMessage(c.Message())
	if !ok {
		return helpers.SendHTML(c, d.texts.Admin("broadcast_prompt"), d.composeKeyboard())
	}
	n, err := d.orch.AddPost(op, p)
	if err != nil {
		return d.resume(c, err)
	}
	return helpers.SendHTML(c, d.texts.Admin("broadcast_post_added", i18n.Vars{"count": n}), d.composeKeyboard())
}

// Done closes post collection.
func (d *Dialog) Done(c tele.Context) error {
	err := d.orch.Finalize(c.Sender().ID)
	switch {
	case err == nil:
		return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_time_question"), d.timeKeyboard())
	case errors.Is(err, broadcast.ErrNoPosts):
		return helpers.Alert(c, d.texts.Admin("broadcast_no_posts"))
	}
	return d.resume(c, err)
}

// Now sends the collected posts and reports the counts.
func (d *Dialog) Now(c tele.Context) error {
	op := c.Sender().ID
	if sess, ok := d.orch.Session(op); !ok || sess.Stage != broadcast.StageAwaitingTimeChoice {
		return d.resume(c, broadcast.ErrWrongStage)
	}
	_ = helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_sending"))

	res, err := d.orch.SendNow(helpers.BuildContext(c), op)
	d.fsm.SetState(op, state.StateIdle)
	if err != nil {
		return d.resume(c, err)
	}
	text := d.texts.Admin("broadcast_done", i18n.Vars{"sent": res.Sent, "failed": res.Failed})
	if res.Empty {
		text = d.texts.Admin("broadcast_empty")
	}
	return helpers.SendHTML(c, text+"\n\n"+d.texts.Admin("broadcast_more_question"), d.moreKeyboard())
}

// Later asks for a time of day.
func (d *Dialog) Later(c tele.Context) error {
	op := c.Sender().ID
	if err := d.orch.ChooseLater(op); err != nil {
		return d.resume(c, err)
	}
	d.fsm.SetState(op, StateTime)
	return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_time_hint"), d.cancelKeyboard())
}

func (d *Dialog) onTime(c tele.Context) error {
	op := c.Sender().ID
	job, err := d.orch.Schedule(op, c.Text())
	switch {
	case errors.Is(err, broadcast.ErrBadTime):
		return helpers.SendHTML(c, d.texts.Admin("broadcast_time_parse_error"), d.cancelKeyboard())
	case err != nil:
		return d.resume(c, err)
	}
	d.fsm.SetState(op, StateCompose)
	text := d.texts.Admin("broadcast_scheduled", i18n.Vars{"time": d.clock(job.At)}) +
		"\n\n" + d.texts.Admin("broadcast_prompt")
	return helpers.SendHTML(c, text, d.composeKeyboard())
}

// More answers "send another post?".
func (d *Dialog) More(c tele.Context, yes bool) error {
	op := c.Sender().ID
	if err := d.orch.More(op, yes); err != nil {
		return d.resume(c, err)
	}
	if yes {
		d.fsm.SetState(op, StateCompose)
		return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_prompt"), d.composeKeyboard())
	}
	d.fsm.SetState(op, state.StateIdle)
	return d.finish(c)
}

// Cancel drops the campaign in progress.
func (d *Dialog) Cancel(c tele.Context) error {
	op := c.Sender().ID
	d.orch.Cancel(op)
	d.fsm.SetState(op, state.StateIdle)
	return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_cancelled"), d.menuKeyboard())
}

// Jobs lists scheduled campaigns with a cancel button each.
func (d *Dialog) Jobs(c tele.Context) error {
	jobs := d.orch.Jobs()
	if len(jobs) == 0 {
		return helpers.EditOrSendHTML(c, d.texts.Admin("jobs_empty"), d.menuKeyboard())
	}
	lines := []string{"<b>" + d.texts.Admin("jobs_header") + "</b>", ""}
	var rows [][]keyboard.InlineBtn
	for _, j := range jobs {
		lines = append(lines, d.texts.Admin("job_line", i18n.Vars{
			"time":    d.clock(j.At),
			"segment": format.EscapeHTML(SegmentLabel(d.texts, j.Segment)),
			"posts":   len(j.Posts),
		}))
		rows = append(rows, []keyboard.InlineBtn{{
			Text: "❌ " + d.clock(j.At),
			Data: callback.Format(callback.Command{Kind: callback.KindBroadcastUnsched, Arg: j.ID}),
		}})
	}
	rows = append(rows, []keyboard.InlineBtn{d.backBtn()})
	return helpers.EditOrSendHTML(c, strings.Join(lines, "\n"), keyboard.InlineButtonsRows(rows...))
}

// Unsched cancels one scheduled campaign and refreshes the list.
func (d *Dialog) Unsched(c tele.Context) error {
	cmd, _ := callbacks.Payload[callback.Command](c)
	key := "job_missing"
	if d.orch.CancelJob(cmd.Arg) {
		key = "job_cancelled"
	}
	_ = helpers.Alert(c, d.texts.Admin(key))
	return d.Jobs(c)
}

// resume answers a stage mismatch by re-asking the question of the
// current stage; a missing session sends the operator back to the menu.
func (d *Dialog) resume(c tele.Context, err error) error {
	op := c.Sender().ID
	switch {
	case errors.Is(err, broadcast.ErrNoSession):
		d.fsm.SetState(op, state.StateIdle)
		return helpers.EditOrSendHTML(c, d.texts.Admin("broadcast_session_missing"), d.menuKeyboard())
	case errors.Is(err, broadcast.ErrWrongStage):
		sess, ok := d.orch.Session(op)
		if !ok {
			return d.resume(c, broadcast.ErrNoSession)
		}
		return d.prompt(c, sess.Stage)
	}
	return d.fail(c, "broadcast", err)
}

func (d *Dialog) prompt(c tele.Context, stage broadcast.Stage) error {
	op := c.Sender().ID
	switch stage {
	case broadcast.StageCollectingPosts:
		d.fsm.SetState(op, StateCompose)
		return helpers.SendHTML(c, d.texts.Admin("broadcast_prompt"), d.composeKeyboard())
	case broadcast.StageAwaitingTimeChoice:
		d.fsm.SetState(op, state.StateIdle)
		return helpers.SendHTML(c, d.texts.Admin("broadcast_time_question"), d.timeKeyboard())
	case broadcast.StageAwaitingScheduleTime:
		d.fsm.SetState(op, StateTime)
		return helpers.SendHTML(c, d.texts.Admin("broadcast_time_hint"), d.cancelKeyboard())
	default:
		d.fsm.SetState(op, state.StateIdle)
		return helpers.SendHTML(c, d.texts.Admin("broadcast_more_question"), d.moreKeyboard())
	}
}

func (d *Dialog) finish(c tele.Context) error {
	if d.onFinish != nil {
		return d.onFinish(c)
	}
	return helpers.EditOrSendHTML(c, d.texts.Admin("menu"), d.menuKeyboard())
}

func (d *Dialog) fail(c tele.Context, op string, err error) error {
	logger.Error(helpers.BuildContext(c), component, op,
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
	return helpers.Alert(c, d.texts.Admin("error_generic"))
}

func (d *Dialog) clock(at time.Time) string {
	return at.In(d.orch.Location()).Format("02.01 15:04")
}

// SegmentLabel renders a segment for operators.
func SegmentLabel(texts *i18n.Catalog, seg model.Segment) string {
	f := seg.Filter
	if f == "" {
		f = model.FilterAll
	}
	label := texts.Admin("broadcast_seg_" + string(f))
	if f == model.FilterLanguage {
		label += " (" + seg.Lang + ")"
	}
	if seg.Global() {
		label = "🌍 " + label
	}
	return label
}

// JobReporter returns a broadcast.Config.OnJobDone hook that tells the
// operator how a scheduled campaign went.
func JobReporter(bot *tele.Bot, texts *i18n.Catalog) func(ctx context.Context, job broadcast.Job, res broadcast.Result, err error) {
	return func(ctx context.Context, job broadcast.Job, res broadcast.Result, err error) {
		text := "⏰ " + texts.Admin("broadcast_done", i18n.Vars{"sent": res.Sent, "failed": res.Failed})
		switch {
		case err != nil:
			text = "⏰ " + texts.Admin("error_generic")
		case res.Empty:
			text = "⏰ " + texts.Admin("broadcast_empty")
		}
		if _, sendErr := bot.Send(tele.ChatID(job.ChatID), text, tele.ModeHTML); sendErr != nil {
			logger.Warn(ctx, component, "job.report",
				slog.String("job_id", job.ID),
				slog.String("err", sendErr.Error()),
			)
		}
	}
}

// SweepIdle drops idle campaign dialogues every interval until ctx is done.
func SweepIdle(ctx context.Context, orch *broadcast.Orchestrator, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := orch.SweepIdle(); n > 0 {
				logger.Debug(ctx, component, "sessions.swept", slog.Int("count", n))
			}
		}
	}
}

package funnel

import (
	"net/url"
	"strconv"

	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/model"
)

// Screen names a funnel screen. It doubles as the asset file stem.
type Screen string

const (
	ScreenLanguage    Screen = "lang"
	ScreenMenu        Screen = "menu"
	ScreenInstruction Screen = "instruction"
	ScreenSubscribe   Screen = "subscribe"
	ScreenRegister    Screen = "register"
	ScreenDeposit     Screen = "deposit"
	ScreenAccess      Screen = "access"
)

// placeholderLink stands in for links the operator has not configured yet.
const placeholderLink = "https://t.me"

// Button is one inline control. Exactly one of URL, WebApp or Data is set.
type Button struct {
	Text   string
	URL    string
	WebApp string
	Data   string
}

// View is a rendered screen ready for the transport.
type View struct {
	Screen Screen
	Lang   string
	Text   string
	Rows   [][]Button
}

// RefLink sets the click_id query parameter of base to the user id,
// replacing any existing value.
func RefLink(base string, userID int64) string {
	if base == "" {
		base = placeholderLink
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("click_id", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func deref(s *string, def string) string {
	if s != nil && *s != "" {
		return *s
	}
	return def
}

func (m *Machine) title(lang, titleKey, bodyKey string) string {
	return m.texts.User(lang, titleKey) + "\n\n" + m.texts.User(lang, bodyKey)
}

func (m *Machine) backButton(lang string) []Button {
	return []Button{{Text: m.texts.User(lang, "back_to_menu"), Data: callback.Of(callback.KindMenuBack)}}
}

func (m *Machine) supportURL(t model.Tenant) string {
	return deref(t.SupportURL, m.settings.DefaultSupportURL)
}

func (m *Machine) miniAppURL(t model.Tenant) string {
	return deref(t.MiniAppURL, m.settings.MiniAppURL)
}

// signalButton opens the mini app once access is granted. Without a mini
// app URL it falls back to the signal callback, like a user still in the
// funnel.
func (m *Machine) signalButton(t model.Tenant, lang string, granted bool) Button {
	b := Button{Text: m.texts.User(lang, "btn_signal")}
	if u := m.miniAppURL(t); granted && u != "" {
		b.WebApp = u
		return b
	}
	b.Data = callback.Of(callback.KindMenuSignal)
	return b
}

// LanguageView lists every selectable language, two per row.
func (m *Machine) LanguageView() View {
	lang := m.settings.DefaultLang
	var rows [][]Button
	var row []Button
	for _, l := range m.texts.Languages() {
		row = append(row, Button{Text: l.Name, Data: callback.Format(callback.Command{Kind: callback.KindLang, Arg: l.Code})})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return View{Screen: ScreenLanguage, Lang: lang, Text: m.texts.User(lang, "choose_lang"), Rows: rows}
}

// MenuView renders the main menu. With granted access the signal button
// opens the mini app directly, otherwise it re-enters the funnel.
func (m *Machine) MenuView(t model.Tenant, lang string, granted bool) View {
	rows := [][]Button{
		{{Text: m.texts.User(lang, "btn_instruction"), Data: callback.Of(callback.KindMenuInstruction)}},
	}
	var second []Button
	if u := m.supportURL(t); u != "" {
		second = append(second, Button{Text: m.texts.User(lang, "btn_support"), URL: u})
	}
	second = append(second, Button{Text: m.texts.User(lang, "btn_lang"), Data: callback.Of(callback.KindMenuLang)})
	rows = append(rows, second)

	rows = append(rows, []Button{m.signalButton(t, lang, granted)})

	return View{Screen: ScreenMenu, Lang: lang, Text: m.title(lang, "menu_title", "menu_body"), Rows: rows}
}

// InstructionView renders the how-to screen.
func (m *Machine) InstructionView(lang string) View {
	return View{
		Screen: ScreenInstruction,
		Lang:   lang,
		Text:   m.title(lang, "instruction_title", "instruction_body"),
		Rows:   [][]Button{m.backButton(lang)},
	}
}

func (m *Machine) subscribeView(t model.Tenant, lang string) View {
	return View{
		Screen: ScreenSubscribe,
		Lang:   lang,
		Text:   m.title(lang, "sub_title", "sub_body"),
		Rows: [][]Button{
			{{Text: m.texts.User(lang, "btn_subscribe"), URL: deref(t.GateChannelURL, placeholderLink)}},
			{{Text: m.texts.User(lang, "btn_i_subscribed"), Data: callback.Of(callback.KindSubscribed)}},
			m.backButton(lang),
		},
	}
}

func (m *Machine) registerView(t model.Tenant, lang string, userID int64) View {
	return View{
		Screen: ScreenRegister,
		Lang:   lang,
		Text:   m.title(lang, "reg_title", "reg_body"),
		Rows: [][]Button{
			{{Text: m.texts.User(lang, "btn_register"), URL: RefLink(deref(t.RefLink, ""), userID)}},
			m.backButton(lang),
		},
	}
}

func (m *Machine) depositView(t model.Tenant, lang string) View {
	return View{
		Screen: ScreenDeposit,
		Lang:   lang,
		Text:   m.title(lang, "dep_title", "dep_body"),
		Rows: [][]Button{
			{{Text: m.texts.User(lang, "btn_deposit"), URL: deref(t.DepositLink, placeholderLink)}},
			m.backButton(lang),
		},
	}
}

func (m *Machine) accessView(t model.Tenant, lang string) View {
	second := []Button{}
	if u := m.supportURL(t); u != "" {
		second = append(second, Button{Text: m.texts.User(lang, "btn_support"), URL: u})
	}
	second = append(second, m.backButton(lang)...)
	return View{
		Screen: ScreenAccess,
		Lang:   lang,
		Text:   m.title(lang, "access_title", "access_body"),
		Rows: [][]Button{
			{m.signalButton(t, lang, true)},
			second,
		},
	}
}

// Package callback defines the closed grammar of inline button identifiers.
//
// Identifiers are colon-delimited, for example "adm:user:reg:42" or
// "bc:seg:lang". Parse validates them once at the boundary and returns a
// typed Command; Format is its inverse and is the only way buttons are built.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknown is returned for identifiers outside the grammar.
var ErrUnknown = errors.New("callback: unrecognized identifier")

// Kind enumerates every recognized command.
type Kind int

const (
	KindUnknown Kind = iota

	// end-user funnel
	KindLang            // lang:<code>
	KindMenuLang        // menu:lang
	KindMenuInstruction // menu:instruction
	KindMenuBack        // menu:back
	KindMenuSignal      // menu:signal
	KindSubscribed      // signal:sub_ok

	// tenant admin panel
	KindAdminMenu        // adm:menu
	KindAdminUsers       // adm:users[:page:<n>]
	KindAdminUsersSearch // adm:users:search
	KindAdminUserShow    // adm:user:show:<uid>
	KindAdminUserReg     // adm:user:reg:<uid>
	KindAdminUserDep     // adm:user:dep:<uid>
	KindAdminUserDelete  // adm:user:del:<uid>
	KindAdminParams      // adm:params
	KindAdminToggleSub   // adm:params:sub
	KindAdminToggleDep   // adm:params:dep
	KindAdminLinks       // adm:links
	KindAdminLinkSet     // adm:links:set:<field>
	KindAdminEvents      // adm:events
	KindAdminStats       // adm:stats

	// broadcast dialogue
	KindBroadcastMenu    // bc:menu
	KindBroadcastSegment // bc:seg:<all|reg|dep|lang>
	KindBroadcastLang    // bc:lang:<code>
	KindBroadcastGlobal  // bc:global
	KindBroadcastTenants // bc:tenants
	KindBroadcastTenant  // bc:tenant:<id>
	KindBroadcastDone    // bc:done
	KindBroadcastNow     // bc:time:now
	KindBroadcastLater   // bc:time:later
	KindBroadcastMoreYes // bc:more:yes
	KindBroadcastMoreNo  // bc:more:no
	KindBroadcastCancel  // bc:cancel
	KindBroadcastJobs    // bc:jobs
	KindBroadcastUnsched // bc:unsched:<job-id>

	// parent bot global admin
	KindGlobalMenu   // ga:menu
	KindClients      // ga:clients
	KindClientShow   // ga:client:show:<id>
	KindClientDelete // ga:client:del:<id>
)

var kindNames = map[Kind]string{
	KindLang:             "lang",
	KindMenuLang:         "menu.lang",
	KindMenuInstruction:  "menu.instruction",
	KindMenuBack:         "menu.back",
	KindMenuSignal:       "menu.signal",
	KindSubscribed:       "signal.sub_ok",
	KindAdminMenu:        "adm.menu",
	KindAdminUsers:       "adm.users",
	KindAdminUsersSearch: "adm.users.search",
	KindAdminUserShow:    "adm.user.show",
	KindAdminUserReg:     "adm.user.reg",
	KindAdminUserDep:     "adm.user.dep",
	KindAdminUserDelete:  "adm.user.del",
	KindAdminParams:      "adm.params",
	KindAdminToggleSub:   "adm.params.sub",
	KindAdminToggleDep:   "adm.params.dep",
	KindAdminLinks:       "adm.links",
	KindAdminLinkSet:     "adm.links.set",
	KindAdminEvents:      "adm.events",
	KindAdminStats:       "adm.stats",
	KindBroadcastMenu:    "bc.menu",
	KindBroadcastSegment: "bc.seg",
	KindBroadcastLang:    "bc.lang",
	KindBroadcastGlobal:  "bc.global",
	KindBroadcastTenants: "bc.tenants",
	KindBroadcastTenant:  "bc.tenant",
	KindBroadcastDone:    "bc.done",
	KindBroadcastNow:     "bc.time.now",
	KindBroadcastLater:   "bc.time.later",
	KindBroadcastMoreYes: "bc.more.yes",
	KindBroadcastMoreNo:  "bc.more.no",
	KindBroadcastCancel:  "bc.cancel",
	KindBroadcastJobs:    "bc.jobs",
	KindBroadcastUnsched: "bc.unsched",
	KindGlobalMenu:       "ga.menu",
	KindClients:          "ga.clients",
	KindClientShow:       "ga.client.show",
	KindClientDelete:     "ga.client.del",
}

// String returns the dotted name used as the registry key and in logs.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Kinds lists every recognized kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindLang; k <= KindClientDelete; k++ {
		out = append(out, k)
	}
	return out
}

// Link fields editable from the admin panel.
const (
	LinkRef        = "ref"
	LinkDeposit    = "dep"
	LinkSupport    = "support"
	LinkChannelID  = "chanid"
	LinkChannelURL = "chanurl"
	LinkMiniApp    = "app"
	LinkSecret     = "secret"
)

var linkFields = map[string]struct{}{
	LinkRef: {}, LinkDeposit: {}, LinkSupport: {}, LinkChannelID: {}, LinkChannelURL: {},
	LinkMiniApp: {}, LinkSecret: {},
}

var segmentTokens = map[string]struct{}{
	"all": {}, "reg": {}, "dep": {}, "lang": {},
}

// Command is a parsed identifier. Arg carries a string payload (language
// code, segment token, link field, job id); ID carries a numeric entity id
// (user id, tenant id); Page is the list page for KindAdminUsers.
type Command struct {
	Kind Kind
	Arg  string
	ID   int64
	Page int
}

// Parse decodes raw callback data. A leading "\f" (telebot's unique
// marker) is ignored.
func Parse(raw string) (Command, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\f"))
	if raw == "" || len(raw) > 64 {
		return Command{}, ErrUnknown
	}
	p := strings.Split(raw, ":")
	for _, part := range p {
		if part == "" {
			return Command{}, ErrUnknown
		}
	}

	switch p[0] {
	case "lang":
		if len(p) == 2 && validLangCode(p[1]) {
			return Command{Kind: KindLang, Arg: p[1]}, nil
		}
	case "menu":
		if len(p) == 2 {
			switch p[1] {
			case "lang":
				return Command{Kind: KindMenuLang}, nil
			case "instruction":
				return Command{Kind: KindMenuInstruction}, nil
			case "back":
				return Command{Kind: KindMenuBack}, nil
			case "signal":
				return Command{Kind: KindMenuSignal}, nil
			}
		}
	case "signal":
		if len(p) == 2 && p[1] == "sub_ok" {
			return Command{Kind: KindSubscribed}, nil
		}
	case "adm":
		return parseAdmin(p[1:])
	case "bc":
		return parseBroadcast(p[1:])
	case "ga":
		return parseGlobal(p[1:])
	}
	return Command{}, ErrUnknown
}

func parseAdmin(p []string) (Command, error) {
	if len(p) == 0 {
		return Command{}, ErrUnknown
	}
	switch p[0] {
	case "menu", "events", "stats":
		if len(p) == 1 {
			return Command{Kind: map[string]Kind{
				"menu": KindAdminMenu, "events": KindAdminEvents, "stats": KindAdminStats,
			}[p[0]]}, nil
		}
	case "users":
		switch {
		case len(p) == 1:
			return Command{Kind: KindAdminUsers}, nil
		case len(p) == 2 && p[1] == "search":
			return Command{Kind: KindAdminUsersSearch}, nil
		case len(p) == 3 && p[1] == "page":
			n, err := strconv.Atoi(p[2])
			if err == nil && n >= 0 {
				return Command{Kind: KindAdminUsers, Page: n}, nil
			}
		}
	case "user":
		if len(p) != 3 {
			break
		}
		id, err := strconv.ParseInt(p[2], 10, 64)
		if err != nil || id <= 0 {
			break
		}
		kinds := map[string]Kind{
			"show": KindAdminUserShow, "reg": KindAdminUserReg,
			"dep": KindAdminUserDep, "del": KindAdminUserDelete,
		}
		if k, ok := kinds[p[1]]; ok {
			return Command{Kind: k, ID: id}, nil
		}
	case "params":
		switch {
		case len(p) == 1:
			return Command{Kind: KindAdminParams}, nil
		case len(p) == 2 && p[1] == "sub":
			return Command{Kind: KindAdminToggleSub}, nil
		case len(p) == 2 && p[1] == "dep":
			return Command{Kind: KindAdminToggleDep}, nil
		}
	case "links":
		switch {
		case len(p) == 1:
			return Command{Kind: KindAdminLinks}, nil
		case len(p) == 3 && p[1] == "set":
			if _, ok := linkFields[p[2]]; ok {
				return Command{Kind: KindAdminLinkSet, Arg: p[2]}, nil
			}
		}
	}
	return Command{}, ErrUnknown
}

func parseBroadcast(p []string) (Command, error) {
	if len(p) == 0 {
		return Command{}, ErrUnknown
	}
	switch p[0] {
	case "seg":
		if len(p) == 2 {
			if _, ok := segmentTokens[p[1]]; ok {
				return Command{Kind: KindBroadcastSegment, Arg: p[1]}, nil
			}
		}
	case "lang":
		if len(p) == 2 && validLangCode(p[1]) {
			return Command{Kind: KindBroadcastLang, Arg: p[1]}, nil
		}
	case "menu", "global", "tenants", "done", "cancel", "jobs":
		if len(p) == 1 {
			return Command{Kind: map[string]Kind{
				"menu": KindBroadcastMenu, "global": KindBroadcastGlobal, "tenants": KindBroadcastTenants,
				"done": KindBroadcastDone, "cancel": KindBroadcastCancel, "jobs": KindBroadcastJobs,
			}[p[0]]}, nil
		}
	case "tenant":
		if len(p) == 2 {
			if id, err := strconv.ParseInt(p[1], 10, 64); err == nil && id > 0 {
				return Command{Kind: KindBroadcastTenant, ID: id}, nil
			}
		}
	case "time":
		if len(p) == 2 && p[1] == "now" {
			return Command{Kind: KindBroadcastNow}, nil
		}
		if len(p) == 2 && p[1] == "later" {
			return Command{Kind: KindBroadcastLater}, nil
		}
	case "more":
		if len(p) == 2 && p[1] == "yes" {
			return Command{Kind: KindBroadcastMoreYes}, nil
		}
		if len(p) == 2 && p[1] == "no" {
			return Command{Kind: KindBroadcastMoreNo}, nil
		}
	case "unsched":
		if len(p) == 2 && len(p[1]) <= 40 {
			return Command{Kind: KindBroadcastUnsched, Arg: p[1]}, nil
		}
	}
	return Command{}, ErrUnknown
}

func parseGlobal(p []string) (Command, error) {
	switch {
	case len(p) == 1 && p[0] == "menu":
		return Command{Kind: KindGlobalMenu}, nil
	case len(p) == 1 && p[0] == "clients":
		return Command{Kind: KindClients}, nil
	case len(p) == 3 && p[0] == "client":
		id, err := strconv.ParseInt(p[2], 10, 64)
		if err != nil || id <= 0 {
			break
		}
		switch p[1] {
		case "show":
			return Command{Kind: KindClientShow, ID: id}, nil
		case "del":
			return Command{Kind: KindClientDelete, ID: id}, nil
		}
	}
	return Command{}, ErrUnknown
}

func validLangCode(s string) bool {
	if len(s) < 2 || len(s) > 8 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '-' {
			return false
		}
	}
	return true
}

// Format encodes c back into callback data. It panics on a kind outside
// the grammar, which is a programming error.
func Format(c Command) string {
	id := strconv.FormatInt(c.ID, 10)
	switch c.Kind {
	case KindLang:
		return "lang:" + c.Arg
	case KindMenuLang:
		return "menu:lang"
	case KindMenuInstruction:
		return "menu:instruction"
	case KindMenuBack:
		return "menu:back"
	case KindMenuSignal:
		return "menu:signal"
	case KindSubscribed:
		return "signal:sub_ok"
	case KindAdminMenu:
		return "adm:menu"
	case KindAdminUsers:
		if c.Page > 0 {
			return "adm:users:page:" + strconv.Itoa(c.Page)
		}
		return "adm:users"
	case KindAdminUsersSearch:
		return "adm:users:search"
	case KindAdminUserShow:
		return "adm:user:show:" + id
	case KindAdminUserReg:
		return "adm:user:reg:" + id
	case KindAdminUserDep:
		return "adm:user:dep:" + id
	case KindAdminUserDelete:
		return "adm:user:del:" + id
	case KindAdminParams:
		return "adm:params"
	case KindAdminToggleSub:
		return "adm:params:sub"
	case KindAdminToggleDep:
		return "adm:params:dep"
	case KindAdminLinks:
		return "adm:links"
	case KindAdminLinkSet:
		return "adm:links:set:" + c.Arg
	case KindAdminEvents:
		return "adm:events"
	case KindAdminStats:
		return "adm:stats"
	case KindBroadcastMenu:
		return "bc:menu"
	case KindBroadcastSegment:
		return "bc:seg:" + c.Arg
	case KindBroadcastLang:
		return "bc:lang:" + c.Arg
	case KindBroadcastGlobal:
		return "bc:global"
	case KindBroadcastTenants:
		return "bc:tenants"
	case KindBroadcastTenant:
		return "bc:tenant:" + id
	case KindBroadcastDone:
		return "bc:done"
	case KindBroadcastNow:
		return "bc:time:now"
	case KindBroadcastLater:
		return "bc:time:later"
	case KindBroadcastMoreYes:
		return "bc:more:yes"
	case KindBroadcastMoreNo:
		return "bc:more:no"
	case KindBroadcastCancel:
		return "bc:cancel"
	case KindBroadcastJobs:
		return "bc:jobs"
	case KindBroadcastUnsched:
		return "bc:unsched:" + c.Arg
	case KindGlobalMenu:
		return "ga:menu"
	case KindClients:
		return "ga:clients"
	case KindClientShow:
		return "ga:client:show:" + id
	case KindClientDelete:
		return "ga:client:del:" + id
	}
	panic(fmt.Sprintf("callback: cannot format kind %d", c.Kind))
}

// Of is shorthand for Format(Command{Kind: k}).
func Of(k Kind) string { return Format(Command{Kind: k}) }

// Decode adapts Parse to the callback router: the registry key is the
// kind's dotted name and the payload is the parsed Command.
func Decode(data string) (string, any, error) {
	cmd, err := Parse(data)
	if err != nil {
		return "", nil, err
	}
	return cmd.Kind.String(), cmd, nil
}

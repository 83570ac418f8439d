// Package l10n resolves user-facing error message keys to localized
// text. The server formats the raw reason at the point an error becomes
// visible to a client; internal logs keep the raw (English) key instead.
//
// No Fluent-equivalent message-catalog library appears anywhere in the
// example pack's dependency set, so this is deliberately a small
// stdlib-only map-of-maps rather than a port of Fluent's bundle/pattern
// machinery — see DESIGN.md.
package l10n

import (
	"context"
	"fmt"

	"github.com/noteflow/mp-server/internal/logging"
)

// Language is a BCP-47-ish tag restricted to the catalog's supported set.
type Language string

const (
	EnUS Language = "en-US"
	ZhCN Language = "zh-CN"
	ZhTW Language = "zh-TW"

	defaultLanguage = EnUS
)

// ParseLanguage maps an arbitrary tag to a supported Language, defaulting
// to en-US for anything unrecognized.
func ParseLanguage(s string) Language {
	switch Language(s) {
	case EnUS, ZhCN, ZhTW:
		return Language(s)
	default:
		return defaultLanguage
	}
}

type contextKey struct{}

// WithLanguage attaches lang to ctx for later Format calls — the Go
// analogue of the reference implementation's task-local language scope.
func WithLanguage(ctx context.Context, lang Language) context.Context {
	return context.WithValue(ctx, contextKey{}, lang)
}

// FromContext returns the language attached by WithLanguage, or en-US.
func FromContext(ctx context.Context) Language {
	if lang, ok := ctx.Value(contextKey{}).(Language); ok {
		return lang
	}
	return defaultLanguage
}

// catalog holds one message template per key per language. Templates use
// fmt.Sprintf verbs; Format substitutes positional args.
var catalog = map[Language]map[string]string{
	EnUS: {
		"create-id-occupied":      "a room with this id already exists",
		"join-room-full":          "room is full",
		"join-room-locked":        "room is locked",
		"join-game-ongoing":       "a round is already in progress",
		"start-no-chart-selected": "no chart has been selected",
		"already-in-room":         "already in a room",
		"no-room":                 "not in a room",
		"room-not-found":          "room not found",
		"host-only":               "only the host can do this",
		"invalid-token":           "invalid token",
		"repeated-authenticate":   "repeated authenticate",
		"invalid-state":           "invalid room state for this request",
		"already-ready":           "already ready",
		"not-ready":               "not ready",
		"already-uploaded":        "result already uploaded",
		"invalid-record":          "record does not belong to you",
		"monitor-not-permitted":   "not permitted to join as a monitor",
		"already-aborted":         "already aborted",
	},
	ZhCN: {
		"create-id-occupied":      "该房间号已被占用",
		"join-room-full":         "房间已满",
		"join-room-locked":       "房间已锁定",
		"join-game-ongoing":      "对局正在进行中",
		"start-no-chart-selected": "尚未选择谱面",
		"already-in-room":        "已在房间中",
		"no-room":                "不在房间中",
		"room-not-found":         "房间不存在",
		"host-only":              "只有房主可以执行此操作",
		"invalid-token":          "无效的令牌",
		"repeated-authenticate":  "重复的身份验证",
		"invalid-state":          "当前房间状态不支持此操作",
		"already-ready":          "已准备",
		"not-ready":              "尚未准备",
		"already-uploaded":       "成绩已提交",
		"invalid-record":         "成绩记录不属于你",
		"monitor-not-permitted":  "无权以观察者身份加入",
		"already-aborted":        "已中止",
	},
	ZhTW: {
		"create-id-occupied":      "該房間號已被佔用",
		"join-room-full":         "房間已滿",
		"join-room-locked":       "房間已鎖定",
		"join-game-ongoing":      "對局正在進行中",
		"start-no-chart-selected": "尚未選擇譜面",
		"already-in-room":        "已在房間中",
		"no-room":                "不在房間中",
		"room-not-found":         "房間不存在",
		"host-only":              "只有房主可以執行此操作",
		"invalid-token":          "無效的權杖",
		"repeated-authenticate":  "重複的身份驗證",
		"invalid-state":          "目前房間狀態不支援此操作",
		"already-ready":          "已準備",
		"not-ready":              "尚未準備",
		"already-uploaded":       "成績已提交",
		"invalid-record":         "成績記錄不屬於你",
		"monitor-not-permitted":  "無權以觀察者身份加入",
		"already-aborted":        "已中止",
	},
}

// Format resolves key in ctx's language, falling back to en-US if the
// language's catalog lacks the key, and to the bare key if no catalog
// has it at all (logged, never a panic — the reference implementation
// panics on a missing key, which is not a failure mode worth porting).
func Format(ctx context.Context, key string, args ...interface{}) string {
	lang := FromContext(ctx)
	tmpl, ok := catalog[lang][key]
	if !ok {
		tmpl, ok = catalog[defaultLanguage][key]
	}
	if !ok {
		logging.L().Error("l10n_missing_key", "key", key, "lang", lang)
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

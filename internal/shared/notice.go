package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/odyssey-erp/ledgerdesk/internal/session"
)

// FlashMessage is a notice rendered for the user.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var supportedLanguages = []language.Tag{
	language.English,
	language.SimplifiedChinese,
}

var noticeTexts = map[string][2]string{
	session.NoticeSessionExpired: {
		"Your session expired after 30 minutes of inactivity. Please sign in again.",
		"长时间未操作，登录已过期，请重新登录",
	},
	session.NoticeSessionInvalid: {
		"Your session is no longer valid. Please sign in again.",
		"登录状态已失效，请重新登录",
	},
}

// Localizer renders session notices in the caller's language.
type Localizer struct {
	catalog catalog.Catalog
	matcher language.Matcher
}

// NewLocalizer builds the notice catalog.
func NewLocalizer() *Localizer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for code, texts := range noticeTexts {
		for i, tag := range supportedLanguages {
			_ = b.SetString(tag, code, texts[i])
		}
	}
	return &Localizer{catalog: b, matcher: language.NewMatcher(supportedLanguages)}
}

// Localize renders n for an Accept-Language header value. Unknown codes are
// rendered verbatim.
func (l *Localizer) Localize(acceptLanguage string, n session.Notice) FlashMessage {
	tags, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	_, idx, _ := l.matcher.Match(tags...)
	p := message.NewPrinter(supportedLanguages[idx], message.Catalog(l.catalog))
	return FlashMessage{Kind: n.Kind, Code: n.Code, Message: p.Sprintf(n.Code)}
}

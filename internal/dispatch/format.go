package dispatch

import (
	"strings"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// noticeDateLayout renders parsed dates the way the circulars page prints
// them, so messages look the same whether the raw string survived or not.
const noticeDateLayout = "02/01/2006"

// FormatNotice renders one notice as a Markdown message. The layout leads
// with a header line, then the title lines chosen by showOriginal and the
// translation outcome, the date when one is known, and the document link.
func FormatNotice(n notices.Notice, showOriginal bool) string {
	var b strings.Builder
	b.WriteString("📢 *New Circular Released*\n")

	if showOriginal {
		b.WriteString("*Original Title:* " + n.Title + "\n")
	}
	switch {
	case n.Translated && n.TitleTranslated != "" && n.TitleTranslated != n.Title:
		b.WriteString("*English Title:* " + n.TitleTranslated + "\n")
	case !showOriginal:
		b.WriteString("*Title:* " + n.Title + "\n")
	}

	if date := noticeDate(n); date != "" {
		b.WriteString("*Date:* " + date + "\n")
	}
	if n.URL != "" {
		b.WriteString("[View PDF](" + n.URL + ")")
	}
	return strings.TrimRight(b.String(), "\n")
}

// noticeDate prefers the page's own date string and falls back to the parsed
// value.
func noticeDate(n notices.Notice) string {
	if n.RawDate != "" {
		return n.RawDate
	}
	if n.Published != nil {
		return n.Published.Format(noticeDateLayout)
	}
	return ""
}

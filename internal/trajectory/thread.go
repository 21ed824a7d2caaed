package trajectory

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

var (
	replyPrefixRe  = regexp.MustCompile(`(?i)^(Re:\s*|Fwd:\s*|FW:\s*)+`)
	ticketPrefixRe = regexp.MustCompile(`^\[[A-Za-z]+-\d+\]\s*`)
)

// NormalizeTitle derives a thread key: reply and forward markers and a
// leading ticket key are removed, then the rest is lower-cased. An empty
// key means the signal does not belong to any thread.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}
	s := norm.NFKC.String(title)
	s = strings.TrimSpace(replyPrefixRe.ReplaceAllString(s, ""))
	s = strings.TrimSpace(ticketPrefixRe.ReplaceAllString(s, ""))
	return strings.ToLower(s)
}

// Thread is every signal of one product sharing a normalized title.
type Thread struct {
	Key    string
	Events []*signal.Event
}

// GroupThreads buckets events by thread key. Threads come back in order of
// first appearance and each thread is sorted chronologically. Signals with
// an empty key are left out.
func GroupThreads(events []*signal.Event) []Thread {
	index := make(map[string]int)
	var threads []Thread
	for _, e := range events {
		key := NormalizeTitle(e.Title)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(threads)
			index[key] = i
			threads = append(threads, Thread{Key: key})
		}
		threads[i].Events = append(threads[i].Events, e)
	}
	for i := range threads {
		signal.SortChronological(threads[i].Events)
	}
	return threads
}

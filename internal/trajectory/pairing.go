package trajectory

import "github.com/joelkehle/adoption-trajectory/internal/signal"

// Pair is a creation (or reopen) matched with the resolution that closed it.
type Pair struct {
	Created  *signal.Event
	Resolved *signal.Event
}

func isLifecycle(eventType string) bool {
	switch eventType {
	case signal.EventTicketCreated, signal.EventTicketReopened, signal.EventTicketResolved:
		return true
	}
	return false
}

// PairTickets matches lifecycle events within a ticket, keyed by source id
// and falling back to the normalized title. Creations and reopens queue up;
// each resolution closes the earliest one still open. No signal appears in
// more than one pair.
func PairTickets(events []*signal.Event) []Pair {
	index := make(map[string]int)
	var groups [][]*signal.Event
	for _, e := range events {
		if !isLifecycle(e.EventType) {
			continue
		}
		var key string
		switch {
		case e.SourceID != "":
			key = "id:" + e.SourceID
		case NormalizeTitle(e.Title) != "":
			key = "title:" + NormalizeTitle(e.Title)
		default:
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}

	var pairs []Pair
	for _, group := range groups {
		sorted := append([]*signal.Event(nil), group...)
		signal.SortChronological(sorted)
		var pending []*signal.Event
		for _, e := range sorted {
			switch e.EventType {
			case signal.EventTicketCreated, signal.EventTicketReopened:
				pending = append(pending, e)
			case signal.EventTicketResolved:
				if len(pending) == 0 {
					continue
				}
				pairs = append(pairs, Pair{Created: pending[0], Resolved: e})
				pending = pending[1:]
			}
		}
	}
	return pairs
}

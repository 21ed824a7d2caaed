package benchmark

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

const (
	maxCategoryProducts = 20
	maxUseCandidates    = 100
	maxPeers            = 20
	minUseSimilarity    = 0.4

	LabelSimilarUse = "similar use case"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "our": true, "the": true, "to": true, "we": true, "with": true,
}

// PeerSource is the slice of the store peer matching reads.
type PeerSource interface {
	CategoryFor(ctx context.Context, product signal.Product) (string, error)
	ProductsInCategory(ctx context.Context, category string, exclude signal.Product, limit int) ([]signal.Product, error)
	ActiveRegistrationsFor(ctx context.Context, products []signal.Product) ([]signal.Registration, error)
	ActiveRegistrationsWithUse(ctx context.Context, exclude signal.Product, limit int) ([]signal.Registration, error)
}

// Match is the peer set for one registration and the label describing how
// it was found.
type Match struct {
	Peers []signal.Registration
	Label string
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(norm.NFKC.String(text))) {
		if utf8.RuneCountInString(w) > 2 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

// similarity is the overlap of two token sets over the smaller one.
func similarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	overlap := 0
	for w := range a {
		if b[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(min(len(a), len(b)))
}

// FindPeers matches by the category index first and falls back to
// intended-use overlap. An empty Match means no peers.
func FindPeers(ctx context.Context, src PeerSource, reg signal.Registration) (Match, error) {
	own := reg.Product()

	category, err := src.CategoryFor(ctx, own)
	switch {
	case err == nil && category != "":
		products, err := src.ProductsInCategory(ctx, category, own, maxCategoryProducts)
		if err != nil {
			return Match{}, err
		}
		if len(products) > 0 {
			peers, err := src.ActiveRegistrationsFor(ctx, products)
			if err != nil {
				return Match{}, err
			}
			if len(peers) > 0 {
				return Match{Peers: peers, Label: category}, nil
			}
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Match{}, err
	}

	ownTokens := tokenize(reg.IntendedUse)
	if len(ownTokens) == 0 {
		return Match{}, nil
	}
	candidates, err := src.ActiveRegistrationsWithUse(ctx, own, maxUseCandidates)
	if err != nil {
		return Match{}, err
	}

	type scored struct {
		reg signal.Registration
		sim float64
	}
	var ranked []scored
	for _, c := range candidates {
		if sim := similarity(ownTokens, tokenize(c.IntendedUse)); sim >= minUseSimilarity {
			ranked = append(ranked, scored{reg: c, sim: sim})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > maxPeers {
		ranked = ranked[:maxPeers]
	}
	if len(ranked) == 0 {
		return Match{}, nil
	}
	peers := make([]signal.Registration, 0, len(ranked))
	for _, r := range ranked {
		peers = append(peers, r.reg)
	}
	return Match{Peers: peers, Label: LabelSimilarUse}, nil
}

package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/store"
)

const (
	noticeNotRegistered  = "Please complete registration first using /start"
	noticeSearchPrompt   = "Please enter your search query:"
	noticeSearching      = "🔍 Searching and generating summary..."
	searchSummaryMissing = "⚠️ Could not generate search summary"
)

// searchLinkLabels are fixed: the three links always cover the same angles,
// in the same order.
var searchLinkLabels = [3]string{"General", "Detailed", "Tutorial"}

func (e *Engine) websearchSpec() *flowSpec {
	return &flowSpec{
		flow:    FlowWebSearch,
		trigger: "/websearch",
		enter:   e.enterWebSearch,
		states: map[State]handlerFunc{
			StateAwaitingQuery: e.handleSearchQuery,
		},
		fallbacks: map[string]handlerFunc{},
		reprompt:  noticeSearchPrompt,
	}
}

// enterWebSearch handles /websearch. Unregistered users are bounced back to
// /start without entering the flow.
func (e *Engine) enterWebSearch(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	if !u.Registered() {
		return Session{}, []string{noticeNotRegistered}, nil
	}
	return Session{Flow: FlowWebSearch, State: StateAwaitingQuery},
		[]string{noticeSearchPrompt}, nil
}

// handleSearchQuery runs one search: three fixed links, an AI summary with a
// placeholder on failure, and a log entry whenever the flow completes. The
// flow always terminates after one query.
func (e *Engine) handleSearchQuery(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	stay := Session{Flow: FlowWebSearch, State: StateAwaitingQuery}

	query := strings.TrimSpace(msg.Text)
	if query == "" {
		return stay, []string{noticeSearchPrompt}, nil
	}

	links := searchLinks(query)

	summary, err := e.ai.Summarize(ctx, query)
	if err != nil {
		e.logger.WarnContext(ctx, "search summary failed",
			"identity", u.Identity, "error", err)
		e.record(ctx, u.Identity, stay, "ai_failure", false)
		summary = searchSummaryMissing
	}

	// The search is logged iff the flow completes, AI failure included.
	entry := store.SearchEntry{Query: query, ResultsCount: len(links)}
	if err := e.store.AppendSearch(ctx, u.Identity, entry); err != nil {
		return stay, nil, err
	}
	e.record(ctx, u.Identity, stay, "websearch_completed", true)

	var b strings.Builder
	fmt.Fprintf(&b, "🔎 Search Results for %q:\n\n", query)
	b.WriteString(summary)
	b.WriteString("\n\nRelevant Links:\n")
	for i, link := range links {
		fmt.Fprintf(&b, "%d. %s Search: %s\n", i+1, searchLinkLabels[i], link)
	}

	return Session{}, []string{noticeSearching, b.String()}, nil
}

// searchLinks builds the three Google search URLs for a query.
func searchLinks(query string) [3]string {
	q := url.QueryEscape(query)
	return [3]string{
		"https://www.google.com/search?q=" + q,
		"https://www.google.com/search?q=" + q + "+detailed",
		"https://www.google.com/search?q=" + q + "+tutorial",
	}
}

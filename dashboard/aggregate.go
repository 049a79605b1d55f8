package dashboard

import (
	"sort"
	"time"

	"github.com/hazyhaar/convo/store"
)

// Totals is the headline counters row.
type Totals struct {
	Users      int `json:"users"`
	Registered int `json:"registered"`
	Searches   int `json:"searches"`
	Chats      int `json:"chats"`
	Files      int `json:"files"`
}

// DayActivity is the per-day activity breakdown. Date is "2006-01-02" (UTC).
type DayActivity struct {
	Date     string `json:"date"`
	Searches int    `json:"searches"`
	Chats    int    `json:"chats"`
	Files    int    `json:"files"`
}

// Distribution is the share of each activity type over all time.
type Distribution struct {
	Searches int `json:"searches"`
	Chats    int `json:"chats"`
	Files    int `json:"files"`
}

// Engagement is one user's activity counters.
type Engagement struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
	Searches    int    `json:"searches"`
	Chats       int    `json:"chats"`
	Files       int    `json:"files"`
	Total       int    `json:"total"`
}

// computeTotals counts users and log entries across the snapshot.
func computeTotals(users []store.User) Totals {
	t := Totals{Users: len(users)}
	for i := range users {
		u := &users[i]
		if u.Registered() {
			t.Registered++
		}
		t.Searches += len(u.Searches)
		t.Chats += len(u.Chats)
		t.Files += len(u.Files)
	}
	return t
}

// dailyActivity buckets log entries by UTC day over [from, to] inclusive.
// Every day in the range is present, zero-filled, so charts get a contiguous
// series.
func dailyActivity(users []store.User, from, to time.Time) []DayActivity {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	if to.Before(from) {
		return nil
	}

	index := make(map[string]int)
	var days []DayActivity
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		index[key] = len(days)
		days = append(days, DayActivity{Date: key})
	}

	bucket := func(ts time.Time) (int, bool) {
		i, ok := index[ts.UTC().Format("2006-01-02")]
		return i, ok
	}
	for i := range users {
		u := &users[i]
		for _, e := range u.Searches {
			if j, ok := bucket(e.CreatedAt); ok {
				days[j].Searches++
			}
		}
		for _, e := range u.Chats {
			if j, ok := bucket(e.CreatedAt); ok {
				days[j].Chats++
			}
		}
		for _, e := range u.Files {
			if j, ok := bucket(e.CreatedAt); ok {
				days[j].Files++
			}
		}
	}
	return days
}

func computeDistribution(users []store.User) Distribution {
	var d Distribution
	for i := range users {
		d.Searches += len(users[i].Searches)
		d.Chats += len(users[i].Chats)
		d.Files += len(users[i].Files)
	}
	return d
}

// computeEngagement returns per-user counters, most active first. Ties break
// by identity for a stable order.
func computeEngagement(users []store.User) []Engagement {
	out := make([]Engagement, 0, len(users))
	for i := range users {
		u := &users[i]
		e := Engagement{
			Identity:    u.Identity,
			DisplayName: u.DisplayName,
			Searches:    len(u.Searches),
			Chats:       len(u.Chats),
			Files:       len(u.Files),
		}
		e.Total = e.Searches + e.Chats + e.Files
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

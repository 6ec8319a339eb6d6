// Package authz models authorization results returned by the check service
// and caches them by request fingerprint until they expire.
package authz

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// Ban is a restriction applied to an activity.
type Ban struct {
	ID        int
	Title     string
	AppliedAt time.Time
	Duration  time.Duration
	Selected  bool
}

// Activity is the status of one activity for the checked child.
type Activity struct {
	ID               protocol.Activity
	Name             string
	Timed            bool
	Units            string
	Banned           bool
	Remaining        time.Duration
	Expires          time.Time
	TimeBlockAllowed bool
	TimeBlockEnds    time.Time
	Bans             []Ban
}

// Allowed reports whether this activity on its own is permitted right now.
func (a Activity) Allowed() bool {
	if a.Banned || !a.TimeBlockAllowed {
		return false
	}
	return !a.Timed || a.Remaining > 0
}

// DayType is a named day type such as "School Day" or "Weekend".
type DayType struct {
	ID   int
	Name string
}

// Subscription summarises the parent account's plan.
type Subscription struct {
	Active       bool
	Type         int
	MaxChildren  int
	ChildCount   int
	DeviceCount  int
	ServiceCount int
	Financial    bool
}

// Child is a child in the account roster.
type Child struct {
	ID   int
	Name string
	Pin  string
}

// Result is an immutable authorization answer. All accessors return copies.
type Result struct {
	allowed      bool
	failOpen     bool
	activities   []Activity
	subscription *Subscription
	today        *DayType
	tomorrow     *DayType
	allDayTypes  []DayType
	children     []Child
	expires      time.Time
}

// FromResponse builds a Result from a decoded check payload.
// A payload without "allowed" is rejected with protocol.ErrInvalidResponse.
func FromResponse(resp *protocol.CheckResponse) (*Result, error) {
	if resp == nil || resp.Allowed == nil {
		return nil, fmt.Errorf("%w: missing allowed", protocol.ErrInvalidResponse)
	}

	r := &Result{allowed: *resp.Allowed}

	for key, p := range resp.Activities {
		a := activityFrom(key, p)
		r.activities = append(r.activities, a)
		if !a.Expires.IsZero() && (r.expires.IsZero() || a.Expires.Before(r.expires)) {
			r.expires = a.Expires
		}
	}
	slices.SortFunc(r.activities, func(a, b Activity) int { return int(a.ID) - int(b.ID) })

	if s := resp.Subscription; s != nil {
		r.subscription = &Subscription{
			Active:       s.Active,
			Type:         s.Type,
			MaxChildren:  s.MaxChildren,
			ChildCount:   s.ChildCount,
			DeviceCount:  s.DeviceCount,
			ServiceCount: s.ServiceCount,
			Financial:    s.Financial,
		}
	}
	if d := resp.DayTypes.Today; d != nil {
		r.today = &DayType{ID: d.ID, Name: d.Name}
	}
	if d := resp.DayTypes.Tomorrow; d != nil {
		r.tomorrow = &DayType{ID: d.ID, Name: d.Name}
	}
	for _, d := range resp.AllDayTypes {
		r.allDayTypes = append(r.allDayTypes, DayType{ID: d.ID, Name: d.Name})
	}
	if resp.Children != nil {
		r.children = make([]Child, 0, len(resp.Children))
	}
	for _, c := range resp.Children {
		r.children = append(r.children, Child{ID: c.ID, Name: c.Name, Pin: c.Pin})
	}
	return r, nil
}

// FailOpen is the permissive result returned when the server revokes pairing:
// allowed, with no activities, day types, children or bans.
func FailOpen() *Result {
	return &Result{allowed: true, failOpen: true}
}

func activityFrom(key string, p protocol.ActivityPayload) Activity {
	id := p.ID
	if id == 0 {
		if a, err := protocol.ParseActivity(key); err == nil {
			id = a
		}
	}
	a := Activity{
		ID:               id,
		Name:             p.Name,
		Timed:            p.Timed,
		Units:            p.Units,
		Banned:           p.Banned,
		Remaining:        time.Duration(p.Remaining) * time.Second,
		Expires:          unix(p.Expires),
		TimeBlockAllowed: true,
	}
	if a.Name == "" {
		a.Name = id.String()
	}
	if tb := p.TimeBlock; tb != nil {
		a.TimeBlockAllowed = tb.Allowed
		a.TimeBlockEnds = unix(tb.Ends)
	}
	if p.Bans != nil {
		for _, b := range p.Bans.Bans {
			a.Bans = append(a.Bans, Ban{
				ID:        b.ID,
				Title:     b.Title,
				AppliedAt: unix(b.AppliedAt),
				Duration:  time.Duration(b.DurationMinutes) * time.Minute,
			})
		}
	}
	return a
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Allowed is the server's overall verdict.
func (r *Result) Allowed() bool { return r.allowed }

// IsFailOpen reports whether this result was synthesised after a revocation.
func (r *Result) IsFailOpen() bool { return r.failOpen }

// Expires is the earliest activity expiry, or the zero time if none was given.
func (r *Result) Expires() time.Time { return r.expires }

// Activities returns the activities ordered by id.
func (r *Result) Activities() []Activity {
	out := make([]Activity, len(r.activities))
	for i, a := range r.activities {
		a.Bans = slices.Clone(a.Bans)
		out[i] = a
	}
	return out
}

// Activity looks up one activity.
func (r *Result) Activity(id protocol.Activity) (Activity, bool) {
	for _, a := range r.activities {
		if a.ID == id {
			a.Bans = slices.Clone(a.Bans)
			return a, true
		}
	}
	return Activity{}, false
}

// Subscription returns the account subscription, if reported.
func (r *Result) Subscription() (Subscription, bool) {
	if r.subscription == nil {
		return Subscription{}, false
	}
	return *r.subscription, true
}

// Today returns today's day type, if reported.
func (r *Result) Today() (DayType, bool) {
	if r.today == nil {
		return DayType{}, false
	}
	return *r.today, true
}

// Tomorrow returns tomorrow's day type, if reported.
func (r *Result) Tomorrow() (DayType, bool) {
	if r.tomorrow == nil {
		return DayType{}, false
	}
	return *r.tomorrow, true
}

// AllDayTypes lists every day type defined for the account.
func (r *Result) AllDayTypes() []DayType { return slices.Clone(r.allDayTypes) }

// Children returns the roster included in the response.
func (r *Result) Children() []Child { return slices.Clone(r.children) }

// ChildMap returns the roster as id → name, or nil when the response had none.
func (r *Result) ChildMap() map[int]string {
	if r.children == nil {
		return nil
	}
	m := make(map[int]string, len(r.children))
	for _, c := range r.children {
		m[c.ID] = c.Name
	}
	return m
}

// Bans returns every ban across all activities, without duplicates.
func (r *Result) Bans() []Ban {
	var out []Ban
	seen := map[int]bool{}
	for _, a := range r.activities {
		for _, b := range a.Bans {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			out = append(out, b)
		}
	}
	return out
}

// Explanation describes, one line per activity, why access is not allowed.
// It is empty when every activity is allowed.
func (r *Result) Explanation() string {
	var lines []string
	for _, a := range r.activities {
		switch {
		case a.Banned:
			lines = append(lines, fmt.Sprintf("You are currently banned from %s.", a.Name))
		case !a.TimeBlockAllowed:
			lines = append(lines, fmt.Sprintf("You cannot use %s at this time.", a.Name))
		case a.Timed && a.Remaining <= 0:
			lines = append(lines, fmt.Sprintf("You have used all your %s time today.", a.Name))
		}
	}
	return strings.Join(lines, "\n")
}

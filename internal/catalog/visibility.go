package catalog

import (
	"time"

	"github.com/chartfall-net/chartfall/backend/internal/auth"
)

// Grant names the rule that exposed a chart to a viewer.
type Grant string

const (
	GrantNone              Grant = "none"
	GrantPublic            Grant = "public"
	GrantAuthor            Grant = "author"
	GrantCollaborator      Grant = "collaborator"
	GrantSharedWith        Grant = "shared"
	GrantAnonymousOriginal Grant = "anonymous-original-author"
)

// Decision is the outcome of visibility resolution.
type Decision struct {
	Visible bool
	Reason  Grant
}

// grantRule evaluates one named exposure rule. Rules run in precedence
// order; the first match wins.
type grantRule struct {
	grant Grant
	match func(chart *ChartRecord, viewer *auth.Session) bool
}

var grantRules = []grantRule{
	{
		grant: GrantPublic,
		match: func(chart *ChartRecord, _ *auth.Session) bool {
			return chart.Meta.IsPublic
		},
	},
	{
		grant: GrantAuthor,
		match: func(chart *ChartRecord, viewer *auth.Session) bool {
			if viewer == nil {
				return false
			}
			handle := authorHandle(chart.Author)
			return handle > 0 && handle == viewer.Handle
		},
	},
	{
		grant: GrantCollaborator,
		match: func(chart *ChartRecord, viewer *auth.Session) bool {
			if viewer == nil || !chart.Meta.Collaboration.Enabled {
				return false
			}
			for _, member := range chart.Meta.Collaboration.Members {
				if member == viewer.Handle {
					return true
				}
			}
			return false
		},
	},
	{
		grant: GrantSharedWith,
		match: func(chart *ChartRecord, viewer *auth.Session) bool {
			if viewer == nil || !chart.Meta.PrivateShare.Enabled {
				return false
			}
			for _, allowed := range chart.Meta.PrivateShare.Viewers {
				if allowed == viewer.Handle {
					return true
				}
			}
			return false
		},
	},
	{
		grant: GrantAnonymousOriginal,
		match: func(chart *ChartRecord, viewer *auth.Session) bool {
			if viewer == nil || !chart.Meta.Anonymous.Enabled {
				return false
			}
			return chart.Meta.Anonymous.OriginalHandle > 0 &&
				chart.Meta.Anonymous.OriginalHandle == viewer.Handle
		},
	},
}

// Resolve computes whether and why a chart is exposed to a viewer. It is a
// pure function of its inputs. A nil viewer is an anonymous request.
func Resolve(chart *ChartRecord, viewer *auth.Session) Decision {
	for _, rule := range grantRules {
		if rule.match(chart, viewer) {
			return Decision{Visible: true, Reason: rule.grant}
		}
	}
	return Decision{Visible: false, Reason: GrantNone}
}

// EventExposed reports whether an active event surfaces the chart in the
// featured section at the given instant. Event exposure is listing-only: it
// never grants edit or delete rights.
func EventExposed(events []Event, chartName string, now time.Time) bool {
	for _, event := range events {
		if event.ChartName == chartName && event.Active(now) {
			return true
		}
	}
	return false
}

// Package router pre-classifies normalized utterances into a command
// category before the full matching pipeline runs. An obvious imperative
// like "open chrome" routes on a single anchored pattern, which lets the
// resolver skip the semantic stage entirely for most traffic.
//
// Routing is advisory: an utterance no pattern recognises is reported as
// [command.CategoryUnknown] with zero confidence and the pipeline carries on
// with every stage enabled. A routing miss never vetoes a resolution.
package router

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/internal/command"
)

// routeConfidence is reported for every pattern hit. An anchored match on a
// normalized utterance leaves little room for doubt.
const routeConfidence = 0.95

// Result describes where an utterance was routed.
type Result struct {
	// Category is the routed command category, or
	// [command.CategoryUnknown] when no pattern matched.
	Category command.Category

	// Confidence is routeConfidence on a hit and 0 on a miss.
	Confidence float64

	// Handler names the handler family the pattern suggests
	// (e.g. "open_app", "search_web"). Empty on a miss.
	Handler string

	// Entity is the last capture group of the winning pattern, trimmed.
	// For "open chrome" this is "chrome".
	Entity string

	// SkipSemantic reports that the pattern is unambiguous enough to drop
	// the semantic stage. Power commands keep it false so they always get
	// the full pipeline and its confirmation path.
	SkipSemantic bool
}

// Routed reports whether a pattern matched.
func (r Result) Routed() bool { return r.Category != command.CategoryUnknown }

type routePattern struct {
	re           *regexp.Regexp
	category     command.Category
	handler      string
	skipSemantic bool
}

// routingPatterns is scanned in order; the first match wins. Inputs are
// normalized and lowercased before routing, so the patterns are all
// lowercase. More specific patterns precede the general ones they overlap
// ("search youtube ..." before "search ...").
var routingPatterns = []routePattern{
	// App control.
	{regexp.MustCompile(`^open\s+(.+)$`), command.CategoryAppControl, "open_app", true},
	{regexp.MustCompile(`^close\s+(.+)$`), command.CategoryAppControl, "close_app", true},
	{regexp.MustCompile(`^switch\s+to\s+(.+)$`), command.CategoryAppControl, "switch_app", true},
	{regexp.MustCompile(`^minimize\s+(.+)$`), command.CategoryAppControl, "minimize_app", true},
	{regexp.MustCompile(`^maximize\s+(.+)$`), command.CategoryAppControl, "maximize_app", true},
	{regexp.MustCompile(`^(?:launch|start|fire up|bring up)\s+(.+)$`), command.CategoryAppControl, "open_app", true},

	// Search.
	{regexp.MustCompile(`^search\s+youtube\s+(?:for\s+)?(.+)$`), command.CategorySearch, "search_youtube", true},
	{regexp.MustCompile(`^youtube\s+(.+)$`), command.CategorySearch, "search_youtube", true},
	{regexp.MustCompile(`^search\s+(?:for\s+)?(.+)$`), command.CategorySearch, "search_web", true},
	{regexp.MustCompile(`^google\s+(.+)$`), command.CategorySearch, "search_web", true},

	// Navigation.
	{regexp.MustCompile(`^scroll\s+(up|down|left|right)`), command.CategoryNavigation, "scroll", true},
	{regexp.MustCompile(`^go\s+to\s+tab\s+(\d+)$`), command.CategoryNavigation, "go_to_tab", true},
	{regexp.MustCompile(`^(next|previous)\s+tab$`), command.CategoryNavigation, "tab_nav", true},
	{regexp.MustCompile(`^(new|close|reopen)\s+tab$`), command.CategoryNavigation, "tab_control", true},
	{regexp.MustCompile(`^go\s+(back|forward)$`), command.CategoryNavigation, "browser_nav", true},
	{regexp.MustCompile(`^refresh$`), command.CategoryNavigation, "refresh", true},

	// Typing.
	{regexp.MustCompile(`^(?:type|write|enter|dictate)\s+(.+)$`), command.CategoryTyping, "type_text", true},

	// System. Power commands keep the semantic stage and its confirmation.
	{regexp.MustCompile(`^(increase|decrease|mute)\s+volume$`), command.CategorySystem, "volume", true},
	{regexp.MustCompile(`^screenshot`), command.CategorySystem, "screenshot", true},
	{regexp.MustCompile(`^(shutdown|restart|log off|sleep)$`), command.CategorySystem, "power", false},
	{regexp.MustCompile(`^lock\s+screen$`), command.CategorySystem, "lock", true},

	// File operations.
	{regexp.MustCompile(`^(?:copy|cut|paste|delete|undo|redo|save)(\s+.+)?$`), command.CategoryFileOperation, "file_op", true},

	// Selection.
	{regexp.MustCompile(`^select\s+(all|line|word)`), command.CategorySelection, "select", true},
	{regexp.MustCompile(`^select\s+(.+)$`), command.CategorySelection, "select_text", true},

	// Clipboard.
	{regexp.MustCompile(`^(?:read\s+)?clipboard$`), command.CategoryClipboard, "clipboard", true},
	{regexp.MustCompile(`^paste\s+(\d+)`), command.CategoryClipboard, "paste_item", true},

	// Developer.
	{regexp.MustCompile(`^git\s+(.+)$`), command.CategoryDeveloper, "git", true},
	{regexp.MustCompile(`^npm\s+(.+)$`), command.CategoryDeveloper, "npm", true},
	{regexp.MustCompile(`^kill\s+port\s+(\d+)$`), command.CategoryDeveloper, "kill_port", true},

	// Session context.
	{regexp.MustCompile(`^(repeat|again|do it again|one more time)$`), command.CategoryContext, "repeat", true},
	{regexp.MustCompile(`^(?:undo|redo)\s+(that|this)$`), command.CategoryContext, "undo_redo", true},
	{regexp.MustCompile(`^(?:close|minimize|maximize)\s+(this|it|that)$`), command.CategoryContext, "this_window", true},
}

// Router classifies utterances against the ordered pattern table and keeps
// per-category hit counts. Safe for concurrent use.
type Router struct {
	patterns []routePattern
	logger   *slog.Logger

	mu    sync.Mutex
	stats map[command.Category]uint64
}

// Option configures a [Router].
type Option func(*Router)

// WithLogger sets the logger used for per-route debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New builds a Router over the built-in pattern table.
func New(opts ...Option) *Router {
	r := &Router{
		patterns: routingPatterns,
		logger:   slog.Default(),
		stats:    make(map[command.Category]uint64, len(routingPatterns)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies one normalized utterance. The first matching pattern
// wins; no match yields [command.CategoryUnknown] with zero confidence.
func (r *Router) Route(text string) Result {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Result{Category: command.CategoryUnknown}
	}

	for _, p := range r.patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		entity := ""
		if len(m) > 1 {
			entity = strings.TrimSpace(m[len(m)-1])
		}
		r.count(p.category)
		r.logger.Debug("routed utterance",
			"category", string(p.category),
			"handler", p.handler,
			"skip_semantic", p.skipSemantic)
		return Result{
			Category:     p.category,
			Confidence:   routeConfidence,
			Handler:      p.handler,
			Entity:       entity,
			SkipSemantic: p.skipSemantic,
		}
	}

	r.count(command.CategoryUnknown)
	return Result{Category: command.CategoryUnknown}
}

// SkipSemantic reports whether the semantic stage can be dropped for text.
func (r *Router) SkipSemantic(text string) bool {
	return r.Route(text).SkipSemantic
}

// Stats returns a copy of the per-category routing counts accumulated so
// far, keyed by category name.
func (r *Router) Stats() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.stats))
	for cat, n := range r.stats {
		out[string(cat)] = n
	}
	return out
}

// ResetStats zeroes the routing counters.
func (r *Router) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[command.Category]uint64, len(r.patterns))
}

func (r *Router) count(cat command.Category) {
	r.mu.Lock()
	r.stats[cat]++
	r.mu.Unlock()
}

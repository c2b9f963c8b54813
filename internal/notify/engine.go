package notify

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/flosch/pongo2/v6"
	"github.com/sirupsen/logrus"

	"github.com/xopay/notify-service/internal/metrics"
	"github.com/xopay/notify-service/internal/report"
)

// subscriberPaths maps a subscriber specifier kind to the admin API path
// that resolves it to an email list.
var subscriberPaths = map[string]string{
	"group":           "/emails/groups/%s",
	"user":            "/emails/users/%s",
	"store_merchants": "/emails/stores/%s/merchants",
	"store_managers":  "/emails/stores/%s/managers",
}

var (
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	patternRe = regexp.MustCompile(`^(?:group|user|store_merchants|store_managers):[\w-]+$`)

	// recursiveURLRe rejects rendered cases that contain a subscriber
	// resolution URL, so a template cannot make the resolver call itself.
	recursiveURLRe = buildRecursiveURLRe()
)

func buildRecursiveURLRe() *regexp.Regexp {
	shapes := make([]string, 0, len(subscriberPaths))
	for _, path := range subscriberPaths {
		shapes = append(shapes, fmt.Sprintf(path, `[\w-]+`))
	}
	sort.Strings(shapes)
	return regexp.MustCompile(`(?:` + strings.Join(shapes, "|") + `)`)
}

// RuleStore is the persistence slice the engine needs.
type RuleStore interface {
	SelectAll(ctx context.Context) ([]Rule, error)
	Delete(ctx context.Context, id string) error
}

// Getter is the slice of the HTTP client the engine needs.
type Getter interface {
	Get(ctx context.Context, url string, params url.Values) (map[string]any, error)
}

// Mailer hands a mail to the delivery pool.
type Mailer interface {
	Send(to, subject, text string)
}

// Engine is the notification pipeline: it caches the rule set in memory,
// renders every rule against an incoming event, matches the rendered case
// against the rule regex and fans matched notifications out to resolved
// subscribers. A rule whose template or regex is broken is quarantined:
// removed from the cache and the store.
type Engine struct {
	store     RuleStore
	client    Getter
	mail      Mailer
	adminBase string
	log       *logrus.Entry
	stats     *metrics.Collector

	mu    sync.Mutex // serializes cache swaps (reload and quarantine)
	rules atomic.Pointer[[]Rule]

	regexMu sync.Mutex
	regexes map[string]*regexp.Regexp
}

func NewEngine(store RuleStore, client Getter, mail Mailer, adminBaseURL string,
	stats *metrics.Collector, log *logrus.Entry) *Engine {

	e := &Engine{
		store:     store,
		client:    client,
		mail:      mail,
		adminBase: adminBaseURL,
		log:       log,
		stats:     stats,
		regexes:   make(map[string]*regexp.Regexp),
	}
	empty := make([]Rule, 0)
	e.rules.Store(&empty)
	return e
}

// Reload replaces the in-memory rule cache with the store contents in one
// atomic swap. Called at startup and after every admin mutation.
func (e *Engine) Reload(ctx context.Context) error {
	rules, err := e.store.SelectAll(ctx)
	if err != nil {
		return fmt.Errorf("load notify rules: %w", err)
	}
	e.mu.Lock()
	e.rules.Store(&rules)
	e.mu.Unlock()
	e.log.Infof("Loaded %d notify rules", len(rules))
	return nil
}

// Rules returns the current cache snapshot.
func (e *Engine) Rules() []Rule {
	return *e.rules.Load()
}

// HandleEvent runs the per-event pipeline for one decoded request-queue
// message. Matched rules dispatch concurrently, so ordering across events
// and across recipients is not preserved.
func (e *Engine) HandleEvent(ctx context.Context, event map[string]any) error {
	matched := e.matchedNodes(ctx, event)
	if len(matched) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, node := range matched {
		wg.Add(1)
		go func(node RenderedNode) {
			defer wg.Done()
			e.dispatch(ctx, node)
		}(node)
	}
	wg.Wait()
	return nil
}

// matchedNodes renders and matches every cached rule against the event.
func (e *Engine) matchedNodes(ctx context.Context, event map[string]any) []RenderedNode {
	var matched []RenderedNode
	for _, rule := range e.Rules() {
		node, err := renderRule(rule, event)
		if err != nil {
			e.quarantine(ctx, rule, "template render error", err)
			continue
		}

		re, err := e.compile(rule.CaseRegex)
		if err != nil {
			e.quarantine(ctx, rule, "case regex error", err)
			continue
		}

		if recursiveURLRe.MatchString(node.Case) {
			e.log.Warnf("Recursive url found in rule %q case: [%s]", rule.Name, node.Case)
			continue
		}

		if re.MatchString(node.Case) {
			matched = append(matched, node)
		}
	}
	return matched
}

// renderRule fills every template of the rule from the event payload.
func renderRule(rule Rule, event map[string]any) (RenderedNode, error) {
	render := func(field, src string) (string, error) {
		tpl, err := pongo2.FromString(src)
		if err != nil {
			return "", fmt.Errorf("%s: %w", field, err)
		}
		out, err := tpl.Execute(pongo2.Context(event))
		if err != nil {
			return "", fmt.Errorf("%s: %w", field, err)
		}
		return out, nil
	}

	node := RenderedNode{ID: rule.ID, Name: rule.Name, CaseRegex: rule.CaseRegex}
	var err error
	if node.Case, err = render("case_template", rule.CaseTemplate); err != nil {
		return RenderedNode{}, err
	}
	if node.Header, err = render("header_template", rule.HeaderTemplate); err != nil {
		return RenderedNode{}, err
	}
	if node.Body, err = render("body_template", rule.BodyTemplate); err != nil {
		return RenderedNode{}, err
	}
	if node.Subscribers, err = render("subscribers_template", rule.SubscribersTemplate); err != nil {
		return RenderedNode{}, err
	}
	return node, nil
}

// compile memoizes rule regexes by their source string. The pattern is
// anchored at the start of the rendered case.
func (e *Engine) compile(src string) (*regexp.Regexp, error) {
	e.regexMu.Lock()
	defer e.regexMu.Unlock()
	if re, ok := e.regexes[src]; ok {
		return re, nil
	}
	re, err := regexp.Compile(`^(?:` + src + `)`)
	if err != nil {
		return nil, err
	}
	e.regexes[src] = re
	return re, nil
}

// quarantine drops a broken rule from the cache and the store. Both sides
// tolerate the rule already being gone.
func (e *Engine) quarantine(ctx context.Context, rule Rule, reason string, cause error) {
	e.log.Warnf("Remove bad notify rule %q from storage: %s: %v", rule.Name, reason, cause)

	e.mu.Lock()
	current := *e.rules.Load()
	next := make([]Rule, 0, len(current))
	for _, r := range current {
		if r.ID != rule.ID {
			next = append(next, r)
		}
	}
	e.rules.Store(&next)
	e.mu.Unlock()

	e.regexMu.Lock()
	delete(e.regexes, rule.CaseRegex)
	e.regexMu.Unlock()

	if err := e.store.Delete(ctx, rule.ID); err != nil {
		e.log.Errorf("Remove notify rule %s from store: %v", rule.ID, err)
	}
}

// dispatch resolves the node subscribers and mails every address.
func (e *Engine) dispatch(ctx context.Context, node RenderedNode) {
	emails := e.SubscriberEmails(ctx, node.Subscribers)
	if len(emails) == 0 {
		e.log.Warnf("Emails for notification %q not found: [%s]", node.Name, node.Subscribers)
		return
	}

	e.log.Infof("Send notification %q to emails: %v", node.Name, emails)
	var wg sync.WaitGroup
	for _, email := range emails {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			e.mail.Send(email, node.Header, node.Body)
			e.stats.NotificationSent()
		}(email)
	}
	wg.Wait()
}

// SubscriberEmails parses the comma-separated subscribers string into a
// deduplicated, sorted email list. Literal emails pass through; pattern
// specifiers like group:admin resolve over the admin API; anything else
// is discarded. Resolution failures are logged, not fatal.
func (e *Engine) SubscriberEmails(ctx context.Context, subscribers string) []string {
	seen := make(map[string]struct{})
	var resolveURLs []string

	for _, token := range strings.Split(subscribers, ",") {
		token = strings.TrimSpace(token)
		switch {
		case token == "":
		case emailRe.MatchString(token):
			seen[token] = struct{}{}
		case patternRe.MatchString(token):
			kind, id, _ := strings.Cut(token, ":")
			resolveURLs = append(resolveURLs, e.adminBase+fmt.Sprintf(subscriberPaths[kind], id))
		default:
			e.log.Debugf("Discard unknown subscriber token %q", token)
		}
	}

	if len(resolveURLs) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, resolveURL := range resolveURLs {
			wg.Add(1)
			go func(resolveURL string) {
				defer wg.Done()
				resp, err := e.client.Get(ctx, resolveURL, nil)
				if err != nil {
					e.log.Warnf("Request email error: %s: %v", resolveURL, err)
					return
				}
				mu.Lock()
				for _, email := range report.EmailList(resp) {
					seen[email] = struct{}{}
				}
				mu.Unlock()
			}(resolveURL)
		}
		wg.Wait()
	}

	emails := make([]string, 0, len(seen))
	for email := range seen {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

package notify

import "github.com/uptrace/bun"

// Rule is one persisted notification rule: a regex deciding when an event
// is interesting plus a bundle of templates describing what to send and
// to whom. Template fields use `{{ expr }}` placeholders with dotted-path
// access into the event payload.
type Rule struct {
	bun.BaseModel `bun:"table:notifications" json:"-"`

	ID                  string `bun:"id,pk" json:"id"`
	Name                string `bun:"name,notnull" json:"name" validate:"required,min=4,max=50"`
	CaseRegex           string `bun:"case_regex,notnull" json:"case_regex" validate:"required,min=2,max=255"`
	CaseTemplate        string `bun:"case_template,notnull" json:"case_template" validate:"required,min=2,max=255"`
	HeaderTemplate      string `bun:"header_template,notnull" json:"header_template" validate:"required,min=2,max=255"`
	BodyTemplate        string `bun:"body_template,notnull" json:"body_template" validate:"required,min=2,max=255"`
	SubscribersTemplate string `bun:"subscribers_template,notnull" json:"subscribers_template" validate:"required,min=2,max=255"`
}

// RenderedNode is a rule after its templates were filled from one event.
// It lives for the duration of that event only.
type RenderedNode struct {
	ID          string
	Name        string
	CaseRegex   string
	Case        string
	Header      string
	Body        string
	Subscribers string
}

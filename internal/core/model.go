package core

import (
	"time"
)

// EmailRecord represents a single inbound email submitted for analysis.
// It is built once per request and never mutated by the evaluators.
type EmailRecord struct {
	Subject     string
	From        string
	DisplayName string
	To          string
	Headers     map[string][]string
	BodyText    string
	BodyHTML    string
	URLs        []string
	Attachments []Attachment
}

// Attachment represents an email attachment. Content is base64-encoded
// as carried in the original MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     string
}

// Header returns the first value of a header, or "" when absent.
func (e *EmailRecord) Header(name string) string {
	if vals, ok := e.Headers[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// EvaluatorKind identifies one of the risk evaluators.
type EvaluatorKind string

const (
	EvaluatorContent  EvaluatorKind = "content"
	EvaluatorLink     EvaluatorKind = "link"
	EvaluatorBehavior EvaluatorKind = "behavior"
	EvaluatorHeader   EvaluatorKind = "header"
	EvaluatorQR       EvaluatorKind = "qr"
)

// MaxReasonsPerFinding caps the reason list each evaluator may return.
const MaxReasonsPerFinding = 5

// RiskFinding is the result one evaluator produces for one email.
type RiskFinding struct {
	Evaluator  EvaluatorKind
	Score      float64
	Confidence float64
	Reasons    []string
	Details    FindingDetails
}

// FindingDetails is the evaluator-specific payload attached to a finding.
// Each evaluator returns its own concrete detail type.
type FindingDetails interface {
	Kind() EvaluatorKind
}

// LinkDetails carries the per-URL assessments of the link evaluator.
type LinkDetails struct {
	Assessments     []DomainAssessment
	TotalURLs       int
	SuspiciousCount int
}

func (LinkDetails) Kind() EvaluatorKind { return EvaluatorLink }

// ContentDetails carries the content evaluator's highlights and the ML
// scorer's raw probability (negative when no scorer was reachable).
type ContentDetails struct {
	Highlights   []Highlight
	KeywordScore float64
	ModelScore   float64
}

func (ContentDetails) Kind() EvaluatorKind { return EvaluatorContent }

// Highlight marks a suspicious span inside the subject+body text.
type Highlight struct {
	Start  int
	End    int
	Reason string
	Token  string
}

// BehaviorDetails carries the behavior evaluator's view of the sender.
type BehaviorDetails struct {
	IsNewSender bool
	History     *SenderHistory
}

func (BehaviorDetails) Kind() EvaluatorKind { return EvaluatorBehavior }

// HeaderDetails carries the routing reconstruction and the verdict.
type HeaderDetails struct {
	Routing *RoutingAnalysis
	Verdict RoutingVerdict
}

func (HeaderDetails) Kind() EvaluatorKind { return EvaluatorHeader }

// QRDetails carries the per-code assessments of the QR evaluator.
type QRDetails struct {
	Codes           []QRAssessment
	TotalCodes      int
	SuspiciousCount int
}

func (QRDetails) Kind() EvaluatorKind { return EvaluatorQR }

// QRAssessment is the analysis of one decoded QR code.
type QRAssessment struct {
	Content     string
	ContentType string
	Location    string
	Score       float64
	Reasons     []string
}

// DomainAssessment is the analysis of one URL.
type DomainAssessment struct {
	URL     string
	Domain  string
	Score   float64
	Reasons []string
}

// SenderHistory is the accumulated record for one sender address.
// The store only ever appends to it: message counts grow, the observed
// name and reply-to sets grow, and FirstSeen never moves forward.
type SenderHistory struct {
	Sender       string
	MessageCount int
	FirstSeen    time.Time
	LastSeen     time.Time
	DisplayNames []string
	ReplyTos     []string
}

// RouteHop is a single relay recorded in a message's delivery trace.
type RouteHop struct {
	Server    string
	IP        string
	Timestamp time.Time
	Raw       string
}

// HasTimestamp reports whether the hop's timestamp clause parsed.
func (h RouteHop) HasTimestamp() bool { return !h.Timestamp.IsZero() }

// RoutingAnalysis is the reconstructed delivery path, in chronological
// order: Hops[0] is the origin, the last hop is the delivering relay.
type RoutingAnalysis struct {
	Hops           []RouteHop
	TotalHops      int
	OriginServer   string
	OriginIP       string
	FinalServer    string
	SuspiciousHops []string
}

// RoutingVerdict is the terminal state of the header analysis.
type RoutingVerdict string

const (
	VerdictNormal            RoutingVerdict = "normal"
	VerdictIdentityMismatch  RoutingVerdict = "identity_mismatch"
	VerdictSuspiciousRouting RoutingVerdict = "suspicious_routing"
)

// Action is the disposition the orchestrator recommends for an email.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionFlag       Action = "flag"
	ActionQuarantine Action = "quarantine"
)

// rank orders actions by severity so overrides can only escalate.
func (a Action) rank() int {
	switch a {
	case ActionFlag:
		return 1
	case ActionQuarantine:
		return 2
	default:
		return 0
	}
}

// Escalate raises the action by one step. Quarantine is terminal.
func (a Action) Escalate() Action {
	switch a {
	case ActionAllow:
		return ActionFlag
	case ActionFlag:
		return ActionQuarantine
	default:
		return a
	}
}

// AtLeast returns the higher-severity of the two actions.
func (a Action) AtLeast(other Action) Action {
	if other.rank() > a.rank() {
		return other
	}
	return a
}

// RankedReason is one evaluator reason tagged for cross-evaluator ranking.
type RankedReason struct {
	Evaluator EvaluatorKind `json:"evaluator"`
	Score     float64       `json:"score"`
	Weight    float64       `json:"weight"`
	Priority  float64       `json:"priority"`
	Text      string        `json:"text"`
}

// OrchestrationResult is the fused verdict for one email.
type OrchestrationResult struct {
	FinalScore    float64
	Action        Action
	Confidence    float64
	Summary       string
	RankedReasons []RankedReason
	Findings      map[EvaluatorKind]RiskFinding
	AnalyzedAt    time.Time
	RequestID     string
}

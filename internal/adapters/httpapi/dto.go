package httpapi

import (
	"time"

	"github.com/mikey/phish-triage/internal/core"
)

// emailRequest is the JSON body accepted by the analyze endpoints.
type emailRequest struct {
	Subject     string              `json:"subject"`
	From        string              `json:"from"`
	DisplayName string              `json:"display_name"`
	To          string              `json:"to"`
	Headers     map[string][]string `json:"headers"`
	BodyText    string              `json:"body_text"`
	BodyHTML    string              `json:"body_html"`
	URLs        []string            `json:"urls"`
	Attachments []attachmentRequest `json:"attachments"`
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

func (r emailRequest) toRecord() *core.EmailRecord {
	email := &core.EmailRecord{
		Subject:     r.Subject,
		From:        r.From,
		DisplayName: r.DisplayName,
		To:          r.To,
		Headers:     r.Headers,
		BodyText:    r.BodyText,
		BodyHTML:    r.BodyHTML,
		URLs:        r.URLs,
	}
	for _, a := range r.Attachments {
		email.Attachments = append(email.Attachments, core.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	return email
}

// analysisResponse is the fused verdict plus the header finding, which
// is scored outside the weighted fusion.
type analysisResponse struct {
	RequestID     string                     `json:"request_id"`
	FinalScore    float64                    `json:"final_score"`
	Action        string                     `json:"action"`
	Confidence    float64                    `json:"confidence"`
	Summary       string                     `json:"summary"`
	RankedReasons []core.RankedReason        `json:"ranked_reasons"`
	Findings      map[string]findingResponse `json:"findings"`
	HeaderFinding headerResponse             `json:"header_finding"`
	AnalyzedAt    time.Time                  `json:"analyzed_at"`
}

type findingResponse struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

type headerResponse struct {
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
	Verdict    string           `json:"verdict"`
	Reasons    []string         `json:"reasons"`
	Routing    *routingResponse `json:"routing,omitempty"`
}

type routingResponse struct {
	TotalHops      int           `json:"total_hops"`
	OriginServer   string        `json:"origin_server"`
	OriginIP       string        `json:"origin_ip"`
	FinalServer    string        `json:"final_server"`
	SuspiciousHops []string      `json:"suspicious_hops,omitempty"`
	Hops           []hopResponse `json:"hops"`
}

type hopResponse struct {
	Server    string     `json:"server"`
	IP        string     `json:"ip,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func toAnalysisResponse(result *core.OrchestrationResult, headerFinding core.RiskFinding) analysisResponse {
	resp := analysisResponse{
		RequestID:     result.RequestID,
		FinalScore:    result.FinalScore,
		Action:        string(result.Action),
		Confidence:    result.Confidence,
		Summary:       result.Summary,
		RankedReasons: result.RankedReasons,
		Findings:      make(map[string]findingResponse, len(result.Findings)),
		HeaderFinding: toHeaderResponse(headerFinding),
		AnalyzedAt:    result.AnalyzedAt,
	}
	for kind, finding := range result.Findings {
		resp.Findings[string(kind)] = findingResponse{
			Score:      finding.Score,
			Confidence: finding.Confidence,
			Reasons:    finding.Reasons,
		}
	}
	return resp
}

func toHeaderResponse(finding core.RiskFinding) headerResponse {
	resp := headerResponse{
		Score:      finding.Score,
		Confidence: finding.Confidence,
		Reasons:    finding.Reasons,
	}
	details, ok := finding.Details.(core.HeaderDetails)
	if !ok {
		return resp
	}
	resp.Verdict = string(details.Verdict)
	if details.Routing == nil {
		return resp
	}
	routing := &routingResponse{
		TotalHops:      details.Routing.TotalHops,
		OriginServer:   details.Routing.OriginServer,
		OriginIP:       details.Routing.OriginIP,
		FinalServer:    details.Routing.FinalServer,
		SuspiciousHops: details.Routing.SuspiciousHops,
	}
	for _, hop := range details.Routing.Hops {
		h := hopResponse{Server: hop.Server, IP: hop.IP}
		if hop.HasTimestamp() {
			ts := hop.Timestamp
			h.Timestamp = &ts
		}
		routing.Hops = append(routing.Hops, h)
	}
	resp.Routing = routing
	return resp
}

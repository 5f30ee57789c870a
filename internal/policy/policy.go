package policy

import (
	"context"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"
)

const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// PolicyResponse is the verdict on one request. Text and Tags echo the
// accepted submission; Msg is safe to show to the author.
type PolicyResponse struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Reason   string   `json:"reason,omitempty"`
	Msg      string   `json:"msg,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

// RejectionHandler is notified after a stage rejects a submission.
type RejectionHandler interface {
	HandleRejection(ctx context.Context, sub *kitpolicy.Submission, res kitpolicy.FilterResult)
}

// testutils/submission.go
package testutils

import (
	"fmt"
	"sync/atomic"

	kitconfig "github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"
)

// TestAuthorID for tests that don't need a specific author.
const TestAuthorID = "trainer-0001"

var submissionSeq atomic.Uint64

// MakeSubmission is a shared helper to create a Submission for tests.
// IDs are sequential so failures are easy to correlate with log lines.
func MakeSubmission(ctx kitconfig.ContentContext, text, authorID string, tags ...string) *kitpolicy.Submission {
	return &kitpolicy.Submission{
		ID:       fmt.Sprintf("sub-%d", submissionSeq.Add(1)),
		AuthorID: authorID,
		Context:  ctx,
		Text:     text,
		Tags:     tags,
	}
}

// MakeComment creates a comment submission.
func MakeComment(authorID, text string) *kitpolicy.Submission {
	return MakeSubmission(kitconfig.ContextComment, text, authorID)
}

// MakeEntry creates a research-log entry submission.
func MakeEntry(authorID, text string, tags ...string) *kitpolicy.Submission {
	return MakeSubmission(kitconfig.ContextEntry, text, authorID, tags...)
}

package flow

import (
	"context"

	"github.com/hazyhaar/docattach/attach/internal/page"
	"github.com/hazyhaar/docattach/attach/internal/session"
)

// duplicateLink returns the duplicate-confirmation link of the save
// response, if any.
func (x *run) duplicateLink(resp *session.Response) string {
	doc := page.Parse(resp.Text, resp.FinalURL)
	if l := x.firstLink(doc, x.cfg.DuplicateLinkPatterns, nil); l != "" {
		x.uc.DuplicateURL = l
		return l
	}
	return ""
}

// resolveDuplicate issues exactly one GET to the confirmation link. Its
// result is bookkeeping on the remote side: failures are logged and the run
// moves on to the tree refresh.
func (x *run) resolveDuplicate(ctx context.Context, link string) {
	if _, err := x.get(ctx, StateDuplicatePending, link); err != nil {
		x.log.WarnContext(ctx, "flow: duplicate confirmation failed",
			"error", &DuplicateConflict{URL: link, Err: err})
		return
	}
	x.log.InfoContext(ctx, "flow: duplicate confirmed", "url", link)
}

package capability

import "context"

// ResolveDiff returns inlineDiff/inlineFiles if the caller already has diff
// content in hand (e.g. carried on the triggering event), otherwise fetches
// it from vcs for (projectID, mrIID). Several agents fetch a merge
// request's diff the same way; this is that one place.
func ResolveDiff(ctx context.Context, vcs VersionControl, projectID, mrIID int, inlineDiff string, inlineFiles []string) (string, []string, error) {
	if inlineDiff != "" {
		return inlineDiff, inlineFiles, nil
	}
	if vcs == nil || mrIID == 0 {
		return "", nil, nil
	}
	return vcs.GetDiff(ctx, projectID, mrIID)
}

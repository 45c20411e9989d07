package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
)

// maxListedFailures bounds how many failures a summary message spells out.
const maxListedFailures = 5

// FormatSummary renders a run summary as a short chat message.
func FormatSummary(s *acquire.Summary) string {
	var b strings.Builder

	var written int
	for _, rec := range s.Records {
		if rec.Outcome == acquire.OutcomeSuccess {
			written += rec.Bytes
		}
	}

	fmt.Fprintf(&b, "Cover run for policy `%s` finished (%s) in %s\n",
		s.PolicyID, s.StopReason, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "downloaded %d/%d (%s), already present %d, failed %d",
		s.State.Succeeded, s.Requested, humanize.Bytes(uint64(written)), s.State.Duplicates, s.State.Failed)

	if s.SourceErr != nil {
		fmt.Fprintf(&b, "\nsource error: %v", s.SourceErr)
	}

	failures := s.Failures()
	for i, rec := range failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n… and %d more", len(failures)-maxListedFailures)

			break
		}

		fmt.Fprintf(&b, "\n- %s", rec.Reason)
	}

	return b.String()
}

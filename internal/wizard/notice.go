package wizard

import (
	"fmt"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/report"
)

// NoticeView is the JSON form of a domain.Notice.
type NoticeView struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Code  string `json:"code,omitempty"`
}

// NewNoticeView flattens n. A nil notice yields nil.
func NewNoticeView(n domain.Notice) *NoticeView {
	if n == nil {
		return nil
	}
	v := &NoticeView{Kind: domain.NoticeKind(n), Title: n.Title(), Body: n.Body()}
	if e, ok := n.(domain.ErrorNotice); ok {
		v.Code = e.Code
	}
	return v
}

func (s *Session) setNotice(n domain.Notice) {
	s.mu.Lock()
	s.notice = n
	s.mu.Unlock()
}

func uploadNotice(result evidence.AddResult) domain.Notice {
	added, rejected := len(result.Added), len(result.Rejected)
	switch {
	case rejected == 0:
		return domain.SuccessNotice{
			Heading: "Evidence added",
			Message: fmt.Sprintf("%d of %d files added.", added, result.TotalSelected),
		}
	case added == 0:
		return domain.ErrorNotice{
			Heading: "No files added",
			Message: "Files must be images, audio, video or PDF documents within the size limit.",
			Code:    domain.EINVALID,
		}
	default:
		return domain.InfoNotice{
			Heading: "Some files were not added",
			Message: fmt.Sprintf("%d of %d files added; %d rejected.", added, result.TotalSelected, rejected),
		}
	}
}

func reportNotice(result *domain.ReportResult) domain.Notice {
	switch report.Outcome(result) {
	case report.OutcomePlaceholder:
		return domain.InfoNotice{
			Heading: "Report drafted without AI",
			Message: "AI assistance is not configured, so placeholder text was used. Review and edit before sharing.",
		}
	case report.OutcomePartial:
		return domain.InfoNotice{
			Heading: "Report partly generated",
			Message: "Some sections could not be generated and show placeholder text. You can retry.",
		}
	default:
		return domain.SuccessNotice{
			Heading: "Report ready",
			Message: "Review the report, then export or print it.",
		}
	}
}

package writer

import (
	"strings"
	"unicode/utf8"

	"github.com/docutag/writer/models"
)

// Reasonable-content acceptance: a draft longer than ReasonableContentChars
// is accepted once at least ReasonableContentAttempts drafts were produced.
const (
	ReasonableContentChars    = 500
	ReasonableContentAttempts = 2
)

// Decision is the outcome of the DECIDING stage
type Decision struct {
	Terminate bool
	FinalText string
	Reason    string
}

// Decide applies the termination rules to state in priority order.
// The first matching rule wins.
func Decide(state *models.PipelineState) Decision {
	draft := state.DraftText
	hasDraft := strings.TrimSpace(draft) != ""

	finish := func(reason string) Decision {
		d := Decision{Terminate: true, Reason: reason}
		if hasDraft {
			d.FinalText = draft
		}
		return d
	}

	switch {
	case state.AttemptCount >= state.MaxAttempts:
		return finish(models.ReasonMaxAttempts)
	case len(state.CleanedDocuments) == 0 && !hasDraft:
		return finish(models.ReasonNoMaterial)
	case hasDraft && state.Scores.Final >= state.ScoreThreshold:
		return finish(models.ReasonThresholdMet)
	case hasDraft &&
		utf8.RuneCountInString(draft) > ReasonableContentChars &&
		state.AttemptCount >= ReasonableContentAttempts:
		return finish(models.ReasonReasonableContent)
	case state.SearchFailed:
		return finish(models.ReasonSearchFailed)
	}

	return Decision{}
}

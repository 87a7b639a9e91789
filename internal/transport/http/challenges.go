package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"virtual-lab-service/internal/app"
	"virtual-lab-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type questionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Points  int          `json:"points"`
	Options []optionView `json:"options"`
}

// challengeView is a challenge with correct flags and explanations removed.
type challengeView struct {
	app.ChallengeSummary
	Description string         `json:"description"`
	Questions   []questionView `json:"questions"`
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

func newChallengeView(c domain.Challenge) challengeView {
	view := challengeView{
		ChallengeSummary: app.Summary(c),
		Description:      c.Description,
		Questions:        make([]questionView, 0, len(c.Questions)),
	}
	for _, q := range c.Questions {
		qv := questionView{ID: q.ID, Prompt: q.Prompt, Points: q.PointValue(), Options: make([]optionView, 0, len(q.Options))}
		for _, o := range q.Options {
			qv.Options = append(qv.Options, optionView{ID: o.ID, Text: o.Text})
		}
		view.Questions = append(view.Questions, qv)
	}
	return view
}

func (a *API) listChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := a.catalog.ListChallenges(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]app.ChallengeSummary, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, app.Summary(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.catalog.GetChallenge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChallengeView(c))
}

func (a *API) getDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := a.attempts.Draft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (a *API) putAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid answer payload"})
		return
	}
	draft, err := a.attempts.Answer(r.Context(), chi.URLParam(r, "id"), req.QuestionID, req.OptionID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (a *API) resetDraft(w http.ResponseWriter, r *http.Request) {
	if err := a.attempts.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submit answers 200 when the score reached the remote store and 202 when it
// is queued on the device; both carry the scored result.
func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	result, err := a.attempts.Submit(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil && result.Outcome == app.OutcomeRemote:
		writeJSON(w, http.StatusOK, result)
	case err == nil, errors.Is(err, domain.ErrRemoteWriteExhausted):
		if err != nil {
			a.log.Warn("submission queued after remote failure", "challenge_id", result.ChallengeID, "error", err)
		}
		writeJSON(w, http.StatusAccepted, result)
	default:
		a.writeError(w, err)
	}
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// API exposes the engine over JSON.
type API struct {
	exams        *app.ExamService
	achievements *app.AchievementService
	certificates *app.CertificateIssuer
	hooks        *app.Hooks
	log          logrus.FieldLogger
	validate     *validator.Validate
}

func NewAPI(exams *app.ExamService, achievements *app.AchievementService, certificates *app.CertificateIssuer, hooks *app.Hooks, log logrus.FieldLogger) *API {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		exams:        exams,
		achievements: achievements,
		certificates: certificates,
		hooks:        hooks,
		log:          log,
		validate:     v,
	}
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /exams/attempts", a.startAttempt)
	mux.HandleFunc("POST /exams/attempts/{id}/submit", a.submitAttempt)
	mux.HandleFunc("GET /exams/attempts/{id}", a.getAttempt)
	mux.HandleFunc("GET /exams/attempts", a.listAttempts)
	mux.HandleFunc("POST /exams/banks/invalidate", a.invalidateBank)

	mux.HandleFunc("POST /events/lesson-completed", a.lessonCompleted)
	mux.HandleFunc("POST /events/booking-confirmed", a.bookingConfirmed)
	mux.HandleFunc("POST /events/quiz-submitted", a.quizSubmitted)

	mux.HandleFunc("GET /achievements/{userId}", a.overview)
	mux.HandleFunc("POST /points/redeem", a.redeem)

	mux.HandleFunc("GET /certificates", a.listCertificates)
	mux.HandleFunc("POST /certificates/manual", a.issueManual)
	mux.HandleFunc("GET /certificates/verify/{code}", a.verifyCertificate)
}

type startAttemptRequest struct {
	UserID           string `json:"userId" validate:"required"`
	CourseID         string `json:"courseId"`
	ModuleID         string `json:"moduleId"`
	NumQuestions     int    `json:"numQuestions" validate:"required,gt=0"`
	TimeLimitSeconds *int   `json:"timeLimitSeconds" validate:"omitempty,gt=0"`
	SingleChoiceLock bool   `json:"singleChoiceLock"`
}

func (a *API) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if !a.decode(w, r, &req) {
		return
	}
	started, err := a.exams.StartAttempt(r.Context(), app.StartRequest{
		UserID:           req.UserID,
		CourseID:         req.CourseID,
		ModuleID:         req.ModuleID,
		NumQuestions:     req.NumQuestions,
		TimeLimitSeconds: req.TimeLimitSeconds,
		SingleChoiceLock: req.SingleChoiceLock,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

type submitAttemptRequest struct {
	UserID  string `json:"userId" validate:"required"`
	Answers []struct {
		QuestionID string `json:"questionId" validate:"required"`
		AnswerID   string `json:"answerId" validate:"required"`
	} `json:"answers" validate:"dive"`
}

func (a *API) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitAttemptRequest
	if !a.decode(w, r, &req) {
		return
	}
	answers := make([]domain.SubmittedAnswer, 0, len(req.Answers))
	for _, ans := range req.Answers {
		answers = append(answers, domain.SubmittedAnswer{QuestionID: ans.QuestionID, AnswerID: ans.AnswerID})
	}
	result, err := a.exams.SubmitAttempt(r.Context(), r.PathValue("id"), req.UserID, answers)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) getAttempt(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		a.writeError(w, r, domain.InvalidInputf("userId is required"))
		return
	}
	view, err := a.exams.GetAttempt(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) listAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var scope *domain.Scope
	if q.Get("courseId") != "" || q.Get("moduleId") != "" {
		s, err := domain.ResolveScope(q.Get("courseId"), q.Get("moduleId"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		scope = &s
	}
	attempts, err := a.exams.ListAttempts(r.Context(), q.Get("userId"), scope)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

type invalidateBankRequest struct {
	CourseID string `json:"courseId"`
	ModuleID string `json:"moduleId"`
}

func (a *API) invalidateBank(w http.ResponseWriter, r *http.Request) {
	var req invalidateBankRequest
	if !a.decode(w, r, &req) {
		return
	}
	scope, err := a.exams.InvalidateBank(r.Context(), req.CourseID, req.ModuleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": scope})
}

type lessonCompletedRequest struct {
	UserID   string `json:"userId" validate:"required"`
	LessonID string `json:"lessonId" validate:"required"`
}

func (a *API) lessonCompleted(w http.ResponseWriter, r *http.Request) {
	var req lessonCompletedRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.accepted(w, a.hooks.LessonCompleted(req.UserID, req.LessonID))
}

type bookingConfirmedRequest struct {
	BookingID      string   `json:"bookingId" validate:"required"`
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required"`
}

func (a *API) bookingConfirmed(w http.ResponseWriter, r *http.Request) {
	var req bookingConfirmedRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.accepted(w, a.hooks.BookingConfirmed(req.BookingID, req.ParticipantIDs...))
}

type quizSubmittedRequest struct {
	UserID        string `json:"userId" validate:"required"`
	QuizAttemptID string `json:"quizAttemptId" validate:"required"`
}

func (a *API) quizSubmitted(w http.ResponseWriter, r *http.Request) {
	var req quizSubmittedRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.accepted(w, a.hooks.QuizSubmitted(req.UserID, req.QuizAttemptID))
}

func (a *API) overview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.achievements.Overview(r.Context(), r.PathValue("userId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type redeemRequest struct {
	UserID   string `json:"userId" validate:"required"`
	ItemName string `json:"itemName" validate:"required"`
	Cost     int    `json:"cost" validate:"required,gt=0"`
}

func (a *API) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !a.decode(w, r, &req) {
		return
	}
	redemption, state, err := a.achievements.RedeemPoints(r.Context(), req.UserID, req.ItemName, req.Cost)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemption": redemption, "state": state})
}

func (a *API) listCertificates(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		a.writeError(w, r, domain.InvalidInputf("userId is required"))
		return
	}
	certs, err := a.certificates.ListForUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

type manualCertificateRequest struct {
	UserID   string   `json:"userId" validate:"required"`
	CourseID string   `json:"courseId"`
	ModuleID string   `json:"moduleId"`
	Kind     string   `json:"kind" validate:"required,oneof=module_completion course_completion module_exam course_exam"`
	Score    *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
}

func (a *API) issueManual(w http.ResponseWriter, r *http.Request) {
	var req manualCertificateRequest
	if !a.decode(w, r, &req) {
		return
	}
	scope, err := domain.ResolveScope(req.CourseID, req.ModuleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	cert, err := a.certificates.IssueManual(r.Context(), app.IssueRequest{
		UserID: req.UserID,
		Scope:  scope,
		Kind:   domain.CredentialKind(req.Kind),
		Score:  req.Score,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

func (a *API) verifyCertificate(w http.ResponseWriter, r *http.Request) {
	public, err := a.certificates.Verify(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, public)
}

func (a *API) accepted(w http.ResponseWriter, ok bool) {
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorPayload{Message: "event not accepted, retry later"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid JSON body"})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, errorPayload{Message: strings.Join(msgs, "; ")})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: err.Error()})
		return false
	}
	return true
}

type errorPayload struct {
	Message  string `json:"message"`
	Current  *int   `json:"currentPoints,omitempty"`
	Required *int   `json:"requiredPoints,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	payload := errorPayload{Message: err.Error()}
	var insufficient *domain.InsufficientPointsError
	if errors.As(err, &insufficient) {
		payload.Current = &insufficient.Current
		payload.Required = &insufficient.Required
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, payload)
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, payload)
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, payload)
	default:
		a.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorPayload{Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

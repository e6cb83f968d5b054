package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/app"
	"github.com/shrimpsizemoose/semla/internal/attachments"
	"github.com/shrimpsizemoose/semla/internal/lifecycle"
	"github.com/shrimpsizemoose/semla/internal/metrics"
	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/store"
)

const maxUploadSize = 32 << 20

type SubmissionHandler struct {
	service *app.Service
}

func NewSubmissionHandler(service *app.Service) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
	}
}

func (h *SubmissionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/exercises/{exercise}/submissions", h.instrument(h.HandleCreate))
	mux.HandleFunc("GET /api/v1/exercises/{exercise}/best/{student}", h.instrument(h.HandleBest))
	mux.HandleFunc("GET /api/v1/categories/{category}/totals/{student}", h.instrument(h.HandleCategoryTotal))
	mux.HandleFunc("GET /api/v1/submissions/{id}", h.instrument(h.HandleGet))
	mux.HandleFunc("DELETE /api/v1/submissions/{id}", h.instrument(h.HandleDelete))
	mux.HandleFunc("POST /api/v1/submissions/{id}/waiting", h.instrument(h.HandleWaiting))
	mux.HandleFunc("POST /api/v1/submissions/{id}/grade", h.instrument(h.HandleGradeCallback))
	mux.HandleFunc("PUT /api/v1/submissions/{id}/grade", h.instrument(h.HandleEditGrade))
	mux.HandleFunc("POST /api/v1/submissions/{id}/attachments", h.instrument(h.HandleAddAttachment))
	mux.HandleFunc("GET /api/v1/submissions/{id}/attachments", h.instrument(h.HandleListAttachments))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *SubmissionHandler) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestDuration.WithLabelValues(
			r.Pattern,
			r.Method,
			strconv.Itoa(rec.status),
		).Observe(time.Since(start).Seconds())
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func headerID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(name), 10, 64)
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrHashMismatch):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrGradeOutOfRange),
		errors.Is(err, lifecycle.ErrNotGradable),
		errors.Is(err, attachments.ErrInvalidAttachment):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrGradebookSync):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logger.Error.Printf("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

// HandleCreate stores the request body as the submission document.
func (h *SubmissionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	exerciseID, ok := pathID(r, "exercise")
	if !ok {
		http.Error(w, "Invalid exercise", http.StatusBadRequest)
		return
	}
	student, ok := headerID(r, h.service.Config.API.StudentIDHeader)
	if !ok {
		http.Error(w, "Invalid student id specified", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error.Printf("Failed to read request body: %v", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	var data models.Document
	if len(body) > 0 {
		if !json.Valid(body) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		data = models.Document(body)
	}

	sub, err := h.service.Submissions.Create(r.Context(), exerciseID, student, data, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submission": sub,
		"hash":       sub.Hash,
	})
}

func (h *SubmissionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	sub, err := h.service.Submissions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submission":          sub,
		"grading_data_errors": sub.GradingDataErrors(),
	})
}

func (h *SubmissionHandler) HandleWaiting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	sub, err := h.service.Submissions.SetWaiting(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type gradingFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type gradeRequest struct {
	Points      int             `json:"points"`
	MaxPoints   int             `json:"max_points"`
	Feedback    string          `json:"feedback"`
	GradingData models.Document `json:"grading_data"`
	NoPenalties bool            `json:"no_penalties"`
	Error       *gradingFailure `json:"error"`
}

// HandleGradeCallback receives the grading service result. The hash query
// parameter must match the hash issued when the submission was created.
func (h *SubmissionHandler) HandleGradeCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	if _, err := h.service.Submissions.GetWithHash(r.Context(), id, r.URL.Query().Get("hash")); err != nil {
		writeError(w, err)
		return
	}

	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var sub *models.Submission
	var err error
	if req.Error != nil {
		kind, perr := lifecycle.ParseFailureKind(req.Error.Kind)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		sub, err = h.service.Submissions.Fail(r.Context(), id, &lifecycle.GradingError{Kind: kind, Err: errors.New(req.Error.Message)})
	} else {
		sub, err = h.service.Submissions.Grade(r.Context(), id, lifecycle.GradeResult{
			ServicePoints:    req.Points,
			ServiceMaxPoints: req.MaxPoints,
			Feedback:         req.Feedback,
			GradingData:      req.GradingData,
			NoPenalties:      req.NoPenalties,
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type editGradeRequest struct {
	Grade             int    `json:"grade"`
	Feedback          string `json:"feedback"`
	AssistantFeedback string `json:"assistant_feedback"`
}

func (h *SubmissionHandler) HandleEditGrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	grader, ok := headerID(r, h.service.Config.API.GraderIDHeader)
	if !ok {
		http.Error(w, "Invalid grader id specified", http.StatusUnauthorized)
		return
	}

	var req editGradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.service.Submissions.EditGrade(r.Context(), id, lifecycle.ManualGrade{
		GraderID:          grader,
		Grade:             req.Grade,
		Feedback:          req.Feedback,
		AssistantFeedback: req.AssistantFeedback,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	updateGradebook := r.URL.Query().Get("update_gradebook") == "true"
	if err := h.service.Submissions.Delete(r.Context(), id, updateGradebook); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubmissionHandler) HandleBest(w http.ResponseWriter, r *http.Request) {
	exerciseID, ok := pathID(r, "exercise")
	if !ok {
		http.Error(w, "Invalid exercise", http.StatusBadRequest)
		return
	}
	student, ok := pathID(r, "student")
	if !ok {
		http.Error(w, "Invalid student", http.StatusBadRequest)
		return
	}

	best, found, err := h.service.Submissions.Best(r.Context(), exerciseID, student)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"present": false, "grade": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"present":        true,
		"grade":          best.Grade,
		"submission_id":  best.Submission.ID,
		"date_submitted": best.SubmittedAt(),
	})
}

func (h *SubmissionHandler) HandleCategoryTotal(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r, "category")
	if !ok {
		http.Error(w, "Invalid category", http.StatusBadRequest)
		return
	}
	student, ok := pathID(r, "student")
	if !ok {
		http.Error(w, "Invalid student", http.StatusBadRequest)
		return
	}

	category, err := h.service.Store.GetCategory(r.Context(), categoryID)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := h.service.Aggregator.CategoryTotal(r.Context(), *category, student)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, total)
}

// HandleAddAttachment stores every file of a multipart upload under its form
// field key.
func (h *SubmissionHandler) HandleAddAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}

	var added []models.Attachment
	for key, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeError(w, err)
				return
			}
			a, err := h.service.Submissions.AddAttachment(r.Context(), id, key, fh.Filename, f)
			f.Close()
			if err != nil {
				writeError(w, err)
				return
			}
			added = append(added, a)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachments": added})
}

func (h *SubmissionHandler) HandleListAttachments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid submission", http.StatusBadRequest)
		return
	}
	files, err := h.service.Submissions.Attachments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": files})
}

package apiserver

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"quiz-attempt-engine/internal/domain"
)

type quizEnvelope struct {
	Quiz       domain.Quiz `json:"quiz"`
	ServerTime string      `json:"server_time"`
}

func (s *Server) getQuiz(w http.ResponseWriter, r *http.Request) {
	def, ok := s.loadQuiz(w, r)
	if !ok {
		return
	}
	if s.opts.LegacyShape {
		writeJSON(w, http.StatusOK, def.Quiz)
		return
	}
	writeJSON(w, http.StatusOK, quizEnvelope{
		Quiz:       def.Quiz,
		ServerTime: s.opts.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	def, ok := s.loadQuiz(w, r)
	if !ok {
		return
	}
	if !def.Quiz.HasAttachment() || s.blobs == nil {
		writeError(w, http.StatusNotFound, "quiz has no attachment")
		return
	}
	rc, err := s.blobs.Get(def.Quiz.Attachment)
	if err != nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	defer rc.Close()
	if ct := mime.TypeByExtension(path.Ext(def.Quiz.Attachment)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, path.Base(def.Quiz.Attachment)))
	_, _ = io.Copy(w, rc)
}

func (s *Server) startAttempt(w http.ResponseWriter, r *http.Request) {
	def, ok := s.loadQuiz(w, r)
	if !ok {
		return
	}
	userID, _ := SubjectFromContext(r.Context())

	attempt, created, err := s.attempts.Start(r.Context(), def.Quiz.ID, userID, s.opts.Now())
	if err != nil {
		log.Printf("start attempt for quiz %s: %v", def.Quiz.ID, err)
		writeError(w, http.StatusInternalServerError, "could not start attempt")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Printf("attempt %s started for quiz %s (user %s)", attempt.ID, def.Quiz.ID, userID)
	}
	writeJSON(w, status, attempt)
}

func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request) {
	def, ok := s.loadQuiz(w, r)
	if !ok {
		return
	}
	userID, _ := SubjectFromContext(r.Context())
	now := s.opts.Now()

	attempt, err := s.attempts.Find(r.Context(), def.Quiz.ID, userID)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		writeError(w, http.StatusNotFound, "no attempt has been started for this quiz")
		return
	}
	if err != nil {
		log.Printf("find attempt for quiz %s: %v", def.Quiz.ID, err)
		writeError(w, http.StatusInternalServerError, "could not load attempt")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && key != attempt.ID {
		writeError(w, http.StatusConflict, "idempotency key does not match the current attempt")
		return
	}
	// A repeated submit returns the stored result.
	if attempt.Status == domain.AttemptSubmitted && attempt.Result != nil {
		writeJSON(w, http.StatusOK, attempt.Result)
		return
	}
	if s.opts.SubmitGrace > 0 && def.Quiz.TimeLimitMinutes > 0 {
		deadline := attempt.StartedAt.Add(def.Quiz.TimeLimit() + s.opts.SubmitGrace)
		if now.After(deadline) {
			writeError(w, http.StatusGone, "the time limit for this attempt has passed")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	answers, err := parseAnswers(def.Quiz, r.MultipartForm.Value)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	file, header, err := r.FormFile("attachment")
	hasFile := err == nil
	if hasFile {
		defer file.Close()
	}
	switch {
	case def.Quiz.HasAttachment() && !hasFile:
		writeError(w, http.StatusUnprocessableEntity, "an answer file is required for this quiz")
		return
	case !def.Quiz.HasAttachment() && hasFile:
		writeError(w, http.StatusUnprocessableEntity, domain.ErrAttachmentForbidden.Error())
		return
	}

	var filename string
	if hasFile {
		filename = path.Base(header.Filename)
		if filename == "." || filename == ".." || filename == "/" {
			writeError(w, http.StatusUnprocessableEntity, "the answer file needs a file name")
			return
		}
	}

	if hasFile && s.blobs != nil {
		key := path.Join("attempts", attempt.ID, filename)
		if _, err := s.blobs.Put(key, file); err != nil {
			log.Printf("store answer file for attempt %s: %v", attempt.ID, err)
			writeError(w, http.StatusInternalServerError, "could not store the answer file")
			return
		}
	}

	result := Grade(def, answers, hasFile)
	stored, first, err := s.attempts.Complete(r.Context(), attempt.ID, result, now)
	if err != nil {
		log.Printf("complete attempt %s: %v", attempt.ID, err)
		writeError(w, http.StatusInternalServerError, "could not record the submission")
		return
	}
	if first {
		log.Printf("attempt %s submitted: %s", attempt.ID, stored.Status)
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) loadQuiz(w http.ResponseWriter, r *http.Request) (domain.QuizDefinition, bool) {
	quizID := chi.URLParam(r, "quizID")
	def, err := s.quizzes.GetQuiz(r.Context(), quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return domain.QuizDefinition{}, false
	}
	if err != nil {
		log.Printf("load quiz %s: %v", quizID, err)
		writeError(w, http.StatusInternalServerError, "could not load quiz")
		return domain.QuizDefinition{}, false
	}
	return def, true
}

// parseAnswers reads answers[i][question_id] / answers[i][user_answer] pairs.
func parseAnswers(quiz domain.Quiz, values map[string][]string) (domain.AnswerSet, error) {
	answers := make(domain.AnswerSet)
	for i := 0; ; i++ {
		ids, ok := values[fmt.Sprintf("answers[%d][question_id]", i)]
		if !ok || len(ids) == 0 {
			break
		}
		id := ids[0]
		if _, ok := quiz.Question(id); !ok {
			return nil, fmt.Errorf("unknown question %q", id)
		}
		if _, dup := answers[id]; dup {
			return nil, fmt.Errorf("question %q answered twice", id)
		}
		var answer string
		if v := values[fmt.Sprintf("answers[%d][user_answer]", i)]; len(v) > 0 {
			answer = v[0]
		}
		answers[id] = answer
	}
	return answers, nil
}

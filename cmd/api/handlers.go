package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diacheck/diacheck/engine/predict"
	"github.com/diacheck/diacheck/pkg/mid"
)

// Client-facing error messages.
const (
	msgModelUnavailable = "Model failed to load on server."
	msgDataFormat       = "Processing or data format error: "
	msgInferenceFailed  = "model inference failed"
	msgPredictFailed    = "Prediction failed."
)

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("POST /predict", a.handlePredict)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.Handle("GET /metrics", a.reg.Handler())
	if a.cfg.AdminReload {
		mux.HandleFunc("POST /admin/reload", a.handleReload)
	}

	return a.middleware(mux)
}

// middleware wraps h in the server's chain. RequestID runs first so a
// recovered panic is logged with the request's id.
func (a *app) middleware(h http.Handler) http.Handler {
	return mid.Chain(h,
		mid.RequestID(),
		mid.Recover(a.logger),
		mid.Logger(a.logger),
		mid.CORS(a.cfg.CORSOrigin),
		mid.OTel(a.cfg.ServiceName),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *app) handleIndex(w http.ResponseWriter, _ *http.Request) {
	status := "Ready"
	if !a.svc.Ready() {
		status = "Error"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "DiaCheck API is running. Model status: "+status)
}

// HealthResponse is the JSON body of GET /api/health. Error carries the
// most recent load failure; it is set while the model is unavailable and
// after a failed reload that left the previous bundle serving.
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Variant string `json:"variant"`
	Error   string `json:"error,omitempty"`
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Model: "ready", Variant: a.svc.Variant().ID}
	if !a.svc.Ready() {
		resp.Model = "unavailable"
	}
	if err := a.loadError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, msgDataFormat+"request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, msgDataFormat+"could not read request body")
		return
	}

	res, err := a.svc.Predict(r.Context(), body)
	if err != nil {
		status, msg := a.describe(err)
		log := a.logger.With("request_id", mid.RequestIDFrom(r.Context()), "status", status)
		if status >= http.StatusInternalServerError {
			log.Error("prediction failed", "err", err)
		} else {
			log.Info("prediction rejected", "err", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// describe maps a prediction error to its HTTP status and client message.
// Inference details stay in the logs.
func (a *app) describe(err error) (int, string) {
	switch predict.ClassOf(err) {
	case predict.ClassUnavailable:
		return http.StatusInternalServerError, msgModelUnavailable
	case predict.ClassClient:
		var pe *predict.Error
		if errors.As(err, &pe) && pe.Stage != predict.StageParse {
			return http.StatusBadRequest, msgDataFormat + msgInferenceFailed
		}
		if pe != nil {
			return http.StatusBadRequest, msgDataFormat + pe.Err.Error()
		}
		return http.StatusBadRequest, msgDataFormat + err.Error()
	default:
		return http.StatusInternalServerError, msgPredictFailed
	}
}

func (a *app) handleReload(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		predict.ReloadEvent
	}{Status: "reloaded", ReloadEvent: predict.EventFor(a.svc.Variant().ID, b)})
}

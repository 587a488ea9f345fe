package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"fieldsync/internal/domain"
	"fieldsync/internal/middleware"
	"fieldsync/internal/service"
	"fieldsync/pkg/response"

	"github.com/gorilla/mux"
)

// RecordHandler serves the record push, pull and attachment endpoints.
type RecordHandler struct {
	service *service.RecordService
}

func NewRecordHandler(service *service.RecordService) *RecordHandler {
	return &RecordHandler{service: service}
}

func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, true)
}

func (h *RecordHandler) CreateUnverified(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, false)
}

func (h *RecordHandler) create(w http.ResponseWriter, r *http.Request, verifiedRoute bool) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Create(r.Context(), middleware.Caller(r), payload, verifiedRoute)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Document(w, http.StatusCreated, doc)
}

func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Update(r.Context(), middleware.Caller(r), mux.Vars(r)["id"], payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Document(w, http.StatusOK, doc)
}

func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), middleware.Caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Document(w, http.StatusOK, doc)
}

func (h *RecordHandler) Attachment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	att, err := h.service.Attachment(r.Context(), middleware.Caller(r), vars["id"], vars["key"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Bytes(w, att.ContentType, att.Data)
}

// IDs lists the caller's records as an id to revision map.
func (h *RecordHandler) IDs(w http.ResponseWriter, r *http.Request) {
	revs, err := h.service.IDsAndRevs(r.Context(), middleware.Caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Document(w, http.StatusOK, revs)
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*domain.SyncPayload, bool) {
	var payload domain.SyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return nil, false
	}
	return &payload, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrInvalidPayload):
		response.BadRequest(w, err.Error())
	default:
		log.Printf("[records] request failed: %v", err)
		response.InternalError(w, "Internal server error")
	}
}

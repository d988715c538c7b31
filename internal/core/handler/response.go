package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/middleware"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type PageResponse[T any] struct {
	Items      []T               `json:"items"`
	Pagination models.Pagination `json:"pagination"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", usecase.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request payload", usecase.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", usecase.ErrValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}

func statusOf(kind usecase.ErrorKind) int {
	switch kind {
	case usecase.KindValidation:
		return http.StatusBadRequest
	case usecase.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case usecase.KindConflict:
		return http.StatusConflict
	case usecase.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondWithUsecaseError maps err onto the error taxonomy. Internal details are logged, not returned.
func respondWithUsecaseError(w http.ResponseWriter, log logger.Logger, err error, fields ...logger.Field) {
	kind := usecase.KindOf(err)
	if kind == usecase.KindInternal {
		log.Error("Request failed", append(fields, logger.ErrorField("error", err))...)
		respondWithError(w, http.StatusInternalServerError, "internal server error", kind)
		return
	}
	log.Warn("Request rejected", append(fields,
		logger.StringField("code", kind.String()),
		logger.ErrorField("error", err))...)
	respondWithError(w, statusOf(kind), err.Error(), kind)
}

func respondWithError(w http.ResponseWriter, code int, message string, kind usecase.ErrorKind) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: kind.String()})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func accountFrom(r *http.Request) uuid.UUID {
	id, _ := middleware.AccountID(r.Context())
	return id
}

func parseID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed id", usecase.ErrValidation)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", usecase.ErrValidation, key)
	}
	return n, nil
}

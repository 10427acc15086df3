package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"net/http"
	"strconv"
)

const (
	statusSuccess = "Success"
	statusError   = "Error"

	msgInternal = "Internal server error"
)

// Harga dan total dikirim sebagai angka JSON (`"price":10000`), bukan string.
func init() { decimal.MarshalJSONWithoutQuotes = true }

// GeneralResponse adalah envelope semua response dari kedua service.
type GeneralResponse struct {
	Code    string `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, GeneralResponse{Code: "200", Status: statusSuccess, Message: message, Data: data})
}

func created(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, GeneralResponse{Code: "201", Status: statusSuccess, Message: message, Data: data})
}

func deleted(w http.ResponseWriter, message string) {
	ok(w, message, nil)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail menerjemahkan error ke envelope. Internal error dicatat lengkap,
// tapi client hanya dapat pesan generik.
func fail(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	msg := apperr.Message(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("internal error")
		msg = msgInternal
	} else {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}
	writeJSON(w, code, GeneralResponse{Code: strconv.Itoa(code), Status: statusError, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, GeneralResponse{Code: "400", Status: statusError, Message: msg})
}

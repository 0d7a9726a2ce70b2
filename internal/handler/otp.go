package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/service"
)

// OTPIssuer is the phone sign-in part of service.AuthService.
type OTPIssuer interface {
	RequestOTP(ctx context.Context, phone string) (*service.OTPDelivery, error)
	VerifyOTP(ctx context.Context, phone, code, name string) (*service.AuthResult, error)
}

// OTPHandler serves the phone OTP routes.
type OTPHandler struct {
	svc        OTPIssuer
	exposeCode bool
	responder
}

// NewOTPHandler creates an OTPHandler. Outside production the issued code
// is echoed in the response so the flow can be exercised without SMS.
func NewOTPHandler(svc OTPIssuer, mode Mode, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{
		svc:        svc,
		exposeCode: !mode.Production,
		responder:  responder{logger: logger, dev: mode.Verbose},
	}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendOTPResponse struct {
	Success   bool   `json:"success"`
	Method    string `json:"method"`
	Message   string `json:"message"`
	Fallback  bool   `json:"fallback,omitempty"`
	ExpiresIn int    `json:"expiresIn"`
	OTP       string `json:"otp,omitempty"`
}

// HandleSend issues a code.
//
// HTTP: POST /otp/send  {phoneNumber}
func (h *OTPHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, "OTP sent successfully")
}

// HandleResend issues a fresh code, replacing the previous one.
//
// HTTP: POST /otp/resend  {phoneNumber}
func (h *OTPHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, "OTP resent successfully")
}

func (h *OTPHandler) send(w http.ResponseWriter, r *http.Request, smsMessage string) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.svc.RequestOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := sendOTPResponse{
		Success:   true,
		Method:    d.Method,
		Message:   smsMessage,
		Fallback:  d.Fallback,
		ExpiresIn: int(time.Until(d.ExpiresAt).Round(time.Second).Seconds()),
	}
	if d.Method == service.MethodMock {
		resp.Message = "OTP generated, SMS delivery is unavailable"
	}
	if h.exposeCode {
		resp.OTP = d.Code
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
	Name        string `json:"name"`
}

type verifyOTPResponse struct {
	Success   bool        `json:"success"`
	Token     string      `json:"token"`
	IsNewUser bool        `json:"isNewUser"`
	User      *model.User `json:"user"`
}

// HandleVerify checks a code and signs the phone's owner in.
//
// HTTP: POST /otp/verify  {phoneNumber, otp, name?}
// A missing record is a client error here (400), not a missing resource.
func (h *OTPHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP, req.Name)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			h.writeErrorStatus(w, r, http.StatusBadRequest, err)
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, verifyOTPResponse{
		Success:   true,
		Token:     res.Token,
		IsNewUser: res.IsNewUser,
		User:      res.User,
	})
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/middleware"
)

type signupRequest struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// loginRequest accepts the identifier under any of its three names.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (l loginRequest) identifier() string {
	for _, v := range []string{l.Identifier, l.Username, l.Email} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type updateMeRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Username        *string `json:"username"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"passwordConfirm"`
}

type lockoutResponse struct {
	Identifier string     `json:"identifier"`
	Locked     bool       `json:"locked"`
	Failures   int        `json:"failures"`
	Until      *time.Time `json:"until,omitempty"`
}

func userData(v identity.AccountView) map[string]any {
	return map[string]any{"user": v}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sendSession answers every flow that ends with a fresh session.
func (h *Handler) sendSession(w http.ResponseWriter, code int, res *identity.AuthResult) {
	h.setSessionCookie(w, res.Session, res.ExpiresAt)
	writeJSON(w, code, envelope{Token: res.Session, Data: userData(res.Account)})
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*identity.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.errs.write(w, r, identity.ErrUnauthorized)
	}
	return p, ok
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	res, err := h.engine.Signup(r.Context(), identity.SignupInput{
		Name:            req.Name,
		Handle:          req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if res == nil {
		h.errs.write(w, r, err)
		return
	}

	body := envelope{
		Message: "a confirmation link was sent to your email address",
		Data:    userData(res.Account),
	}
	if err != nil {
		body.Message = identity.Message(err)
	}
	if res.Session != "" {
		h.setSessionCookie(w, res.Session, h.opts.Now().Add(h.engine.SessionTTL()))
		body.Token = res.Session
	}
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handler) confirmEmail(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ConfirmEmail(r.Context(), identity.ConfirmEmailInput{Token: r.PathValue("token")})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, res)
}

func (h *Handler) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.engine.ResendConfirmation(r.Context(), identity.ResendConfirmationInput{Email: req.Email}); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "a new confirmation link was sent to your email address"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	res, err := h.engine.Login(r.Context(), identity.LoginInput{
		Identifier: req.identifier(),
		Password:   req.Password,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, res)
}

// logout overwrites the session cookie with a short-lived placeholder.
func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.setSessionCookie(w, "loggedout", h.opts.Now().Add(10*time.Second))
	writeJSON(w, http.StatusOK, envelope{})
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), identity.ForgotPasswordInput{Email: req.Email}); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "a password reset link was sent to your email address"})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	res, err := h.engine.ResetPassword(r.Context(), identity.ResetPasswordInput{
		Token:           r.PathValue("token"),
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, res)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	res, err := h.engine.ChangePassword(r.Context(), identity.ChangePasswordInput{
		AccountID:          p.Account.ID,
		CurrentPassword:    req.PasswordCurrent,
		NewPassword:        req.Password,
		NewPasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, res)
}

func (h *Handler) changeUsername(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req usernameRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	v, err := h.engine.ChangeUsername(r.Context(), identity.ChangeUsernameInput{
		AccountID: p.Account.ID,
		Handle:    req.Username,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: userData(*v)})
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req updateMeRequest
	if err := decode(r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	if req.Password != "" || req.PasswordConfirm != "" {
		h.errs.write(w, r, &identity.Error{
			Kind:    identity.ErrValidation,
			Message: "this route is not for password updates, please use /changeMyPassword",
		})
		return
	}

	v, err := h.engine.UpdateProfile(r.Context(), identity.UpdateProfileInput{
		AccountID: p.Account.ID,
		Name:      req.Name,
		Email:     req.Email,
		Handle:    req.Username,
	})
	if v == nil {
		h.errs.write(w, r, err)
		return
	}
	body := envelope{Data: userData(*v)}
	if err != nil {
		body.Message = identity.Message(err)
	} else if v.PendingEmail != "" {
		body.Message = "a confirmation link was sent to your new email address"
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) deleteMe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.engine.Deactivate(r.Context(), identity.DeactivateInput{AccountID: p.Account.ID}); err != nil {
		h.errs.write(w, r, err)
		return
	}
	h.setSessionCookie(w, "loggedout", h.opts.Now().Add(10*time.Second))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	v, err := h.engine.Me(r.Context(), p.Account.ID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: userData(*v)})
}

// session reports whether the request is logged in. It never fails, so page
// renderers can call it unconditionally.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"loggedIn": false}
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		data["loggedIn"] = true
		data["user"] = p.Account
	}
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func (h *Handler) lockout(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	st, err := h.engine.LockoutStatus(r.Context(), identifier)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	resp := lockoutResponse{Identifier: identifier, Locked: st.Locked, Failures: st.Failures}
	if !st.Until.IsZero() {
		until := st.Until.UTC()
		resp.Until = &until
	}
	writeJSON(w, http.StatusOK, envelope{Data: resp})
}

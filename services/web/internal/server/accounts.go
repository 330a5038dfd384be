package server

import (
	"errors"
	"net/http"

	"bookreview/pkg/domain"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/forms"
	"bookreview/services/web/internal/notify"
	"bookreview/services/web/internal/security"
)

type signupPage struct {
	Form   forms.SignupForm
	Errors *forms.ValidationError
}

type loginPage struct {
	Username string
	Next     string
	Errors   *forms.ValidationError
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "signup", "Sign up", signupPage{})
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, security.EventSignup) {
		return
	}
	values, ok := s.postForm(w, r)
	if !ok {
		return
	}
	form, err := forms.BindSignup(values)
	var (
		user    domain.User
		outcome notify.WelcomeOutcome
	)
	if err == nil {
		user, outcome, err = s.app.SignUp(r.Context(), form)
	}
	if err != nil {
		ve, ok := forms.AsValidation(err)
		if !ok {
			s.pageError(w, r, err)
			return
		}
		s.audit(r, security.EventSignup, security.OutcomeFail)
		s.observeFailure(r, security.EventSignup, security.OutcomeFail)
		form.Password1, form.Password2 = "", ""
		s.render(w, r, http.StatusOK, "signup", "Sign up", signupPage{Form: form, Errors: ve})
		return
	}

	s.audit(r, security.EventSignup, "success", "user_id", user.ID)
	level, text := welcomeFlash(outcome)
	s.addFlash(w, r, level, text)
	redirect(w, r, reverse(RouteLogin))
}

func welcomeFlash(outcome notify.WelcomeOutcome) (domain.FlashLevel, string) {
	switch outcome {
	case notify.WelcomeSent:
		return domain.FlashSuccess, "Account created. A welcome email was sent to your address."
	case notify.WelcomeFailed:
		return domain.FlashWarning, "Account created, but we couldn't send a welcome email at this time."
	case notify.WelcomeNoEmail:
		return domain.FlashSuccess, "Account created. (No email address provided.)"
	default:
		return domain.FlashSuccess, "Account created."
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "login", "Log in", loginPage{Next: r.URL.Query().Get("next")})
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, security.EventLogin) {
		return
	}
	values, ok := s.postForm(w, r)
	if !ok {
		return
	}
	page := loginPage{Username: values.Get("username"), Next: values.Get("next")}
	form, err := forms.BindLogin(values)
	if err != nil {
		if ve, ok := forms.AsValidation(err); ok {
			page.Errors = ve
			s.render(w, r, http.StatusOK, "login", "Log in", page)
			return
		}
		s.pageError(w, r, err)
		return
	}

	user, token, err := s.app.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		if !errors.Is(err, app.ErrInvalidCredentials) && !errors.Is(err, app.ErrUserDisabled) {
			s.pageError(w, r, err)
			return
		}
		s.audit(r, security.EventLogin, security.OutcomeFail, "username", form.Username)
		s.observeFailure(r, security.EventLogin, security.OutcomeFail)
		ve := forms.NewValidationError()
		ve.Add(forms.NonField, forms.MsgBadCredentials)
		page.Errors = ve
		s.render(w, r, http.StatusOK, "login", "Log in", page)
		return
	}

	s.setSessionCookie(w, token)
	s.audit(r, security.EventLogin, "success", "user_id", user.ID)
	redirect(w, r, safeNext(page.Next))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess.token != "" {
		if err := s.app.Logout(r.Context(), sess.token); err != nil {
			logError(r, "logout", err)
		}
	}
	s.clearSessionCookie(w)
	if sess.user != nil {
		s.audit(r, "logout", "success", "user_id", sess.user.ID)
	}
	s.addFlash(w, r, domain.FlashSuccess, "You have been logged out.")
	redirect(w, r, reverse(RouteHome))
}

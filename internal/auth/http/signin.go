package http

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// Paths of the built-in browser pages. The security chain owns the POST
// /signin/authenticate and /signout endpoints.
const (
	PathSignin             = "/signin"
	PathSigninAuthenticate = "/signin/authenticate"
	PathSignout            = "/signout"
	PathSignup             = "/signup"
)

// Messages shown on the fixed pages, keyed by the param.* query values the
// chain and the signup handler redirect with. Only these strings are ever
// written into a page.
var pageMessages = map[string]string{
	"bad_credentials":  "Your sign in information was not correct. Please try again.",
	"logout":           "You have been signed out.",
	"signup":           "Your account has been created. Please sign in.",
	"invalid_username": "Usernames are 3 to 32 letters, digits, dashes or underscores.",
	"invalid_password": "Passwords are 8 to 128 characters.",
	"username_taken":   "That username is already taken.",
	"server_error":     "Something went wrong. Please try again later.",
}

const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p class="message">%s</p>
%s
</body>
</html>
`

const signinForm = `<form method="post" action="` + PathSigninAuthenticate + `">
<label>Username <input type="text" name="username" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<label>One-time code <input type="text" name="otp" inputmode="numeric" autocomplete="one-time-code"></label>
<button type="submit">Sign in</button>
</form>
<p><a href="` + PathSignup + `">Create an account</a></p>`

const signupForm = `<form method="post" action="` + PathSignup + `">
<label>Username <input type="text" name="username" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="new-password" required></label>
<button type="submit">Sign up</button>
</form>
<p><a href="` + PathSignin + `">Sign in</a></p>`

func writePage(w http.ResponseWriter, status int, title, message, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, pageLayout, title, title, message, body)
}

// pageMessage picks the message for the first known param.* query value.
func pageMessage(q url.Values) string {
	for _, key := range []string{"param.error", "param.info"} {
		if msg, ok := pageMessages[q.Get(key)]; ok {
			return msg
		}
	}
	if q.Has("logout") {
		return pageMessages["logout"]
	}
	return ""
}

// SigninPageHandler godoc
//
//	@Summary		Sign-in page
//	@Description	Fixed HTML form posting to /signin/authenticate.
//	@Tags			Web
//	@Produce		html
//	@Success		200	{string}	string	"HTML form"
//	@Router			/signin [get]
func SigninPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writePage(w, http.StatusOK, "Sign in", pageMessage(r.URL.Query()), signinForm)
	}
}

const signoutForm = `<form method="post" action="` + PathSignout + `">
<button type="submit">Sign out</button>
</form>`

// HomeHandler godoc
//
//	@Summary		Home page
//	@Description	Landing page after sign in.
//	@Tags			Web
//	@Produce		html
//	@Success		200	{string}	string	"HTML page"
//	@Router			/ [get]
func HomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := security.CurrentAuthentication(r.Context())
		if !auth.IsAuthenticated() {
			http.Redirect(w, r, PathSignin, http.StatusFound)
			return
		}
		writePage(w, http.StatusOK, "Bastion", "Signed in as "+html.EscapeString(auth.Principal)+".", signoutForm)
	}
}

// SignupHandler registers resource owners with ROLE_USER.
type SignupHandler struct {
	Users *service.UserService
}

// HandlePage godoc
//
//	@Summary		Sign-up page
//	@Tags			Web
//	@Produce		html
//	@Success		200	{string}	string	"HTML form"
//	@Router			/signup [get]
func (h *SignupHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	writePage(w, http.StatusOK, "Sign up", pageMessage(r.URL.Query()), signupForm)
}

// HandleSubmit godoc
//
//	@Summary		Create an account
//	@Description	Creates a user and redirects to the sign-in page, or back to the form with an error.
//	@Tags			Web
//	@Accept			application/x-www-form-urlencoded
//	@Param			username	formData	string	true	"Username"
//	@Param			password	formData	string	true	"Password"
//	@Success		302			{string}	string	"Redirect to /signin or /signup"
//	@Router			/signup [post]
func (h *SignupHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, PathSignup+"?param.error=server_error", http.StatusFound)
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))

	u, err := h.Users.CreateUser(ctx, username, r.PostForm.Get("password"))
	if err != nil {
		code := "server_error"
		switch {
		case errors.Is(err, service.ErrInvalidUsername):
			code = "invalid_username"
		case errors.Is(err, service.ErrInvalidPassword):
			code = "invalid_password"
		case errors.Is(err, service.ErrUsernameTaken):
			code = "username_taken"
		default:
			log.Error("signup failed", "err", err)
		}
		http.Redirect(w, r, PathSignup+"?param.error="+code, http.StatusFound)
		return
	}

	log.Info("user signed up", "user_id", u.ID, "username", u.Username)
	http.Redirect(w, r, PathSignin+"?param.info=signup", http.StatusFound)
}

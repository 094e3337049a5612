package backend

import (
	"net/http"
	"strings"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/csql"
	"github.com/gt3pedia/backend/core/logger"
)

// handleAuthRoutes installs registration, login and profile.
//
// Registration creates a standard-role account and does not imply login;
// the response carries no token. Login answers a single generic message
// for both unknown email and wrong password, so callers cannot probe
// which part was wrong.
func (b *Backend) handleAuthRoutes() {
	nillog := logger.Default()
	nillog.Debugln("  handle auth routes: /auth/register POST, /auth/login POST, /auth/profile GET")

	register := func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
		}
		if !decodeBodyInto(w, r, &request) {
			return
		}
		email := normalizeEmail(request.Email)
		displayName := strings.TrimSpace(request.DisplayName)

		errors := map[string]string{}
		if !validEmail(email) {
			errors["email"] = "enter a valid email address"
		}
		if len(request.Password) < minimumPasswordLength {
			errors["password"] = "password must be at least 6 characters"
		}
		if displayName == "" {
			errors["display_name"] = "display name must not be empty"
		}
		if len(errors) > 0 {
			writeValidation(w, errors)
			return
		}

		// email and display name are checked independently so the two
		// conflicts stay distinguishable
		if conflict, err := b.emailTaken(email, 0); err != nil {
			writeInternalError(w, r, 4771, err)
			return
		} else if conflict {
			writeMessage(w, http.StatusConflict, "a user with this email already exists")
			return
		}
		if conflict, err := b.displayNameTaken(displayName, 0); err != nil {
			writeInternalError(w, r, 4772, err)
			return
		} else if conflict {
			writeMessage(w, http.StatusConflict, "a user with this display name already exists")
			return
		}

		digest, err := access.HashPassword(request.Password)
		if err != nil {
			writeInternalError(w, r, 4773, err)
			return
		}
		id, err := b.insertUser(email, digest, displayName, access.RoleUser)
		if csql.IsUniqueViolation(err) {
			writeMessage(w, http.StatusConflict, "a user with this email or display name already exists")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4774, err)
			return
		}
		user, err := b.readUser(id)
		if err != nil {
			writeInternalError(w, r, 4775, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}

	login := func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeBodyInto(w, r, &request) {
			return
		}
		email := normalizeEmail(request.Email)

		var user userRepresentation
		var digest string
		err := b.db.QueryRow("SELECT "+publicUserColumns+", password_hash FROM users WHERE LOWER(email) = LOWER(?)", email).
			Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt, &user.UpdatedAt, &digest)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4781, err)
			return
		}
		match, err := access.VerifyPassword(request.Password, digest)
		if err != nil {
			writeInternalError(w, r, 4782, err)
			return
		}
		if !match {
			writeMessage(w, http.StatusUnauthorized, "invalid email or password")
			return
		}

		token, err := b.tokens.Issue(&access.Session{
			UserID:      user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		})
		if err != nil {
			writeInternalError(w, r, 4783, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"user":  user,
		})
	}

	// profile re-reads the caller by the subject id embedded in the
	// verified token, never by a client-supplied id
	profile := func(w http.ResponseWriter, r *http.Request) {
		session := access.SessionFromContext(r.Context())
		user, err := b.readUser(session.UserID)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4784, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}

	b.router.HandleFunc("/auth/register", register).Methods(http.MethodPost)
	b.router.HandleFunc("/auth/login", login).Methods(http.MethodPost)
	b.router.Handle("/auth/profile", access.Authenticate(b.tokens, true)(http.HandlerFunc(profile))).Methods(http.MethodGet)
}

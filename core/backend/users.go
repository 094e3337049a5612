package backend

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/csql"
	"github.com/gt3pedia/backend/core/logger"
)

// userRepresentation is the public-safe view of a user record. The
// password digest has no field here at all; it is excluded structurally,
// not by an opt-in field list.
type userRepresentation struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

const publicUserColumns = "id, email, display_name, role, created_at, updated_at"

const minimumPasswordLength = 6

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	address, err := mail.ParseAddress(email)
	return err == nil && address.Address == email
}

func (b *Backend) readUser(id int64) (*userRepresentation, error) {
	var user userRepresentation
	err := b.db.QueryRow("SELECT "+publicUserColumns+" FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// emailTaken and displayNameTaken back the explicit uniqueness checks the
// user resource performs before every write. The storage constraints
// enforce the same invariants; both paths end in a conflict answer.
func (b *Backend) emailTaken(email string, excludeID int64) (bool, error) {
	var id int64
	err := b.db.QueryRow("SELECT id FROM users WHERE LOWER(email) = LOWER(?) AND id != ?", email, excludeID).Scan(&id)
	if err == csql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) displayNameTaken(displayName string, excludeID int64) (bool, error) {
	var id int64
	err := b.db.QueryRow("SELECT id FROM users WHERE LOWER(display_name) = LOWER(?) AND id != ?", displayName, excludeID).Scan(&id)
	if err == csql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) insertUser(email, digest, displayName, role string) (int64, error) {
	result, err := b.db.Exec("INSERT INTO users (email, password_hash, display_name, role) VALUES(?, ?, ?, ?)",
		email, digest, displayName, role)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// createUserResource bootstraps the users table and installs the user
// administration routes. Users are not served by the generic engine: the
// resource layers uniqueness, password handling and self-protection rules
// on top of plain CRUD.
func (b *Backend) createUserResource() {
	nillog := logger.Default()
	nillog.Debugln("create collection: users")

	createQuery := `CREATE TABLE IF NOT EXISTS users (
id INTEGER PRIMARY KEY AUTOINCREMENT,
email TEXT NOT NULL COLLATE NOCASE UNIQUE,
password_hash TEXT NOT NULL,
display_name TEXT NOT NULL COLLATE NOCASE UNIQUE,
role TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('user','admin')),
created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP);`
	if _, err := b.db.Exec(createQuery); err != nil {
		nillog.WithError(err).Errorln("cannot create users table")
		panic("invalid configuration")
	}

	list := func(w http.ResponseWriter, r *http.Request) {
		rows, err := b.db.Query("SELECT " + publicUserColumns + " FROM users ORDER BY id ASC")
		if err != nil {
			writeInternalError(w, r, 4751, err)
			return
		}
		defer rows.Close()
		response := []userRepresentation{}
		for rows.Next() {
			var user userRepresentation
			if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt, &user.UpdatedAt); err != nil {
				writeInternalError(w, r, 4752, err)
				return
			}
			response = append(response, user)
		}
		writeJSON(w, http.StatusOK, response)
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		user, err := b.readUser(id)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4753, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
			Role        string `json:"role"`
		}
		if !decodeBodyInto(w, r, &request) {
			return
		}
		email := normalizeEmail(request.Email)
		displayName := strings.TrimSpace(request.DisplayName)
		role := request.Role
		if role == "" {
			role = access.RoleUser
		}

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
		if !access.ValidRole(role) {
			errors["role"] = "role must be user or admin"
		}
		if len(errors) > 0 {
			writeValidation(w, errors)
			return
		}

		if conflict, err := b.emailTaken(email, 0); err != nil {
			writeInternalError(w, r, 4754, err)
			return
		} else if conflict {
			writeMessage(w, http.StatusConflict, "a user with this email already exists")
			return
		}
		if conflict, err := b.displayNameTaken(displayName, 0); err != nil {
			writeInternalError(w, r, 4755, err)
			return
		} else if conflict {
			writeMessage(w, http.StatusConflict, "a user with this display name already exists")
			return
		}

		digest, err := access.HashPassword(request.Password)
		if err != nil {
			writeInternalError(w, r, 4756, err)
			return
		}
		id, err := b.insertUser(email, digest, displayName, role)
		if csql.IsUniqueViolation(err) {
			writeMessage(w, http.StatusConflict, "a user with this email or display name already exists")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4757, err)
			return
		}
		user, err := b.readUser(id)
		if err != nil {
			writeInternalError(w, r, 4758, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		var currentEmail, currentDisplayName string
		err := b.db.QueryRow("SELECT email, display_name FROM users WHERE id = ?", id).Scan(&currentEmail, &currentDisplayName)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4761, err)
			return
		}

		var request struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
			Role        string `json:"role"`
		}
		if !decodeBodyInto(w, r, &request) {
			return
		}

		var sets []string
		var values []interface{}

		if request.Email != "" {
			email := normalizeEmail(request.Email)
			if !validEmail(email) {
				writeValidation(w, map[string]string{"email": "enter a valid email address"})
				return
			}
			if email != currentEmail {
				if conflict, err := b.emailTaken(email, id); err != nil {
					writeInternalError(w, r, 4762, err)
					return
				} else if conflict {
					writeMessage(w, http.StatusConflict, "a user with this email already exists")
					return
				}
				sets = append(sets, "email = ?")
				values = append(values, email)
			}
		}
		if request.DisplayName != "" {
			displayName := strings.TrimSpace(request.DisplayName)
			if displayName == "" {
				writeValidation(w, map[string]string{"display_name": "display name must not be empty"})
				return
			}
			if !strings.EqualFold(displayName, strings.TrimSpace(currentDisplayName)) {
				if conflict, err := b.displayNameTaken(displayName, id); err != nil {
					writeInternalError(w, r, 4763, err)
					return
				} else if conflict {
					writeMessage(w, http.StatusConflict, "a user with this display name already exists")
					return
				}
			}
			sets = append(sets, "display_name = ?")
			values = append(values, displayName)
		}
		if request.Role != "" {
			if !access.ValidRole(request.Role) {
				writeValidation(w, map[string]string{"role": "role must be user or admin"})
				return
			}
			sets = append(sets, "role = ?")
			values = append(values, request.Role)
		}
		if request.Password != "" {
			if len(request.Password) < minimumPasswordLength {
				writeValidation(w, map[string]string{"password": "password must be at least 6 characters"})
				return
			}
			digest, err := access.HashPassword(request.Password)
			if err != nil {
				writeInternalError(w, r, 4764, err)
				return
			}
			sets = append(sets, "password_hash = ?")
			values = append(values, digest)
		}

		if len(sets) == 0 {
			writeMessage(w, http.StatusBadRequest, "nothing to update")
			return
		}

		values = append(values, id)
		updateQuery := "UPDATE users SET " + strings.Join(sets, ", ") + ", updated_at = CURRENT_TIMESTAMP WHERE id = ?"
		if _, err := b.db.Exec(updateQuery, values...); err != nil {
			if csql.IsUniqueViolation(err) {
				writeMessage(w, http.StatusConflict, "a user with this email or display name already exists")
				return
			}
			writeInternalError(w, r, 4765, err)
			return
		}
		user, err := b.readUser(id)
		if err != nil {
			writeInternalError(w, r, 4766, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}

	remove := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		// administrators cannot delete their own account
		if session := access.SessionFromContext(r.Context()); session != nil && session.UserID == id {
			writeMessage(w, http.StatusBadRequest, "cannot delete your own account")
			return
		}
		result, err := b.db.Exec("DELETE FROM users WHERE id = ?", id)
		if err != nil {
			writeInternalError(w, r, 4767, err)
			return
		}
		count, err := result.RowsAffected()
		if err != nil {
			writeInternalError(w, r, 4768, err)
			return
		}
		if count == 0 {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}

	nillog.Debugln("  handle user routes: /users GET,POST")
	nillog.Debugln("  handle user routes: /users/{id} GET,PUT,DELETE")

	b.router.Handle("/users", b.guarded(list)).Methods(http.MethodGet)
	b.router.Handle("/users/{id}", b.guarded(read)).Methods(http.MethodGet)
	b.router.Handle("/users", b.guarded(create)).Methods(http.MethodPost)
	b.router.Handle("/users/{id}", b.guarded(update)).Methods(http.MethodPut)
	b.router.Handle("/users/{id}", b.guarded(remove)).Methods(http.MethodDelete)
}

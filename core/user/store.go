package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("user not found")

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (User, error) {
	in := struct {
		ID string `db:"user_id"`
	}{
		ID: id,
	}

	const q = `
	SELECT
		user_id, subject, email, is_admin, created_at, updated_at
	FROM users
	WHERE user_id = :user_id`

	var u User
	if err := database.NamedQueryStruct(ctx, db, q, in, &u); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user[%s]: %w", id, err)
	}
	return u, nil
}

func FetchBySubject(ctx context.Context, db sqlx.ExtContext, subject string) (User, error) {
	in := struct {
		Subject string `db:"subject"`
	}{
		Subject: subject,
	}

	const q = `
	SELECT
		user_id, subject, email, is_admin, created_at, updated_at
	FROM users
	WHERE subject = :subject`

	var u User
	if err := database.NamedQueryStruct(ctx, db, q, in, &u); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user by subject: %w", err)
	}
	return u, nil
}

// Ensure returns the user bound to the identity subject, creating the row on
// first sight and refreshing the email when the provider reports a new one.
func Ensure(ctx context.Context, db sqlx.ExtContext, id Identity) (User, error) {
	u, err := FetchBySubject(ctx, db, id.Subject)
	switch {
	case errors.Is(err, ErrNotFound):
		return create(ctx, db, id)
	case err != nil:
		return User{}, err
	}

	if id.Email != "" && id.Email != u.Email {
		u.Email = id.Email
		u.UpdatedAt = time.Now().UTC()

		const q = `
		UPDATE users SET
			email = :email,
			updated_at = :updated_at
		WHERE user_id = :user_id`

		if err := database.NamedExecContext(ctx, db, q, u); err != nil {
			return User{}, fmt.Errorf("updating email of user[%s]: %w", u.ID, err)
		}
	}
	return u, nil
}

func create(ctx context.Context, db sqlx.ExtContext, id Identity) (User, error) {
	now := time.Now().UTC()
	u := User{
		ID:        validate.GenerateID(),
		Subject:   id.Subject,
		Email:     id.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Two first requests of the same user may race here; the loser gets the
	// winner's row back.
	const q = `
	INSERT INTO users
		(user_id, subject, email, is_admin, created_at, updated_at)
	VALUES
		(:user_id, :subject, :email, :is_admin, :created_at, :updated_at)
	ON CONFLICT (subject) DO UPDATE SET subject = EXCLUDED.subject
	RETURNING user_id, subject, email, is_admin, created_at, updated_at`

	var out User
	if err := database.NamedQueryStruct(ctx, db, q, u, &out); err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return out, nil
}

// SetAdmin grants or revokes the admin role. Roles are managed out of band,
// there is no HTTP route for it.
func SetAdmin(ctx context.Context, db sqlx.ExtContext, id string, admin bool) error {
	in := struct {
		ID        string    `db:"user_id"`
		IsAdmin   bool      `db:"is_admin"`
		UpdatedAt time.Time `db:"updated_at"`
	}{
		ID:        id,
		IsAdmin:   admin,
		UpdatedAt: time.Now().UTC(),
	}

	const q = `
	UPDATE users SET
		is_admin = :is_admin,
		updated_at = :updated_at
	WHERE user_id = :user_id`

	n, err := database.NamedExecAffected(ctx, db, q, in)
	if err != nil {
		return fmt.Errorf("updating role of user[%s]: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

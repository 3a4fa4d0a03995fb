package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ernie/play4096/internal/domain"
)

// --- User methods ---

// CreateUser inserts a user and an empty profile in one transaction
func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.Profile, error) {
	profile := &domain.Profile{ID: uuid.NewString(), UserID: user.ID}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user (id, username, email, admin, level, password_hash, email_verified)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, user.ID, user.Username, nullString(user.Email), user.Admin, user.Level,
			user.PasswordHash, user.EmailVerified)
		if err != nil {
			return uniqueViolation(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_profile (id, user_id) VALUES (?, ?)
		`, profile.ID, profile.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE email = ?`, email)
	return scanUser(row)
}

// IsEmailAvailable reports whether no account uses the address
func (s *Store) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user WHERE email = ?`, email).Scan(&count)
	return count == 0, err
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM user ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// DeleteUser removes a user; dependent rows cascade
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateUserPassword replaces the stored password hash
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user SET password_hash = ? WHERE id = ?
	`, passwordHash, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateUserEmailAndSetVerified stores a confirmed address
func (s *Store) UpdateUserEmailAndSetVerified(ctx context.Context, id, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user SET email = ?, email_verified = TRUE WHERE id = ?
	`, email, id)
	if err != nil {
		return uniqueViolation(err)
	}
	return requireRow(result)
}

// SetUserEmailVerifiedIfMatches marks the address verified only when it
// is still the one on file. Reports whether a row changed.
func (s *Store) SetUserEmailVerifiedIfMatches(ctx context.Context, id, email string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user SET email_verified = TRUE WHERE id = ? AND email = ?
	`, id, email)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// UpdateUserDetails sets the email and display name. Changing the email
// clears its verified flag.
func (s *Store) UpdateUserDetails(ctx context.Context, id string, email, displayName *string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// SET expressions see the pre-update row
		result, err := tx.ExecContext(ctx, `
			UPDATE user SET
				email_verified = CASE WHEN email IS ? THEN email_verified ELSE FALSE END,
				email = ?
			WHERE id = ?
		`, nullString(email), nullString(email), id)
		if err != nil {
			return uniqueViolation(err)
		}
		if err := requireRow(result); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE user_profile SET display_name = ? WHERE user_id = ?
		`, nullString(displayName), id)
		return err
	})
}

// SetUserLevel changes the account tier
func (s *Store) SetUserLevel(ctx context.Context, id string, level domain.Level) error {
	result, err := s.db.ExecContext(ctx, `UPDATE user SET level = ? WHERE id = ?`, level, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetUserAdmin updates the admin status of a user
func (s *Store) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE user SET admin = ? WHERE id = ?`, admin, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// --- Profile methods ---

// GetProfile returns the profile of a user
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profile WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// EnsureProfile creates the profile row if it is missing and returns it
func (s *Store) EnsureProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profile (id, user_id) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, uuid.NewString(), userID)
	if err != nil {
		return nil, fmt.Errorf("ensuring profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// UpdateBestScore raises the best score when score beats it. Reports
// whether the score changed.
func (s *Store) UpdateBestScore(ctx context.Context, userID string, score int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_profile SET best_score = ?
		WHERE user_id = ? AND (best_score IS NULL OR best_score < ?)
	`, score, userID, score)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

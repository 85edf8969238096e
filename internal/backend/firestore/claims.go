package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	roleClaim          = "role"
	companyClaim       = "company_id"
	defaultUserTimeout = 5 * time.Second
)

// UserDirectory is the subset of the Firebase Admin auth client used for custom claims.
type UserDirectory interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]interface{}) error
}

// RoleReader reads a user's raw role through a privileged channel.
type RoleReader interface {
	Role(ctx context.Context, uid string) (string, error)
}

// ClaimsRoleReader reads and mirrors the role custom claim through the Admin SDK. The Admin
// SDK bypasses security rules, so the read never touches the profiles collection.
type ClaimsRoleReader struct {
	users   UserDirectory
	timeout time.Duration
}

// NewClaimsRoleReader wraps a Firebase auth client.
func NewClaimsRoleReader(users UserDirectory) *ClaimsRoleReader {
	return &ClaimsRoleReader{users: users, timeout: defaultUserTimeout}
}

// Role returns the role claim, or empty when the user or claim is missing.
func (r *ClaimsRoleReader) Role(ctx context.Context, uid string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.users.GetUser(ctx, uid)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("firebase.get_user: %w", err)
	}
	if record == nil {
		return "", nil
	}
	role, _ := record.CustomClaims[roleClaim].(string)
	return strings.TrimSpace(role), nil
}

// Mirror copies role and company onto the user's custom claims, keeping unrelated claims.
// Empty arguments leave the corresponding claim untouched.
func (r *ClaimsRoleReader) Mirror(ctx context.Context, uid, role, companyID string) error {
	if role == "" && companyID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.users.GetUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("firebase.get_user: %w", err)
	}
	claims := map[string]interface{}{}
	if record != nil {
		for k, v := range record.CustomClaims {
			claims[k] = v
		}
	}
	if role != "" {
		claims[roleClaim] = role
	}
	if companyID != "" {
		claims[companyClaim] = companyID
	}
	if err := r.users.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("firebase.set_claims: %w", err)
	}
	return nil
}

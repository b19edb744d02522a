package account

import (
	"context"
	"time"
)

type (
	// AuthService is the external identity provider.
	AuthService interface {
		// CreateIdentity signs a new identity up. On success the returned SignUp.Session,
		// not the caller's, is the session the auth service considers current.
		CreateIdentity(ctx context.Context, email, password string, meta Metadata) (SignUp, error)
		Authenticate(ctx context.Context, email, password string) (Session, error)
		CurrentSession(ctx context.Context, accessToken string) (Session, error)
	}

	// ObjectStorage stores binary assets in buckets.
	ObjectStorage interface {
		// Upload overwrites any existing object under key.
		Upload(ctx context.Context, sess *Session, bucket, key string, data []byte, contentType string) error
		PublicURL(bucket, key string) (string, bool)
	}

	// ProfileStore persists profiles in one table per role, with unique emails and teacher codes.
	ProfileStore interface {
		EmailTaken(ctx context.Context, sess *Session, role Role, email string) (bool, error)
		TeacherCodeTaken(ctx context.Context, sess *Session, code string) (bool, error)
		// InsertProfile returns ErrProfileExists when a unique constraint is violated.
		InsertProfile(ctx context.Context, sess *Session, profile Profile) error
		QueryProfiles(ctx context.Context, sess *Session, filter QueryFilter) ([]Profile, error)
		// SetProfileActive returns ErrProfileNotFound if no profile of role has email.
		SetProfileActive(ctx context.Context, sess *Session, role Role, email string, active bool) (Profile, error)
	}

	// Recorder observes provisioning steps and outcomes.
	Recorder interface {
		ObserveStep(step Step, elapsed time.Duration, err error)
		// ObserveOutcome is called once per attempt; kind is empty on success.
		ObserveOutcome(role Role, kind Kind, elapsed time.Duration)
	}
)

// Step of the provisioning workflow.
type Step string

const (
	StepDuplicateCheck Step = "duplicate_check"
	StepUpload         Step = "upload"
	StepCreateIdentity Step = "create_identity"
	StepRestoreSession Step = "restore_session"
	StepInsertProfile  Step = "insert_profile"
	StepRefreshSession Step = "refresh_session"
)

type nopRecorder struct{}

func (nopRecorder) ObserveStep(Step, time.Duration, error)   {}
func (nopRecorder) ObserveOutcome(Role, Kind, time.Duration) {}

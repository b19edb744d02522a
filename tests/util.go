package testutil

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	inmemdb "github.com/trezcool/presence/storage/database/inmem"
)

// NewConfig returns a test configuration without reading the environment.
func NewConfig() *core.Config {
	return &core.Config{
		Env:              "TEST",
		AppName:          "Presence",
		TestMode:         true,
		FrontendBaseURL:  "http://localhost:8081",
		DefaultFromEmail: mail.Address{Name: "Presence", Address: "noreply@localhost"},
		Supabase: core.SupabaseConfig{
			URL:         "http://supabase.test",
			AnonKey:     "anon-key",
			JWTSecret:   "test-jwt-secret",
			PhotoBucket: "student-photos",
		},
		Provisioning: core.ProvisioningConfig{
			StepTimeout: 5 * time.Second,
			LockTTL:     time.Minute,
			OpsEmail:    "ops@school.test",
		},
	}
}

// NewValidator returns a validator with every custom tag registered, and its translator.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	account.InitValidators(validate, translator)
	return validate, translator
}

// CallLog records the calls made to the fakes, in order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (cl *CallLog) add(format string, args ...interface{}) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.calls = append(cl.calls, fmt.Sprintf(format, args...))
}

func (cl *CallLog) Calls() []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return append([]string(nil), cl.calls...)
}

// Count returns the number of calls starting with prefix.
func (cl *CallLog) Count(prefix string) int {
	var n int
	for _, c := range cl.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (cl *CallLog) Len() int { return len(cl.Calls()) }

type Identity struct {
	ID           string
	Email        string
	PasswordHash []byte
	Metadata     account.Metadata
}

// FakeAuth is an in-memory AuthService. Every sign up adds an identity, even for a known email.
type FakeAuth struct {
	Log *CallLog

	CreateErr       error
	OmitIdentityID  bool
	AuthenticateErr error
	CurrentErr      error

	mu         sync.Mutex
	identities []Identity
	sessions   map[string]account.Session // {access token: session}
	seq        int
}

var _ account.AuthService = (*FakeAuth)(nil)

func NewFakeAuth(log *CallLog) *FakeAuth {
	return &FakeAuth{Log: log, sessions: make(map[string]account.Session)}
}

// AddAdmin registers an admin identity and returns its signed in session.
func (fa *FakeAuth) AddAdmin(t *testing.T, email, pwd string) *account.Session {
	t.Helper()
	fa.mu.Lock()
	defer fa.mu.Unlock()

	idt, err := fa.addIdentity(email, pwd, account.Metadata{FullName: "Admin", Role: account.RoleAdmin})
	if err != nil {
		t.Fatalf("AddAdmin() failed: %v", err)
	}
	sess := fa.newSession(idt)
	return &sess
}

func (fa *FakeAuth) Identities(email string) []Identity {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	var idts []Identity
	for _, idt := range fa.identities {
		if idt.Email == strings.ToLower(email) {
			idts = append(idts, idt)
		}
	}
	return idts
}

func (fa *FakeAuth) addIdentity(email, pwd string, meta account.Metadata) (Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.MinCost)
	if err != nil {
		return Identity{}, err
	}
	fa.seq++
	idt := Identity{
		ID:           fmt.Sprintf("00000000-0000-4000-8000-%012d", fa.seq),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Metadata:     meta,
	}
	fa.identities = append(fa.identities, idt)
	return idt, nil
}

func (fa *FakeAuth) newSession(idt Identity) account.Session {
	fa.seq++
	sess := account.Session{
		UserID:       idt.ID,
		Email:        idt.Email,
		Role:         idt.Metadata.Role,
		AccessToken:  fmt.Sprintf("access-%d", fa.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", fa.seq),
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}
	fa.sessions[sess.AccessToken] = sess
	return sess
}

func (fa *FakeAuth) CreateIdentity(_ context.Context, email, password string, meta account.Metadata) (account.SignUp, error) {
	fa.Log.add("auth.CreateIdentity %s", email)
	if fa.CreateErr != nil {
		return account.SignUp{}, fa.CreateErr
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	idt, err := fa.addIdentity(email, password, meta)
	if err != nil {
		return account.SignUp{}, err
	}
	sess := fa.newSession(idt)
	if fa.OmitIdentityID {
		return account.SignUp{Session: &sess}, nil
	}
	return account.SignUp{IdentityID: idt.ID, Session: &sess}, nil
}

func (fa *FakeAuth) Authenticate(_ context.Context, email, password string) (account.Session, error) {
	fa.Log.add("auth.Authenticate %s", email)
	if fa.AuthenticateErr != nil {
		return account.Session{}, fa.AuthenticateErr
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	for i := len(fa.identities) - 1; i >= 0; i-- {
		idt := fa.identities[i]
		if idt.Email != strings.ToLower(email) {
			continue
		}
		if err := bcrypt.CompareHashAndPassword(idt.PasswordHash, []byte(password)); err != nil {
			return account.Session{}, errors.New("invalid login credentials")
		}
		return fa.newSession(idt), nil
	}
	return account.Session{}, errors.New("invalid login credentials")
}

func (fa *FakeAuth) CurrentSession(_ context.Context, accessToken string) (account.Session, error) {
	fa.Log.add("auth.CurrentSession")
	if fa.CurrentErr != nil {
		return account.Session{}, fa.CurrentErr
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	sess, ok := fa.sessions[accessToken]
	if !ok {
		return account.Session{}, errors.New("invalid token")
	}
	return sess, nil
}

// FakeStorage is an in-memory ObjectStorage.
type FakeStorage struct {
	Log *CallLog

	UploadErr   error
	NoPublicURL bool

	mu      sync.Mutex
	Objects map[string][]byte // {bucket/key: data}
	Types   map[string]string // {bucket/key: content type}
}

var _ account.ObjectStorage = (*FakeStorage)(nil)

func NewFakeStorage(log *CallLog) *FakeStorage {
	return &FakeStorage{Log: log, Objects: make(map[string][]byte), Types: make(map[string]string)}
}

func (fs *FakeStorage) Upload(_ context.Context, _ *account.Session, bucket, key string, data []byte, contentType string) error {
	fs.Log.add("storage.Upload %s/%s", bucket, key)
	if fs.UploadErr != nil {
		return fs.UploadErr
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Objects[bucket+"/"+key] = data
	fs.Types[bucket+"/"+key] = contentType
	return nil
}

func (fs *FakeStorage) PublicURL(bucket, key string) (string, bool) {
	if fs.NoPublicURL {
		return "", false
	}
	return "http://storage.test/" + bucket + "/" + key, true
}

// FakeProfileStore wraps the in-memory store with call recording and error injection.
type FakeProfileStore struct {
	account.ProfileStore
	Log *CallLog

	LookupErr error
	InsertErr error
	// InsertedBy records the session used for each insert.
	InsertedBy []account.Session
}

func NewFakeProfileStore(log *CallLog) *FakeProfileStore {
	return &FakeProfileStore{ProfileStore: inmemdb.NewProfileStore(inmemdb.Open()), Log: log}
}

func (fps *FakeProfileStore) EmailTaken(ctx context.Context, sess *account.Session, role account.Role, email string) (bool, error) {
	fps.Log.add("profiles.EmailTaken %s %s", role, email)
	if fps.LookupErr != nil {
		return false, fps.LookupErr
	}
	return fps.ProfileStore.EmailTaken(ctx, sess, role, email)
}

func (fps *FakeProfileStore) TeacherCodeTaken(ctx context.Context, sess *account.Session, code string) (bool, error) {
	fps.Log.add("profiles.TeacherCodeTaken %s", code)
	if fps.LookupErr != nil {
		return false, fps.LookupErr
	}
	return fps.ProfileStore.TeacherCodeTaken(ctx, sess, code)
}

func (fps *FakeProfileStore) InsertProfile(ctx context.Context, sess *account.Session, prof account.Profile) error {
	fps.Log.add("profiles.InsertProfile %s %s", prof.Role, prof.Email)
	if sess != nil {
		fps.InsertedBy = append(fps.InsertedBy, *sess)
	}
	if fps.InsertErr != nil {
		return fps.InsertErr
	}
	return fps.ProfileStore.InsertProfile(ctx, sess, prof)
}

// CreateProfile inserts prof directly, without recording the call.
func (fps *FakeProfileStore) CreateProfile(t *testing.T, prof account.Profile) account.Profile {
	t.Helper()
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = time.Now().UTC()
	}
	if err := fps.ProfileStore.InsertProfile(context.Background(), nil, prof); err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	return prof
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// LoggerMock records log entries.
type LoggerMock struct {
	mu      sync.Mutex
	Entries []LogEntry
}

var _ core.Logger = (*LoggerMock)(nil)

func (l *LoggerMock) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Levels returns the level of every entry, in order.
func (l *LoggerMock) Levels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvls := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		lvls = append(lvls, e.Level)
	}
	return lvls
}

func (l *LoggerMock) Debug(msg string, args ...interface{})    { l.log("debug", msg, args) }
func (l *LoggerMock) Info(msg string, args ...interface{})     { l.log("info", msg, args) }
func (l *LoggerMock) Warn(msg string, args ...interface{})     { l.log("warn", msg, args) }
func (l *LoggerMock) Error(msg string, args ...interface{})    { l.log("error", msg, args) }
func (l *LoggerMock) Critical(msg string, args ...interface{}) { l.log("critical", msg, args) }
func (l *LoggerMock) Fatal(msg string, args ...interface{})    { l.log("fatal", msg, args) }

// MailerMock records messages instead of sending them.
type MailerMock struct {
	mu       sync.Mutex
	Messages []core.EmailMessage
}

var _ core.EmailService = (*MailerMock)(nil)

func (m *MailerMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.Messages = append(m.Messages, *msg)
	}
}

// Sent returns the messages sent with the given template.
func (m *MailerMock) Sent(templateName string) []core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []core.EmailMessage
	for _, msg := range m.Messages {
		if msg.TemplateName == templateName {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

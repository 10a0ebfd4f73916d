package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/config"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
)

// testNow anchors the mock clock to the wall clock: ParseToken validates exp
// against real time inside golang-jwt, so a fixed date would expire the tokens
// these tests mint.
var testNow = time.Now().UTC().Truncate(time.Second)

var testJWT = config.JWTConfig{
	Secret:        "test-secret",
	RefreshSecret: "test-refresh-secret",
	AccessTTL:     15 * time.Minute,
	RefreshTTL:    7 * 24 * time.Hour,
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockRepo) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, userID, passwordHash)
	return args.Error(0)
}

func (m *mockRepo) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRepo) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRepo) CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockRepo) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RefreshRecord), args.Error(1)
}

func (m *mockRepo) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepo) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRepo) CreateOTP(ctx context.Context, userID uuid.UUID, codeHash string, purpose OTPPurpose, expiresAt time.Time) error {
	args := m.Called(ctx, userID, codeHash, purpose, expiresAt)
	return args.Error(0)
}

func (m *mockRepo) GetActiveOTP(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OTPRecord, error) {
	args := m.Called(ctx, userID, purpose)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OTPRecord), args.Error(1)
}

func (m *mockRepo) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepo) ConsumeOTP(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type recordingMailer struct {
	codes []string
	fail  bool
}

func (r *recordingMailer) SendOTPEmail(to, name, code string, minutes int) error {
	if r.fail {
		return assert.AnError
	}
	r.codes = append(r.codes, code)
	return nil
}

type stubPhoneVerifier struct {
	phone string
	err   error
}

func (s *stubPhoneVerifier) VerifyPhoneToken(ctx context.Context, idToken string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.phone, nil
}

type fixture struct {
	repo    *mockRepo
	mailer  *recordingMailer
	clock   *clock.Mock
	service *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:   new(mockRepo),
		mailer: &recordingMailer{},
		clock:  clock.NewMock(testNow),
	}
	f.service = NewService(f.repo, f.mailer, nil, nil, testJWT, f.clock)
	return f
}

// withPhones rebuilds the fixture service with a phone verifier attached.
func (f *fixture) withPhones(phones PhoneVerifier) {
	f.service = NewService(f.repo, f.mailer, phones, nil, testJWT, f.clock)
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestRegister(t *testing.T) {
	t.Run("creates the account and sends a verification code", func(t *testing.T) {
		f := newFixture()

		f.repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Email == "anna@example.com" && u.Role == models.RoleBoth && u.PasswordHash != ""
		})).Return(nil)
		f.repo.On("CreateOTP", mock.Anything, mock.Anything, mock.Anything,
			PurposeVerifyEmail, testNow.Add(10*time.Minute)).Return(nil)
		f.repo.On("CreateRefreshToken", mock.Anything, mock.Anything, mock.Anything,
			testNow.Add(testJWT.RefreshTTL)).Return(nil)

		response, err := f.service.Register(context.Background(), &models.RegisterRequest{
			Email:       "Anna@Example.com",
			Password:    "correct-horse",
			DisplayName: "Anna",
			Role:        models.RoleBoth,
		})

		require.NoError(t, err)
		assert.Empty(t, response.User.PasswordHash)
		assert.NotEmpty(t, response.Tokens.AccessToken)
		assert.NotEmpty(t, response.Tokens.RefreshToken)
		require.Len(t, f.mailer.codes, 1)
		assert.Len(t, f.mailer.codes[0], 6)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		f := newFixture()
		f.repo.On("CreateUser", mock.Anything, mock.Anything).
			Return(common.NewConflictError("an account with this email already exists"))

		_, err := f.service.Register(context.Background(), &models.RegisterRequest{
			Email:       "anna@example.com",
			Password:    "correct-horse",
			DisplayName: "Anna",
			Role:        models.RolePassenger,
		})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeConflict, appErr.ErrorCode)
	})

	t.Run("mail failure does not block registration", func(t *testing.T) {
		f := newFixture()
		f.mailer.fail = true

		f.repo.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("CreateOTP", mock.Anything, mock.Anything, mock.Anything,
			PurposeVerifyEmail, mock.Anything).Return(nil)
		f.repo.On("CreateRefreshToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		response, err := f.service.Register(context.Background(), &models.RegisterRequest{
			Email:       "anna@example.com",
			Password:    "correct-horse",
			DisplayName: "Anna",
			Role:        models.RolePassenger,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, response.Tokens.AccessToken)
	})
}

func TestLogin(t *testing.T) {
	userID := uuid.New()

	t.Run("valid credentials issue a token pair", func(t *testing.T) {
		f := newFixture()
		user := &models.User{
			ID:           userID,
			Email:        "anna@example.com",
			PasswordHash: hashPassword(t, "correct-horse"),
			Role:         models.RoleBoth,
		}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)
		f.repo.On("CreateRefreshToken", mock.Anything, userID, mock.Anything, mock.Anything).Return(nil)

		response, err := f.service.Login(context.Background(), &models.LoginRequest{
			Email:    "anna@example.com",
			Password: "correct-horse",
		})

		require.NoError(t, err)
		assert.Empty(t, response.User.PasswordHash)

		claims, err := middleware.ParseToken(testJWT.Secret, response.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, models.RoleBoth, claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture()
		user := &models.User{
			ID:           userID,
			Email:        "anna@example.com",
			PasswordHash: hashPassword(t, "correct-horse"),
		}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)

		_, err := f.service.Login(context.Background(), &models.LoginRequest{
			Email:    "anna@example.com",
			Password: "wrong",
		})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
	})

	t.Run("unknown email reads the same as wrong password", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByEmail", mock.Anything, "nobody@example.com").
			Return(nil, common.NewNotFoundError("user not found", common.ErrNotFound))

		_, err := f.service.Login(context.Background(), &models.LoginRequest{
			Email:    "nobody@example.com",
			Password: "whatever",
		})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		assert.Equal(t, "invalid credentials", appErr.Message)
	})
}

func TestRefresh(t *testing.T) {
	userID := uuid.New()
	user := &models.User{ID: userID, Email: "anna@example.com", Role: models.RoleBoth}

	issue := func(t *testing.T, f *fixture) string {
		t.Helper()
		token, err := middleware.IssueToken(testJWT.RefreshSecret, user, testJWT.RefreshTTL, f.clock.Now())
		require.NoError(t, err)
		return token
	}

	t.Run("rotates the presented token", func(t *testing.T) {
		f := newFixture()
		token := issue(t, f)
		record := &RefreshRecord{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hashToken(token),
			ExpiresAt: testNow.Add(testJWT.RefreshTTL),
		}

		f.repo.On("GetRefreshToken", mock.Anything, hashToken(token)).Return(record, nil)
		f.repo.On("GetUserByID", mock.Anything, userID).Return(user, nil)
		f.repo.On("RevokeRefreshToken", mock.Anything, record.ID).Return(nil)
		f.repo.On("CreateRefreshToken", mock.Anything, userID, mock.Anything, mock.Anything).Return(nil)

		f.clock.Advance(time.Minute)
		pair, err := f.service.Refresh(context.Background(), token)

		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEqual(t, token, pair.RefreshToken)
		f.repo.AssertExpectations(t)
	})

	t.Run("replayed token kills the session family", func(t *testing.T) {
		f := newFixture()
		token := issue(t, f)
		revokedAt := testNow.Add(-time.Hour)
		record := &RefreshRecord{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hashToken(token),
			ExpiresAt: testNow.Add(testJWT.RefreshTTL),
			RevokedAt: &revokedAt,
		}

		f.repo.On("GetRefreshToken", mock.Anything, hashToken(token)).Return(record, nil)
		f.repo.On("RevokeAllRefreshTokens", mock.Anything, userID).Return(nil)

		_, err := f.service.Refresh(context.Background(), token)

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertCalled(t, "RevokeAllRefreshTokens", mock.Anything, userID)
	})

	t.Run("expired record is rejected", func(t *testing.T) {
		f := newFixture()
		token := issue(t, f)
		record := &RefreshRecord{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hashToken(token),
			ExpiresAt: testNow.Add(-time.Minute),
		}

		f.repo.On("GetRefreshToken", mock.Anything, hashToken(token)).Return(record, nil)

		_, err := f.service.Refresh(context.Background(), token)

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
	})

	t.Run("garbage token is rejected before any lookup", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.Refresh(context.Background(), "not-a-jwt")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "GetRefreshToken", mock.Anything, mock.Anything)
	})
}

func TestVerifyEmail(t *testing.T) {
	userID := uuid.New()

	t.Run("correct code verifies and consumes", func(t *testing.T) {
		f := newFixture()
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeVerifyEmail,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeVerifyEmail).Return(record, nil)
		f.repo.On("ConsumeOTP", mock.Anything, record.ID).Return(nil)
		f.repo.On("SetEmailVerified", mock.Anything, userID).Return(nil)

		err := f.service.VerifyEmail(context.Background(), userID, "123456")
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})

	t.Run("wrong code increments attempts", func(t *testing.T) {
		f := newFixture()
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeVerifyEmail,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeVerifyEmail).Return(record, nil)
		f.repo.On("IncrementOTPAttempts", mock.Anything, record.ID).Return(nil)

		err := f.service.VerifyEmail(context.Background(), userID, "654321")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "SetEmailVerified", mock.Anything, mock.Anything)
	})

	t.Run("exhausted attempts lock the code", func(t *testing.T) {
		f := newFixture()
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeVerifyEmail,
			Attempts:  otpMaxAttempts,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeVerifyEmail).Return(record, nil)

		err := f.service.VerifyEmail(context.Background(), userID, "123456")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "ConsumeOTP", mock.Anything, mock.Anything)
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("unknown email is acknowledged silently", func(t *testing.T) {
		f := newFixture()
		f.repo.On("GetUserByEmail", mock.Anything, "nobody@example.com").
			Return(nil, common.NewNotFoundError("user not found", common.ErrNotFound))

		err := f.service.ForgotPassword(context.Background(), "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, f.mailer.codes)
	})

	t.Run("known email gets a reset code", func(t *testing.T) {
		f := newFixture()
		user := &models.User{ID: uuid.New(), Email: "anna@example.com", DisplayName: "Anna"}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)
		f.repo.On("CreateOTP", mock.Anything, user.ID, mock.Anything,
			PurposeResetPassword, mock.Anything).Return(nil)

		err := f.service.ForgotPassword(context.Background(), "anna@example.com")
		require.NoError(t, err)
		require.Len(t, f.mailer.codes, 1)
	})
}

func TestVerifyResetCode(t *testing.T) {
	userID := uuid.New()
	user := &models.User{ID: userID, Email: "anna@example.com"}

	t.Run("valid code passes without consuming it", func(t *testing.T) {
		f := newFixture()
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeResetPassword,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeResetPassword).Return(record, nil)

		err := f.service.VerifyResetCode(context.Background(), &models.VerifyResetCodeRequest{
			Email: "anna@example.com",
			Code:  "123456",
		})
		require.NoError(t, err)
		f.repo.AssertNotCalled(t, "ConsumeOTP", mock.Anything, mock.Anything)
	})

	t.Run("wrong code still counts an attempt", func(t *testing.T) {
		f := newFixture()
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeResetPassword,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeResetPassword).Return(record, nil)
		f.repo.On("IncrementOTPAttempts", mock.Anything, record.ID).Return(nil)

		err := f.service.VerifyResetCode(context.Background(), &models.VerifyResetCodeRequest{
			Email: "anna@example.com",
			Code:  "000000",
		})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertExpectations(t)
	})
}

func TestVerifyPhoneForReset(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.VerifyPhoneForReset(context.Background(), &models.VerifyPhoneRequest{IDToken: "tok"})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, http.StatusServiceUnavailable, appErr.Code)
	})

	t.Run("proven phone mints a reset code", func(t *testing.T) {
		f := newFixture()
		f.withPhones(&stubPhoneVerifier{phone: "+31612345678"})
		user := &models.User{ID: uuid.New(), Email: "anna@example.com"}

		var storedHash string
		f.repo.On("GetUserByPhone", mock.Anything, "+31612345678").Return(user, nil)
		f.repo.On("CreateOTP", mock.Anything, user.ID, mock.Anything,
			PurposeResetPassword, testNow.Add(10*time.Minute)).
			Run(func(args mock.Arguments) { storedHash = args.String(2) }).Return(nil)

		result, err := f.service.VerifyPhoneForReset(context.Background(), &models.VerifyPhoneRequest{IDToken: "tok"})

		require.NoError(t, err)
		assert.Equal(t, "anna@example.com", result.Email)
		assert.Len(t, result.ResetCode, 6)
		assert.Equal(t, storedHash, hashToken(result.ResetCode))
		assert.Empty(t, f.mailer.codes)
	})

	t.Run("token proving an unknown number is rejected", func(t *testing.T) {
		f := newFixture()
		f.withPhones(&stubPhoneVerifier{phone: "+31600000000"})
		f.repo.On("GetUserByPhone", mock.Anything, "+31600000000").
			Return(nil, common.NewNotFoundError("user not found", common.ErrNotFound))

		_, err := f.service.VerifyPhoneForReset(context.Background(), &models.VerifyPhoneRequest{IDToken: "tok"})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "CreateOTP",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provider rejection is unauthorized", func(t *testing.T) {
		f := newFixture()
		f.withPhones(&stubPhoneVerifier{err: assert.AnError})

		_, err := f.service.VerifyPhoneForReset(context.Background(), &models.VerifyPhoneRequest{IDToken: "bad"})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
	})
}

func TestResetPassword(t *testing.T) {
	userID := uuid.New()

	t.Run("valid code resets and revokes sessions", func(t *testing.T) {
		f := newFixture()
		user := &models.User{ID: userID, Email: "anna@example.com"}
		record := &OTPRecord{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hashToken("123456"),
			Purpose:   PurposeResetPassword,
			ExpiresAt: testNow.Add(10 * time.Minute),
		}
		f.repo.On("GetUserByEmail", mock.Anything, "anna@example.com").Return(user, nil)
		f.repo.On("GetActiveOTP", mock.Anything, userID, PurposeResetPassword).Return(record, nil)
		f.repo.On("ConsumeOTP", mock.Anything, record.ID).Return(nil)
		f.repo.On("UpdatePassword", mock.Anything, userID, mock.MatchedBy(func(hash string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte("new-password")) == nil
		})).Return(nil)
		f.repo.On("RevokeAllRefreshTokens", mock.Anything, userID).Return(nil)

		err := f.service.ResetPassword(context.Background(), &models.ResetPasswordRequest{
			Email:       "anna@example.com",
			Code:        "123456",
			NewPassword: "new-password",
		})
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})
}

func TestChangePassword(t *testing.T) {
	userID := uuid.New()

	t.Run("wrong current password is rejected", func(t *testing.T) {
		f := newFixture()
		user := &models.User{ID: userID, PasswordHash: hashPassword(t, "old-password")}
		f.repo.On("GetUserByID", mock.Anything, userID).Return(user, nil)

		err := f.service.ChangePassword(context.Background(), userID, &models.ChangePasswordRequest{
			CurrentPassword: "guess",
			NewPassword:     "new-password",
		})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeleteAccount(t *testing.T) {
	userID := uuid.New()
	f := newFixture()

	f.repo.On("SoftDeleteUser", mock.Anything, userID).Return(nil)
	f.repo.On("RevokeAllRefreshTokens", mock.Anything, userID).Return(nil)

	err := f.service.DeleteAccount(context.Background(), userID)
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

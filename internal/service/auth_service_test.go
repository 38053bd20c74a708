package service

import (
	"edupath_backend/internal/config"
	"edupath_backend/internal/model"
	"edupath_backend/internal/repository"
	"edupath_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) *AuthService {
	db := newTestDB(t)
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret-test-secret-test-secret"
	cfg.JWT.ExpireTime = time.Hour
	return NewAuthService(repository.NewUserRepository(db), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newAuthService(t)

	user := &model.User{Name: "小明", Email: "student@example.com", Password: "password123"}
	require.NoError(t, svc.Register(user))
	assert.Equal(t, model.Student, user.Role)
	assert.NotEqual(t, "password123", user.Password) // 存的是哈希

	// 重复邮箱
	dup := &model.User{Name: "小红", Email: "student@example.com", Password: "password456"}
	assert.ErrorIs(t, svc.Register(dup), util.ErrEmailRegistered)

	token, err := svc.Login("student@example.com", "password123")
	require.NoError(t, err)

	claims, err := util.ParseJWT(token, "test-secret-test-secret-test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, model.Student, claims.Role)

	_, err = svc.Login("student@example.com", "wrong")
	assert.Error(t, err)
}

// Package middleware содержит промежуточные HTTP-обработчики:
// авторизацию Mini-App, админ-ключ, логирование, восстановление
// после паники и rate-limiting.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDFromContext возвращает id пользователя, положенный авторизацией.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID кладёт id пользователя в контекст. Используется в тестах.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// TelegramAuth проверяет подпись initData Telegram Mini-App из заголовка
// Authorization ("tma <initData>") и кладёт id пользователя в контекст.
// В dev-режиме вместо подписи принимается заголовок X-Debug-User-Id.
func TelegramAuth(botToken string, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if devMode {
				if raw := r.Header.Get("X-Debug-User-Id"); raw != "" {
					id, err := strconv.ParseInt(raw, 10, 64)
					if err == nil && id != 0 {
						next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
						return
					}
				}
			}

			auth := r.Header.Get("Authorization")
			initData, ok := strings.CutPrefix(auth, "tma ")
			if !ok {
				unauthorized(w)
				return
			}

			userID, err := verifyInitData(initData, botToken)
			if err != nil {
				log.WithError(err).Debug("Подпись initData не прошла проверку")
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// verifyInitData проверяет HMAC-подпись initData по схеме Telegram:
// секрет — HMAC-SHA256("WebAppData", токен бота), подпись — HMAC-SHA256
// секрета над отсортированными парами key=value без поля hash.
func verifyInitData(initData, botToken string) (int64, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("parse init data: %w", err)
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return 0, fmt.Errorf("init data has no hash")
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for k := range values {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(gotHash)) {
		return 0, fmt.Errorf("init data signature mismatch")
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return 0, fmt.Errorf("parse init data user: %w", err)
	}
	if user.ID == 0 {
		return 0, fmt.Errorf("init data has no user id")
	}
	return user.ID, nil
}

// AdminAuth пускает запрос дальше, только если заголовок X-Admin-Key
// совпадает с хешом Argon2id из конфигурации.
func AdminAuth(encodedHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" || !verifyArgon2id(key, encodedHash) {
				log.WithField("remote", r.RemoteAddr).Warn("Отклонён запрос к служебному API")
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// verifyArgon2id проверяет ключ по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, uint32(len(expectedHash)))
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"authentication required"}}`))
}

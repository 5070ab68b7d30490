package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// VerifyArgon2id проверяет ключ по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func VerifyArgon2id(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
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
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Сравниваем в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// requireWebhookKey пропускает запрос дальше, только если заголовок header
// содержит ключ, подходящий к hash. Тело до проверки не читается.
func requireWebhookKey(header, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(header)
			if key == "" || !VerifyArgon2id(key, hash) {
				log.WithFields(log.Fields{
					"remote": r.RemoteAddr,
					"path":   r.URL.Path,
				}).Warn("webhook rejected: bad verification key")
				writeError(w, http.StatusUnauthorized, common.ErrUnauthorized.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

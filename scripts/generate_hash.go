//go:build ignore

// generate_hash.go — утилита для генерации Argon2id хеша ключа верификации вебхука.
// Запуск: go run scripts/generate_hash.go [ключ]
//
// Без аргумента генерирует случайный ключ. Ключ указываете в кабинете
// платёжного шлюза, хеш — в .env как PAYMENT_WEBHOOK_KEY_HASH.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

func main() {
	key := ""
	if len(os.Args) > 1 {
		key = os.Args[1]
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			fmt.Printf("Ошибка генерации ключа: %v\n", err)
			os.Exit(1)
		}
		key = base64.RawURLEncoding.EncodeToString(raw)
		fmt.Println("Ключ верификации (укажите в настройках вебхука):")
		fmt.Println(key)
	}

	// Генерируем случайную соль (16 байт)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Printf("Ошибка генерации соли: %v\n", err)
		os.Exit(1)
	}

	// Параметры Argon2id
	var (
		memory      uint32 = 65536 // 64 MB
		iterations  uint32 = 3
		parallelism uint8  = 2
		keyLength   uint32 = 32
	)

	hash := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, keyLength)

	result := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	fmt.Println("Хеш ключа (вставьте в .env как PAYMENT_WEBHOOK_KEY_HASH):")
	fmt.Println(result)
}

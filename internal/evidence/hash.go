// Package evidence вычисляет отпечаток доказательства достижения
// для обнаружения повторных заявок.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash возвращает hex-отпечаток заявки по названию и источнику доказательства.
// Название нормализуется, чтобы повтор с другим регистром или лишними
// пробелами давал тот же отпечаток.
func Hash(title, source string) string {
	normalized := strings.ToLower(strings.TrimSpace(title))
	sum := sha256.Sum256([]byte(normalized + "|" + source))
	return hex.EncodeToString(sum[:])
}
